package autoclose

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/constants"
	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/internal/runtimes"
	"github.com/tmuxagents/tmuxagents/internal/store"
	"github.com/tmuxagents/tmuxagents/internal/worktree"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

const captureLines = 500

const summarySeparator = "\n\n**Auto-close session summary:**\n\n"

// Monitor periodically sweeps done tasks whose windows are still alive and
// closes them after a grace delay.
type Monitor struct {
	store     *store.Store
	driver    mux.Driver
	hosts     *runtimes.Hosts
	worktrees *worktree.Manager
	log       *logger.Logger

	period time.Duration
	delay  time.Duration
	now    func() int64

	// processing guards against a slow sweep overlapping the next tick.
	mu         sync.Mutex
	processing map[string]bool
}

// New builds a Monitor. Zero period or delay fall back to the defaults.
func New(st *store.Store, driver mux.Driver, hosts *runtimes.Hosts, wt *worktree.Manager, period, delay time.Duration, log *logger.Logger) *Monitor {
	if period <= 0 {
		period = constants.AutoClosePeriod
	}
	if delay <= 0 {
		delay = constants.AutoCloseDelay
	}
	return &Monitor{
		store:      st,
		driver:     driver,
		hosts:      hosts,
		worktrees:  wt,
		log:        log,
		period:     period,
		delay:      delay,
		now:        v1.Now,
		processing: map[string]bool{},
	}
}

// Run sweeps until the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep closes every done task that kept its window past the delay.
func (m *Monitor) Sweep(ctx context.Context) {
	tasks, err := m.store.ListBoundTasks(ctx)
	if err != nil {
		m.log.Warn("list bound tasks", zap.Error(err))
		return
	}
	now := m.now()
	for _, task := range tasks {
		if task.KanbanColumn != v1.ColumnDone || task.DoneAt == nil {
			continue
		}
		if now-*task.DoneAt < m.delay.Milliseconds() {
			continue
		}
		if !m.claim(task.ID) {
			continue
		}
		m.closeTask(ctx, task)
		m.release(task.ID)
	}
}

func (m *Monitor) claim(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processing[taskID] {
		return false
	}
	m.processing[taskID] = true
	return true
}

func (m *Monitor) release(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processing, taskID)
}

// closeTask captures the pane, appends the summary to the description,
// kills the window and clears the binding.
func (m *Monitor) closeTask(ctx context.Context, task *v1.Task) {
	rt, err := m.hosts.Mux(task.TmuxRuntimeID)
	if err != nil {
		m.log.Warn("auto-close runtime lookup", zap.String("taskId", task.ID), zap.Error(err))
		return
	}

	pane := 0
	if task.TmuxPaneIndex != nil {
		pane = *task.TmuxPaneIndex
	}
	captured, err := m.driver.Capture(ctx, rt, task.TmuxSessionName, *task.TmuxWindowIndex, pane, captureLines)
	if err != nil {
		// The window may already be gone; close the binding either way.
		m.log.Debug("auto-close capture", zap.String("taskId", task.ID), zap.Error(err))
	}

	summary := Summarize(captured)
	task.Description += summarySeparator + summary

	if err := m.driver.KillWindow(ctx, rt, task.TmuxSessionName, *task.TmuxWindowIndex); err != nil {
		m.log.Debug("auto-close kill window", zap.String("taskId", task.ID), zap.Error(err))
	}
	m.removeWorktree(ctx, rt, task)

	task.ClearBinding()
	if err := m.store.FinishAutoClose(ctx, task); err != nil {
		m.log.Warn("persist auto-closed task", zap.String("taskId", task.ID), zap.Error(err))
		return
	}
	m.log.Info("task auto-closed", zap.String("taskId", task.ID))
}

func (m *Monitor) removeWorktree(ctx context.Context, rt mux.Runtime, task *v1.Task) {
	if m.worktrees == nil || task.WorktreePath == "" || task.SwimLaneID == "" {
		return
	}
	lane, err := m.store.GetSwimLane(ctx, task.SwimLaneID)
	if err != nil {
		return
	}
	if err := m.worktrees.Remove(ctx, rt, lane.WorkingDir, task.WorktreePath, task.ShortID()); err != nil {
		m.log.Warn("auto-close remove worktree", zap.String("taskId", task.ID), zap.Error(err))
		return
	}
	task.WorktreePath = ""
}
