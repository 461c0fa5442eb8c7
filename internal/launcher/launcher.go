package launcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/constants"
	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/events"
	"github.com/tmuxagents/tmuxagents/internal/events/bus"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/internal/runtimes"
	"github.com/tmuxagents/tmuxagents/internal/store"
	"github.com/tmuxagents/tmuxagents/internal/worktree"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// placeholderWindow is the disposable window a lazily created session starts
// with. It is killed as soon as a real task window exists.
const placeholderWindow = "__lane_init__"

// LaunchOptions tweaks a single launch; all fields are optional.
type LaunchOptions struct {
	AdditionalInstructions string
	AskForContext          bool
	// Siblings lists peer task ids launched together as a bundle; each
	// prompt mentions the others.
	Siblings []string
}

// Launcher starts tasks in multiplexer windows and watches them for the
// completion sentinel.
type Launcher struct {
	store     *store.Store
	driver    mux.Driver
	hosts     *runtimes.Hosts
	registry  *runtimes.Registry
	worktrees *worktree.Manager
	log       *logger.Logger

	// warmupWait is swapped out by tests; production uses the profile's
	// warm-up interval.
	warmupWait func(ctx context.Context, d time.Duration)
	scanPeriod time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
}

// New assembles a Launcher. Call Close on shutdown to stop all sentinel
// watchers.
func New(st *store.Store, driver mux.Driver, hosts *runtimes.Hosts, registry *runtimes.Registry, wt *worktree.Manager, log *logger.Logger) *Launcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{
		store:     st,
		driver:    driver,
		hosts:     hosts,
		registry:  registry,
		worktrees: wt,
		log:       log,
		warmupWait: func(ctx context.Context, d time.Duration) {
			if d <= 0 {
				return
			}
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
		scanPeriod: constants.SentinelScanPeriod,
		baseCtx:    ctx,
		baseCancel: cancel,
		watchers:   map[string]context.CancelFunc{},
	}
}

// Close stops every sentinel watcher and waits for them to exit.
func (l *Launcher) Close() {
	l.baseCancel()
	l.wg.Wait()
}

// WatchDependencies subscribes to task completions so that queued dependents
// with autoStart launch as soon as their last dependency finishes.
func (l *Launcher) WatchDependencies(b bus.EventBus) (bus.Subscription, error) {
	return b.Subscribe(events.TaskCompleted, func(ctx context.Context, ev *bus.Event) error {
		var id string
		switch v := ev.Data["task"].(type) {
		case *v1.Task:
			id = v.ID
		case map[string]interface{}:
			id, _ = v["id"].(string)
		}
		if id == "" {
			return nil
		}
		l.launchUnblockedDependents(ctx, id)
		l.completeParentBox(ctx, id)
		return nil
	})
}

// completeParentBox moves a task box to done once the last of its
// sub-tasks completes.
func (l *Launcher) completeParentBox(ctx context.Context, completedID string) {
	task, err := l.store.GetTask(ctx, completedID)
	if err != nil || task.ParentTaskID == "" {
		return
	}
	parent, err := l.store.GetTask(ctx, task.ParentTaskID)
	if err != nil || !parent.IsTaskBox() || parent.KanbanColumn == v1.ColumnDone {
		return
	}
	for _, subID := range parent.SubtaskIDs {
		sub, err := l.store.GetTask(ctx, subID)
		if err != nil || sub.Status != v1.TaskCompleted {
			return
		}
	}
	if _, err := l.store.MoveTask(ctx, parent.ID, v1.ColumnDone); err != nil {
		l.log.Warn("complete task box", zap.String("taskId", parent.ID), zap.Error(err))
	}
}

// StartTask launches a task into its lane's session. When the task has
// incomplete dependencies and autoStart is set, the dependencies are
// cascade-launched instead and the task stays queued until they finish.
func (l *Launcher) StartTask(ctx context.Context, taskID string, opts LaunchOptions) (*v1.Task, error) {
	task, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.SwimLaneID == "" {
		return nil, apperrors.Precondition("task has no swim lane")
	}
	lane, err := l.store.GetSwimLane(ctx, task.SwimLaneID)
	if err != nil {
		return nil, err
	}

	if v1.ResolveFlag(task.AutoStart, lane.AutoStart) {
		blocked, err := l.cascadeDependencies(ctx, task)
		if err != nil {
			return nil, err
		}
		if blocked {
			task.Status = v1.TaskPending
			if err := l.store.SaveTask(ctx, task); err != nil {
				return nil, err
			}
			return task, nil
		}
	}

	rt, err := l.hosts.Mux(lane.RuntimeID)
	if err != nil {
		return nil, err
	}

	if err := l.ensureSession(ctx, rt, lane); err != nil {
		return nil, err
	}

	cwd := lane.WorkingDir
	if v1.ResolveFlag(task.UseWorktree, lane.UseWorktree) {
		path, err := l.worktrees.Create(ctx, rt, lane.WorkingDir, task.ShortID())
		if err != nil {
			return nil, err
		}
		task.WorktreePath = path
		cwd = path
	}

	provider := l.registry.ResolveProvider(task.AIProvider, lane.AIProvider)
	model := l.registry.ResolveModel(task.AIModel, lane.Model)
	launch, err := l.registry.InteractiveLaunch(provider, model)
	if err != nil {
		return nil, err
	}

	autoClose := v1.ResolveFlag(task.AutoClose, lane.AutoClose)
	if autoClose && task.SignalID == "" {
		task.SignalID = NewSignalID()
	}

	prompt, err := l.composePrompt(ctx, task, lane, opts, autoClose)
	if err != nil {
		return nil, err
	}

	windowName := WindowName(task)
	windowIdx, err := l.driver.NewWindow(ctx, rt, lane.SessionName, mux.NewWindowOptions{
		Name: windowName,
		CWD:  cwd,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "create task window")
	}
	// The shortId embedded in the name is the rebinding anchor; the shell
	// must not rename it.
	if err := l.driver.SetWindowOption(ctx, rt, lane.SessionName, windowIdx, "automatic-rename", "off"); err != nil {
		l.log.Warn("set automatic-rename off", zap.Error(err))
	}
	l.killPlaceholder(ctx, rt, lane.SessionName)

	if err := l.driver.SendKeys(ctx, rt, lane.SessionName, windowIdx, 0, launch, true); err != nil {
		l.teardownWindow(ctx, rt, lane.SessionName, windowIdx)
		return nil, apperrors.Wrap(err, "launch provider cli")
	}
	l.warmupWait(ctx, l.registry.Warmup(provider))
	if err := l.driver.SendKeys(ctx, rt, lane.SessionName, windowIdx, 0, prompt, true); err != nil {
		l.teardownWindow(ctx, rt, lane.SessionName, windowIdx)
		return nil, apperrors.Wrap(err, "send prompt")
	}

	now := v1.Now()
	pane := 0
	task.TmuxRuntimeID = lane.RuntimeID
	task.TmuxSessionName = lane.SessionName
	task.TmuxWindowIndex = &windowIdx
	task.TmuxPaneIndex = &pane
	task.Status = v1.TaskInProgress
	task.StartedAt = &now
	if err := l.store.SaveTaskQuiet(ctx, task); err != nil {
		return nil, err
	}
	moved, err := l.store.MoveTask(ctx, task.ID, v1.ColumnInProgress)
	if err != nil {
		return nil, err
	}
	task = moved

	if autoClose {
		l.watchSentinel(task, lane, rt)
	}
	l.log.Info("task launched",
		zap.String("taskId", task.ID),
		zap.String("session", lane.SessionName),
		zap.Int("window", windowIdx),
		zap.String("provider", provider))
	return task, nil
}

// StopTask kills the bound window, removes any worktree and resets the task
// to pending/todo.
func (l *Launcher) StopTask(ctx context.Context, taskID string) (*v1.Task, error) {
	task, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	l.stopWatcher(taskID)

	if task.HasBinding() {
		if rt, err := l.hosts.Mux(task.TmuxRuntimeID); err == nil {
			if err := l.driver.KillWindow(ctx, rt, task.TmuxSessionName, *task.TmuxWindowIndex); err != nil {
				l.log.Warn("kill task window", zap.String("taskId", taskID), zap.Error(err))
			}
			l.removeWorktree(ctx, rt, task)
		}
	}

	task.ClearBinding()
	task.WorktreePath = ""
	task.Status = v1.TaskPending
	task.KanbanColumn = v1.ColumnTodo
	task.StartedAt = nil
	if err := l.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// RestartTask stops and relaunches a task.
func (l *Launcher) RestartTask(ctx context.Context, taskID string, opts LaunchOptions) (*v1.Task, error) {
	if _, err := l.StopTask(ctx, taskID); err != nil {
		return nil, err
	}
	return l.StartTask(ctx, taskID, opts)
}

// AttachCoords is the read-only answer to an attach request.
type AttachCoords struct {
	RuntimeID   string `json:"runtimeId"`
	SessionName string `json:"sessionName"`
	WindowIndex int    `json:"windowIndex"`
	PaneIndex   int    `json:"paneIndex"`
}

// AttachTask returns where a client should attach to watch the task.
func (l *Launcher) AttachTask(ctx context.Context, taskID string) (*AttachCoords, error) {
	task, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.HasBinding() {
		return nil, apperrors.Precondition("task has no live window")
	}
	pane := 0
	if task.TmuxPaneIndex != nil {
		pane = *task.TmuxPaneIndex
	}
	return &AttachCoords{
		RuntimeID:   task.TmuxRuntimeID,
		SessionName: task.TmuxSessionName,
		WindowIndex: *task.TmuxWindowIndex,
		PaneIndex:   pane,
	}, nil
}

// ComposeDispatchPrompt renders the prompt the orchestrator sends when it
// hands a queued task to an idle agent. No sentinel clause: agent panes are
// tracked by the orchestrator's status scraper, not the sentinel watcher.
func (l *Launcher) ComposeDispatchPrompt(task *v1.Task, lane *v1.SwimLane) string {
	return ComposePrompt(PromptInput{Task: task, Lane: lane})
}

func (l *Launcher) composePrompt(ctx context.Context, task *v1.Task, lane *v1.SwimLane, opts LaunchOptions, autoClose bool) (string, error) {
	in := PromptInput{
		Task:                   task,
		Lane:                   lane,
		AdditionalInstructions: opts.AdditionalInstructions,
		AskForContext:          opts.AskForContext,
		AutoClose:              autoClose,
		SignalID:               task.SignalID,
	}
	for _, subID := range task.SubtaskIDs {
		sub, err := l.store.GetTask(ctx, subID)
		if err != nil {
			return "", apperrors.Wrap(err, "load subtask")
		}
		in.Subtasks = append(in.Subtasks, sub)
	}
	for _, sibID := range opts.Siblings {
		if sibID == task.ID {
			continue
		}
		sib, err := l.store.GetTask(ctx, sibID)
		if err != nil {
			return "", apperrors.Wrap(err, "load sibling task")
		}
		in.Siblings = append(in.Siblings, sib)
	}
	if task.TargetRole != "" {
		if persona := l.lookupPersona(ctx, task.TargetRole); persona != "" {
			in.Persona = persona
		}
	}
	return ComposePrompt(in), nil
}

// lookupPersona returns the content of the first template matching the
// task's role, if any.
func (l *Launcher) lookupPersona(ctx context.Context, role string) string {
	templates, err := l.store.ListTemplates(ctx, role)
	if err != nil || len(templates) == 0 {
		return ""
	}
	return templates[0].Content
}

// ensureSession creates the lane's session lazily with a placeholder window
// and marks the lane active.
func (l *Launcher) ensureSession(ctx context.Context, rt mux.Runtime, lane *v1.SwimLane) error {
	exists, err := mux.HasSession(ctx, l.driver, rt, lane.SessionName)
	if err != nil {
		return err
	}
	if !exists {
		err := l.driver.NewSession(ctx, rt, lane.SessionName, mux.NewSessionOptions{
			CWD:               lane.WorkingDir,
			InitialWindowName: placeholderWindow,
		})
		if err != nil {
			return apperrors.Wrap(err, "create lane session")
		}
		if err := l.driver.SetWindowOption(ctx, rt, lane.SessionName, 0, "automatic-rename", "off"); err != nil {
			l.log.Warn("set automatic-rename off", zap.Error(err))
		}
	}
	if !lane.SessionActive {
		lane.SessionActive = true
		if err := l.store.SaveSwimLane(ctx, lane); err != nil {
			return err
		}
	}
	return nil
}

// killPlaceholder removes the __lane_init__ window once a real window exists.
func (l *Launcher) killPlaceholder(ctx context.Context, rt mux.Runtime, session string) {
	tree, err := l.driver.GetTreeFresh(ctx, rt)
	if err != nil {
		return
	}
	for _, s := range tree {
		if s.Name != session {
			continue
		}
		placeholderIdx, real := -1, 0
		for _, w := range s.Windows {
			if w.Name == placeholderWindow {
				placeholderIdx = w.Index
			} else {
				real++
			}
		}
		if placeholderIdx >= 0 && real >= 1 {
			if err := l.driver.KillWindow(ctx, rt, session, placeholderIdx); err != nil {
				l.log.Debug("kill placeholder window", zap.Error(err))
			}
		}
		return
	}
}

// cascadeDependencies force-enables auto flags on every incomplete
// dependency and launches those still in todo/backlog. It reports whether
// the task must wait for at least one dependency.
func (l *Launcher) cascadeDependencies(ctx context.Context, task *v1.Task) (blocked bool, err error) {
	for _, depID := range task.DependsOn {
		dep, err := l.store.GetTask(ctx, depID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return false, err
		}
		if dep.KanbanColumn == v1.ColumnDone {
			continue
		}
		blocked = true

		dep.AutoStart = v1.Bool(true)
		dep.AutoPilot = v1.Bool(true)
		dep.AutoClose = v1.Bool(true)
		if err := l.store.SaveTask(ctx, dep); err != nil {
			return false, err
		}
		launchable := (dep.KanbanColumn == v1.ColumnTodo || dep.KanbanColumn == v1.ColumnBacklog) && dep.SwimLaneID != ""
		if !launchable {
			continue
		}
		if _, err := l.StartTask(ctx, dep.ID, LaunchOptions{}); err != nil {
			l.log.Warn("cascade launch dependency failed",
				zap.String("taskId", task.ID),
				zap.String("dependencyId", dep.ID),
				zap.Error(err))
		}
	}
	return blocked, nil
}

// launchUnblockedDependents starts every autoStart task that was waiting on
// the just-completed one and has no other incomplete dependency.
func (l *Launcher) launchUnblockedDependents(ctx context.Context, completedID string) {
	tasks, err := l.store.ListTasks(ctx)
	if err != nil {
		l.log.Warn("list tasks for dependency check", zap.Error(err))
		return
	}
	for _, t := range tasks {
		if t.SwimLaneID == "" || !dependsOn(t, completedID) {
			continue
		}
		if t.KanbanColumn != v1.ColumnTodo && t.KanbanColumn != v1.ColumnBacklog {
			continue
		}
		lane, err := l.store.GetSwimLane(ctx, t.SwimLaneID)
		if err != nil || !v1.ResolveFlag(t.AutoStart, lane.AutoStart) {
			continue
		}
		if l.hasIncompleteDependency(ctx, t) {
			continue
		}
		if _, err := l.StartTask(ctx, t.ID, LaunchOptions{}); err != nil {
			l.log.Warn("launch unblocked dependent", zap.String("taskId", t.ID), zap.Error(err))
		}
	}
}

func (l *Launcher) hasIncompleteDependency(ctx context.Context, task *v1.Task) bool {
	for _, depID := range task.DependsOn {
		dep, err := l.store.GetTask(ctx, depID)
		if err != nil {
			continue
		}
		if dep.KanbanColumn != v1.ColumnDone {
			return true
		}
	}
	return false
}

func dependsOn(task *v1.Task, id string) bool {
	for _, depID := range task.DependsOn {
		if depID == id {
			return true
		}
	}
	return false
}

func (l *Launcher) teardownWindow(ctx context.Context, rt mux.Runtime, session string, window int) {
	if err := l.driver.KillWindow(ctx, rt, session, window); err != nil {
		l.log.Debug("teardown window after failed launch", zap.Error(err))
	}
}

func (l *Launcher) removeWorktree(ctx context.Context, rt mux.Runtime, task *v1.Task) {
	if task.WorktreePath == "" || task.SwimLaneID == "" {
		return
	}
	lane, err := l.store.GetSwimLane(ctx, task.SwimLaneID)
	if err != nil {
		return
	}
	if err := l.worktrees.Remove(ctx, rt, lane.WorkingDir, task.WorktreePath, task.ShortID()); err != nil {
		l.log.Warn("remove worktree", zap.String("taskId", task.ID), zap.Error(err))
	}
}
