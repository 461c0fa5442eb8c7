// Package reconcile brings the daemon's picture of sessions and bindings
// back in line with multiplexer ground truth after crashes and restarts.
// It never destroys user sessions; it only adjusts stored state.
package reconcile

import (
	"context"
	"strings"
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

type Reconciler struct {
	store     *store.Store
	driver    mux.Driver
	hosts     *runtimes.Hosts
	worktrees *worktree.Manager
	log       *logger.Logger
	period    time.Duration
}

func New(st *store.Store, driver mux.Driver, hosts *runtimes.Hosts, wt *worktree.Manager, period time.Duration, log *logger.Logger) *Reconciler {
	if period <= 0 {
		period = constants.ReconcilePeriod
	}
	return &Reconciler{store: st, driver: driver, hosts: hosts, worktrees: wt, log: log, period: period}
}

// Run reconciles immediately, then on every tick until the context ends.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Reconcile(ctx)
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile runs one full pass: dead sessions, stale bindings, orphaned
// in-progress tasks.
func (r *Reconciler) Reconcile(ctx context.Context) {
	trees := map[string][]mux.Session{}
	r.reconcileLanes(ctx, trees)
	r.reconcileBindings(ctx, trees)
	r.rebindOrphans(ctx, trees)
}

// tree returns the session tree for a runtime, fetched at most once per
// pass. A fetch failure yields nil; callers must treat that as unknown, not
// as an empty server.
func (r *Reconciler) tree(ctx context.Context, trees map[string][]mux.Session, runtimeID string) ([]mux.Session, bool) {
	if cached, ok := trees[runtimeID]; ok {
		return cached, cached != nil
	}
	rt, err := r.hosts.Mux(runtimeID)
	if err != nil {
		trees[runtimeID] = nil
		return nil, false
	}
	tree, err := r.driver.GetTreeFresh(ctx, rt)
	if err != nil {
		r.log.Debug("reconcile tree fetch", zap.String("runtimeId", runtimeID), zap.Error(err))
		trees[runtimeID] = nil
		return nil, false
	}
	if tree == nil {
		tree = []mux.Session{}
	}
	trees[runtimeID] = tree
	return tree, true
}

// reconcileLanes clears sessionActive on lanes whose session vanished, and
// drops every task binding into those sessions.
func (r *Reconciler) reconcileLanes(ctx context.Context, trees map[string][]mux.Session) {
	lanes, err := r.store.ListSwimLanes(ctx)
	if err != nil {
		r.log.Warn("reconcile list lanes", zap.Error(err))
		return
	}
	for _, lane := range lanes {
		if !lane.SessionActive {
			continue
		}
		tree, ok := r.tree(ctx, trees, lane.RuntimeID)
		if !ok {
			continue
		}
		if findSession(tree, lane.SessionName) != nil {
			continue
		}
		lane.SessionActive = false
		if err := r.store.SaveSwimLane(ctx, lane); err != nil {
			r.log.Warn("reconcile lane", zap.String("laneId", lane.ID), zap.Error(err))
			continue
		}
		r.clearBindingsInto(ctx, lane.RuntimeID, lane.SessionName)
		r.log.Info("lane session gone",
			zap.String("laneId", lane.ID),
			zap.String("session", lane.SessionName))
	}
}

func (r *Reconciler) clearBindingsInto(ctx context.Context, runtimeID, session string) {
	tasks, err := r.store.ListBoundTasks(ctx)
	if err != nil {
		r.log.Warn("reconcile list bound tasks", zap.Error(err))
		return
	}
	for _, task := range tasks {
		if task.TmuxRuntimeID != runtimeID || task.TmuxSessionName != session {
			continue
		}
		r.pruneWorktree(ctx, task)
		task.ClearBinding()
		if err := r.store.SaveTask(ctx, task); err != nil {
			r.log.Warn("reconcile clear binding", zap.String("taskId", task.ID), zap.Error(err))
		}
	}
}

// pruneWorktree removes the worktree of a task whose binding is about to
// be cleared. Must run before ClearBinding: it needs the bound runtime.
func (r *Reconciler) pruneWorktree(ctx context.Context, task *v1.Task) {
	if task.WorktreePath == "" || task.SwimLaneID == "" {
		return
	}
	rt, err := r.hosts.Mux(task.TmuxRuntimeID)
	if err != nil {
		return
	}
	lane, err := r.store.GetSwimLane(ctx, task.SwimLaneID)
	if err != nil {
		return
	}
	if err := r.worktrees.Remove(ctx, rt, lane.WorkingDir, task.WorktreePath, task.ShortID()); err != nil {
		r.log.Warn("prune worktree", zap.String("taskId", task.ID), zap.Error(err))
		return
	}
	task.WorktreePath = ""
}

// reconcileBindings verifies each bound task still has its window; on a
// stale index it rebinds by the shortId embedded in the window name, or
// clears the binding.
func (r *Reconciler) reconcileBindings(ctx context.Context, trees map[string][]mux.Session) {
	tasks, err := r.store.ListBoundTasks(ctx)
	if err != nil {
		r.log.Warn("reconcile list bound tasks", zap.Error(err))
		return
	}
	for _, task := range tasks {
		tree, ok := r.tree(ctx, trees, task.TmuxRuntimeID)
		if !ok {
			continue
		}
		session := findSession(tree, task.TmuxSessionName)
		if session == nil {
			r.pruneWorktree(ctx, task)
			task.ClearBinding()
			if err := r.store.SaveTask(ctx, task); err != nil {
				r.log.Warn("reconcile clear binding", zap.String("taskId", task.ID), zap.Error(err))
			}
			continue
		}
		if windowAt(session, *task.TmuxWindowIndex) != nil {
			continue
		}
		if w := windowByAnchor(session, task.ShortID()); w != nil {
			idx := w.Index
			task.TmuxWindowIndex = &idx
			r.log.Info("task rebound",
				zap.String("taskId", task.ID),
				zap.Int("window", idx))
		} else {
			r.pruneWorktree(ctx, task)
			task.ClearBinding()
		}
		if err := r.store.SaveTask(ctx, task); err != nil {
			r.log.Warn("reconcile rebind", zap.String("taskId", task.ID), zap.Error(err))
		}
	}
}

// rebindOrphans recovers in-progress autoStart tasks that lost their
// binding while their lane session is still live and attached. This covers
// daemon restarts with task windows still running.
func (r *Reconciler) rebindOrphans(ctx context.Context, trees map[string][]mux.Session) {
	tasks, err := r.store.ListTasksByColumn(ctx, v1.ColumnInProgress)
	if err != nil {
		r.log.Warn("reconcile list in-progress", zap.Error(err))
		return
	}
	for _, task := range tasks {
		if task.HasBinding() || task.SwimLaneID == "" {
			continue
		}
		lane, err := r.store.GetSwimLane(ctx, task.SwimLaneID)
		if err != nil {
			continue
		}
		if !v1.ResolveFlag(task.AutoStart, lane.AutoStart) {
			continue
		}
		tree, ok := r.tree(ctx, trees, lane.RuntimeID)
		if !ok {
			continue
		}
		session := findSession(tree, lane.SessionName)
		if session == nil {
			continue
		}
		rt, err := r.hosts.Mux(lane.RuntimeID)
		if err != nil {
			continue
		}
		attached, err := r.driver.SessionAttached(ctx, rt, lane.SessionName)
		if err != nil || !attached {
			continue
		}
		w := windowByAnchor(session, task.ShortID())
		if w == nil {
			continue
		}
		idx, pane := w.Index, 0
		task.TmuxRuntimeID = lane.RuntimeID
		task.TmuxSessionName = lane.SessionName
		task.TmuxWindowIndex = &idx
		task.TmuxPaneIndex = &pane
		if err := r.store.SaveTask(ctx, task); err != nil {
			r.log.Warn("reconcile rebind orphan", zap.String("taskId", task.ID), zap.Error(err))
			continue
		}
		r.log.Info("orphaned task rebound",
			zap.String("taskId", task.ID),
			zap.Int("window", idx))
	}
}

func findSession(tree []mux.Session, name string) *mux.Session {
	for i := range tree {
		if tree[i].Name == name {
			return &tree[i]
		}
	}
	return nil
}

func windowAt(session *mux.Session, index int) *mux.Window {
	for i := range session.Windows {
		if session.Windows[i].Index == index {
			return &session.Windows[i]
		}
	}
	return nil
}

// windowByAnchor finds the window whose name carries the task's shortId.
func windowByAnchor(session *mux.Session, shortID string) *mux.Window {
	for i := range session.Windows {
		if strings.Contains(session.Windows[i].Name, shortID) {
			return &session.Windows[i]
		}
	}
	return nil
}
