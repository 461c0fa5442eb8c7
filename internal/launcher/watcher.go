package launcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/constants"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/internal/runtimes"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

const watcherCaptureLines = 200

// watchTarget is everything a sentinel watcher needs, captured at spawn so
// the loop never touches shared task state.
type watchTarget struct {
	taskID    string
	signalID  string
	provider  string
	runtime   mux.Runtime
	session   string
	window    int
	pane      int
	autoPilot bool
}

// watchSentinel spawns a watcher goroutine for a freshly launched task,
// replacing any previous watcher for the same task.
func (l *Launcher) watchSentinel(task *v1.Task, lane *v1.SwimLane, rt mux.Runtime) {
	if task.SignalID == "" || task.TmuxWindowIndex == nil {
		return
	}
	pane := 0
	if task.TmuxPaneIndex != nil {
		pane = *task.TmuxPaneIndex
	}
	target := watchTarget{
		taskID:    task.ID,
		signalID:  task.SignalID,
		provider:  l.registry.ResolveProvider(task.AIProvider, lane.AIProvider),
		runtime:   rt,
		session:   task.TmuxSessionName,
		window:    *task.TmuxWindowIndex,
		pane:      pane,
		autoPilot: v1.ResolveFlag(task.AutoPilot, lane.AutoPilot),
	}

	l.mu.Lock()
	if cancel, ok := l.watchers[task.ID]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(l.baseCtx)
	l.watchers[task.ID] = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.stopWatcher(target.taskID)
		l.runWatcher(ctx, target)
	}()
}

// RearmWatchers restarts sentinel watchers for bound in-progress tasks that
// carry a signal id. Called after daemon restart once the reconciler has
// re-established bindings.
func (l *Launcher) RearmWatchers(ctx context.Context) {
	tasks, err := l.store.ListBoundTasks(ctx)
	if err != nil {
		l.log.Warn("list bound tasks for watcher rearm", zap.Error(err))
		return
	}
	for _, task := range tasks {
		if task.SignalID == "" || task.KanbanColumn != v1.ColumnInProgress || task.SwimLaneID == "" {
			continue
		}
		lane, err := l.store.GetSwimLane(ctx, task.SwimLaneID)
		if err != nil {
			continue
		}
		rt, err := l.hosts.Mux(task.TmuxRuntimeID)
		if err != nil {
			continue
		}
		l.watchSentinel(task, lane, rt)
	}
}

func (l *Launcher) stopWatcher(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancel, ok := l.watchers[taskID]; ok {
		cancel()
		delete(l.watchers, taskID)
	}
}

// runWatcher polls the pane until the sentinel appears or the context ends.
func (l *Launcher) runWatcher(ctx context.Context, t watchTarget) {
	ticker := time.NewTicker(l.scanPeriod)
	defer ticker.Stop()

	var waitingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		captured, err := l.driver.Capture(ctx, t.runtime, t.session, t.window, t.pane, watcherCaptureLines)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Debug("sentinel capture failed", zap.String("taskId", t.taskID), zap.Error(err))
			continue
		}

		if summary, found := FindSentinel(captured, t.signalID); found {
			l.completeWatchedTask(ctx, t.taskID, summary)
			return
		}

		if t.autoPilot {
			waitingSince = l.maybeInjectContinue(ctx, t, captured, waitingSince)
		}
	}
}

// completeWatchedTask records the summary and moves the task to done.
// MoveTask stamps doneAt and fires task.completed exactly once, so a racing
// second watcher cannot double-complete.
func (l *Launcher) completeWatchedTask(ctx context.Context, taskID, summary string) {
	task, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		l.log.Warn("load task on sentinel completion", zap.String("taskId", taskID), zap.Error(err))
		return
	}
	task.Output = summary
	task.Status = v1.TaskCompleted
	if task.VerificationStatus == "" {
		task.VerificationStatus = v1.VerificationNone
	}
	if err := l.store.SaveTaskQuiet(ctx, task); err != nil {
		l.log.Warn("persist sentinel summary", zap.String("taskId", taskID), zap.Error(err))
		return
	}
	if _, err := l.store.MoveTask(ctx, taskID, v1.ColumnDone); err != nil {
		l.log.Warn("move task to done", zap.String("taskId", taskID), zap.Error(err))
		return
	}
	l.log.Info("sentinel completion", zap.String("taskId", taskID))
}

// maybeInjectContinue sends one Enter keypress when the pane has reported
// waiting for longer than the grace interval. Best effort: the status
// heuristic can mistake menus for prompts.
func (l *Launcher) maybeInjectContinue(ctx context.Context, t watchTarget, captured string, waitingSince time.Time) time.Time {
	if l.registry.DetectStatus(t.provider, captured) != runtimes.StatusWaiting {
		return time.Time{}
	}
	if waitingSince.IsZero() {
		return time.Now()
	}
	if time.Since(waitingSince) < constants.AutoPilotGrace {
		return waitingSince
	}
	if err := l.driver.SendKeys(ctx, t.runtime, t.session, t.window, t.pane, "", true); err != nil {
		l.log.Debug("auto-pilot inject", zap.String("taskId", t.taskID), zap.Error(err))
	}
	return time.Time{}
}
