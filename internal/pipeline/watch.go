package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/events"
	"github.com/tmuxagents/tmuxagents/internal/events/bus"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// WatchTasks ties stage progress to task completions: a stage completes
// once every task it generated is done, a failed task fails its stage.
func (e *Engine) WatchTasks(b bus.EventBus) (bus.Subscription, error) {
	sub, err := b.Subscribe(events.TaskCompleted, func(ctx context.Context, ev *bus.Event) error {
		if task := eventTask(ev); task != nil && task.PipelineStageID != "" {
			e.onStageTaskDone(ctx, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func eventTask(ev *bus.Event) *v1.Task {
	switch v := ev.Data["task"].(type) {
	case *v1.Task:
		return v
	case map[string]interface{}:
		id, _ := v["id"].(string)
		stageID, _ := v["pipelineStageId"].(string)
		if id == "" {
			return nil
		}
		return &v1.Task{ID: id, PipelineStageID: stageID}
	default:
		return nil
	}
}

// onStageTaskDone checks whether the completed task was the last one of its
// stage and, if so, records the stage result on every active run of the
// owning pipeline.
func (e *Engine) onStageTaskDone(ctx context.Context, task *v1.Task) {
	siblings, err := e.store.ListTasksByStage(ctx, task.PipelineStageID)
	if err != nil {
		e.log.Warn("list stage tasks", zap.String("stageId", task.PipelineStageID), zap.Error(err))
		return
	}
	var outputs []string
	for _, t := range siblings {
		if t.Status == v1.TaskFailed {
			e.failStageEverywhere(ctx, task.PipelineStageID, t.ErrorMessage)
			return
		}
		if t.KanbanColumn != v1.ColumnDone {
			return
		}
		if t.Output != "" {
			outputs = append(outputs, t.Output)
		}
	}

	combined := ""
	for i, out := range outputs {
		if i > 0 {
			combined += "\n\n"
		}
		combined += out
	}
	e.forEachActiveRunWithStage(ctx, task.PipelineStageID, func(runID string) {
		if err := e.MarkStageCompleted(ctx, runID, task.PipelineStageID, combined); err != nil {
			e.log.Warn("mark stage completed", zap.String("runId", runID), zap.Error(err))
		}
	})
}

func (e *Engine) failStageEverywhere(ctx context.Context, stageID, errMsg string) {
	e.forEachActiveRunWithStage(ctx, stageID, func(runID string) {
		if err := e.MarkStageFailed(ctx, runID, stageID, errMsg); err != nil {
			e.log.Warn("mark stage failed", zap.String("runId", runID), zap.Error(err))
		}
	})
}

func (e *Engine) forEachActiveRunWithStage(ctx context.Context, stageID string, fn func(runID string)) {
	runs, err := e.store.ListActivePipelineRuns(ctx)
	if err != nil {
		e.log.Warn("list active runs", zap.Error(err))
		return
	}
	for _, run := range runs {
		result := run.StageResults[stageID]
		if result != nil && result.Status == v1.StageRunning {
			fn(run.ID)
		}
	}
}

// FanOutResults returns the outputs of every task generated for a stage.
func (e *Engine) FanOutResults(ctx context.Context, stageID string) ([]*v1.Task, error) {
	return e.store.ListTasksByStage(ctx, stageID)
}
