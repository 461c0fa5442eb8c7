// Package pipeline runs multi-stage agent workflows. A pipeline is a DAG of
// stages; each ready stage generates one or more tasks that flow through the
// orchestrator's queue.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/store"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// Enqueuer receives generated stage tasks. Satisfied by the orchestrator.
type Enqueuer interface {
	Enqueue(task *v1.Task) error
}

// Engine owns pipeline definitions and drives runs stage by stage.
type Engine struct {
	store *store.Store
	queue Enqueuer
	log   *logger.Logger

	// mu serialises run advancement; stage completions and task events can
	// race otherwise.
	mu sync.Mutex
}

func NewEngine(st *store.Store, queue Enqueuer, log *logger.Logger) *Engine {
	return &Engine{store: st, queue: queue, log: log}
}

// CreatePipeline validates the stage DAG and persists the definition.
func (e *Engine) CreatePipeline(ctx context.Context, p *v1.Pipeline) error {
	if p.Name == "" {
		return apperrors.InvalidField("name", "must not be empty")
	}
	for i := range p.Stages {
		if p.Stages[i].ID == "" {
			p.Stages[i].ID = uuid.New().String()
		}
	}
	if err := validateStages(p.Stages); err != nil {
		return err
	}
	return e.store.SavePipeline(ctx, p)
}

// UpdatePipeline replaces the definition after re-validating the DAG.
func (e *Engine) UpdatePipeline(ctx context.Context, p *v1.Pipeline) error {
	if _, err := e.store.GetPipeline(ctx, p.ID); err != nil {
		return err
	}
	if err := validateStages(p.Stages); err != nil {
		return err
	}
	return e.store.SavePipeline(ctx, p)
}

// AddStage appends a stage to an existing pipeline.
func (e *Engine) AddStage(ctx context.Context, pipelineID string, stage v1.Stage) (*v1.Pipeline, error) {
	p, err := e.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if stage.ID == "" {
		stage.ID = uuid.New().String()
	}
	next := append(append([]v1.Stage{}, p.Stages...), stage)
	if err := validateStages(next); err != nil {
		return nil, err
	}
	p.Stages = next
	if err := e.store.SavePipeline(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RemoveStage deletes a stage and drops references to it from other stages'
// dependencies.
func (e *Engine) RemoveStage(ctx context.Context, pipelineID, stageID string) (*v1.Pipeline, error) {
	p, err := e.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	var next []v1.Stage
	found := false
	for _, s := range p.Stages {
		if s.ID == stageID {
			found = true
			continue
		}
		var deps []string
		for _, d := range s.DependsOn {
			if d != stageID {
				deps = append(deps, d)
			}
		}
		s.DependsOn = deps
		next = append(next, s)
	}
	if !found {
		return nil, apperrors.NotFound("stage", stageID)
	}
	p.Stages = next
	if err := e.store.SavePipeline(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePipeline removes a definition. Built-in pipelines cannot be deleted.
func (e *Engine) DeletePipeline(ctx context.Context, id string) error {
	p, err := e.store.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if p.BuiltIn {
		return apperrors.Precondition("built-in pipeline cannot be deleted")
	}
	return e.store.DeletePipeline(ctx, id)
}

// StartRun creates a running PipelineRun and schedules its first stages.
func (e *Engine) StartRun(ctx context.Context, pipelineID string) (*v1.PipelineRun, error) {
	p, err := e.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if len(p.Stages) == 0 {
		return nil, apperrors.Precondition("pipeline has no stages")
	}
	run := &v1.PipelineRun{
		PipelineID:   p.ID,
		Status:       v1.RunRunning,
		StageResults: map[string]*v1.StageResult{},
		StartedAt:    v1.Now(),
	}
	if err := e.store.SavePipelineRun(ctx, run); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.advance(ctx, p, run); err != nil {
		return nil, err
	}
	return run, nil
}

// PauseRun stops new stages from being scheduled. In-flight tasks keep
// running.
func (e *Engine) PauseRun(ctx context.Context, runID string) (*v1.PipelineRun, error) {
	return e.setRunStatus(ctx, runID, v1.RunRunning, v1.RunPaused)
}

// ResumeRun re-enables scheduling and immediately advances the run.
func (e *Engine) ResumeRun(ctx context.Context, runID string) (*v1.PipelineRun, error) {
	run, err := e.setRunStatus(ctx, runID, v1.RunPaused, v1.RunRunning)
	if err != nil {
		return nil, err
	}
	p, err := e.store.GetPipeline(ctx, run.PipelineID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.advance(ctx, p, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (e *Engine) setRunStatus(ctx context.Context, runID string, from, to v1.RunStatus) (*v1.PipelineRun, error) {
	run, err := e.store.GetPipelineRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != from {
		return nil, apperrors.Precondition(fmt.Sprintf("run is %s, not %s", run.Status, from))
	}
	run.Status = to
	if err := e.store.SavePipelineRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ReadyStages returns the stages of a run that could be scheduled next.
func (e *Engine) ReadyStages(ctx context.Context, runID string) ([]v1.Stage, error) {
	run, err := e.store.GetPipelineRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	p, err := e.store.GetPipeline(ctx, run.PipelineID)
	if err != nil {
		return nil, err
	}
	stages := getReadyStages(p, run)
	if stages == nil {
		stages = []v1.Stage{}
	}
	return stages, nil
}

// MarkStageCompleted records a stage result and advances the run.
func (e *Engine) MarkStageCompleted(ctx context.Context, runID, stageID, output string) error {
	return e.finishStage(ctx, runID, stageID, v1.StageCompletedState, output, "")
}

// MarkStageFailed records a failure. Stages depending on the failed one
// never become ready; the run fails once nothing else can proceed.
func (e *Engine) MarkStageFailed(ctx context.Context, runID, stageID, errMsg string) error {
	return e.finishStage(ctx, runID, stageID, v1.StageFailedState, "", errMsg)
}

func (e *Engine) finishStage(ctx context.Context, runID, stageID string, status v1.StageStatus, output, errMsg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, err := e.store.GetPipelineRun(ctx, runID)
	if err != nil {
		return err
	}
	result := run.StageResults[stageID]
	if result == nil {
		result = &v1.StageResult{}
		run.StageResults[stageID] = result
	}
	if result.Status == v1.StageCompletedState || result.Status == v1.StageFailedState {
		return nil
	}
	now := v1.Now()
	result.Status = status
	result.Output = output
	result.ErrorMessage = errMsg
	result.CompletedAt = &now
	if err := e.store.SavePipelineRun(ctx, run); err != nil {
		return err
	}

	p, err := e.store.GetPipeline(ctx, run.PipelineID)
	if err != nil {
		return err
	}
	return e.advance(ctx, p, run)
}

// advance schedules every ready stage, then settles the run's terminal
// status if nothing is left to do. Caller holds e.mu.
func (e *Engine) advance(ctx context.Context, p *v1.Pipeline, run *v1.PipelineRun) error {
	ready := getReadyStages(p, run)
	for _, stage := range ready {
		if err := e.scheduleStage(ctx, p, run, stage); err != nil {
			return err
		}
	}
	return e.settle(ctx, p, run)
}

// scheduleStage marks the stage running and enqueues its generated tasks.
func (e *Engine) scheduleStage(ctx context.Context, p *v1.Pipeline, run *v1.PipelineRun, stage v1.Stage) error {
	now := v1.Now()
	run.StageResults[stage.ID] = &v1.StageResult{Status: v1.StageRunning, StartedAt: &now}
	if err := e.store.SavePipelineRun(ctx, run); err != nil {
		return err
	}

	tasks := GenerateTasksForStage(p, stage, previousOutputs(p, run, stage))
	for _, task := range tasks {
		if err := e.store.CreateTask(ctx, task); err != nil {
			return err
		}
		if err := e.queue.Enqueue(task); err != nil {
			e.log.Warn("enqueue stage task",
				zap.String("runId", run.ID),
				zap.String("stageId", stage.ID),
				zap.Error(err))
		}
	}
	e.log.Info("stage scheduled",
		zap.String("runId", run.ID),
		zap.String("stage", stage.Name),
		zap.Int("tasks", len(tasks)))
	return nil
}

// settle moves the run to completed or failed once no stage is running and
// none can become ready. Caller holds e.mu.
func (e *Engine) settle(ctx context.Context, p *v1.Pipeline, run *v1.PipelineRun) error {
	if run.Status != v1.RunRunning {
		return nil
	}
	anyFailed := false
	for _, s := range p.Stages {
		result := run.StageResults[s.ID]
		if result == nil {
			// Unscheduled stage: the run is still live unless the stage can
			// never start because an ancestor failed.
			if !blockedByFailure(p, run, s) {
				return nil
			}
			anyFailed = true
			continue
		}
		switch result.Status {
		case v1.StageRunning:
			return nil
		case v1.StageFailedState:
			anyFailed = true
		}
	}

	now := v1.Now()
	run.Status = v1.RunCompleted
	if anyFailed {
		run.Status = v1.RunFailed
	}
	run.CompletedAt = &now
	return e.store.SavePipelineRun(ctx, run)
}

// getReadyStages returns stages not yet scheduled whose dependencies have
// all completed. Paused runs schedule nothing.
func getReadyStages(p *v1.Pipeline, run *v1.PipelineRun) []v1.Stage {
	if run.Status != v1.RunRunning {
		return nil
	}
	var ready []v1.Stage
	for _, stage := range p.Stages {
		if _, scheduled := run.StageResults[stage.ID]; scheduled {
			continue
		}
		ok := true
		for _, dep := range stage.DependsOn {
			result := run.StageResults[dep]
			if result == nil || result.Status != v1.StageCompletedState {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, stage)
		}
	}
	return ready
}

// blockedByFailure reports whether some dependency of the stage has failed,
// directly or transitively.
func blockedByFailure(p *v1.Pipeline, run *v1.PipelineRun, stage v1.Stage) bool {
	byID := map[string]v1.Stage{}
	for _, s := range p.Stages {
		byID[s.ID] = s
	}
	seen := map[string]bool{}
	var walk func(id string) bool
	walk = func(id string) bool {
		if seen[id] {
			return false
		}
		seen[id] = true
		if result := run.StageResults[id]; result != nil && result.Status == v1.StageFailedState {
			return true
		}
		for _, dep := range byID[id].DependsOn {
			if walk(dep) {
				return true
			}
		}
		return false
	}
	for _, dep := range stage.DependsOn {
		if walk(dep) {
			return true
		}
	}
	return false
}

// validateStages checks dependency references and rejects cycles.
func validateStages(stages []v1.Stage) error {
	byID := map[string]v1.Stage{}
	for _, s := range stages {
		if s.Name == "" {
			return apperrors.InvalidField("stages", "stage name must not be empty")
		}
		if _, dup := byID[s.ID]; dup {
			return apperrors.InvalidField("stages", "duplicate stage id "+s.ID)
		}
		byID[s.ID] = s
	}
	for _, s := range stages {
		if s.Type == v1.StageFanOut && s.FanOutCount < 1 {
			return apperrors.InvalidField("fanOutCount", "must be at least 1")
		}
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return apperrors.InvalidField("dependsOn", "unknown stage "+dep)
			}
		}
	}

	// Colour-marking DFS cycle check.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		switch colour[id] {
		case grey:
			return true
		case black:
			return false
		}
		colour[id] = grey
		for _, dep := range byID[id].DependsOn {
			if visit(dep) {
				return true
			}
		}
		colour[id] = black
		return false
	}
	for _, s := range stages {
		if visit(s.ID) {
			return apperrors.InvalidField("dependsOn", "dependency cycle involving stage "+s.Name)
		}
	}
	return nil
}
