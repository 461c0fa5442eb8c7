package daemon

import (
	"context"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

func (h *Handlers) registerPipelines(d *rpc.Dispatcher) {
	h.register(d, rpc.MethodPipelineCreate, h.pipelineCreate)
	h.register(d, rpc.MethodPipelineDelete, h.pipelineDelete)
	h.register(d, rpc.MethodPipelineAddStage, h.pipelineAddStage)
	h.register(d, rpc.MethodPipelineRemoveStage, h.pipelineRemoveStage)
	h.register(d, rpc.MethodPipelineStartRun, h.pipelineStartRun)
	h.register(d, rpc.MethodPipelinePauseRun, h.pipelinePauseRun)
	h.register(d, rpc.MethodPipelineResumeRun, h.pipelineResumeRun)
	h.register(d, rpc.MethodPipelineList, h.pipelineList)
	h.register(d, rpc.MethodPipelineQuery, h.pipelineQuery)
	h.register(d, rpc.MethodPipelineGetActiveRuns, h.pipelineGetActiveRuns)
	h.register(d, rpc.MethodPipelineGetRun, h.pipelineGetRun)
	h.register(d, rpc.MethodPipelineGetReadyStages, h.pipelineGetReadyStages)
	h.register(d, rpc.MethodPipelineMarkStageCompleted, h.pipelineMarkStageCompleted)
	h.register(d, rpc.MethodPipelineMarkStageFailed, h.pipelineMarkStageFailed)
	h.register(d, rpc.MethodPipelineGetBuiltIn, h.pipelineGetBuiltIn)
}

type pipelineIDRequest struct {
	PipelineID string `json:"pipelineId"`
}

func (r *pipelineIDRequest) Validate() error {
	if r.PipelineID == "" {
		return apperrors.InvalidField("pipelineId", "must not be empty")
	}
	return nil
}

type runIDRequest struct {
	RunID string `json:"runId"`
}

func (r *runIDRequest) Validate() error {
	if r.RunID == "" {
		return apperrors.InvalidField("runId", "must not be empty")
	}
	return nil
}

type pipelineCreateRequest struct {
	Name   string     `json:"name"`
	Stages []v1.Stage `json:"stages,omitempty"`
}

func (r *pipelineCreateRequest) Validate() error {
	if r.Name == "" {
		return apperrors.InvalidField("name", "must not be empty")
	}
	return nil
}

type pipelineStageRequest struct {
	pipelineIDRequest
	Stage v1.Stage `json:"stage"`
}

func (r *pipelineStageRequest) Validate() error {
	if err := r.pipelineIDRequest.Validate(); err != nil {
		return err
	}
	if r.Stage.Name == "" {
		return apperrors.InvalidField("stage.name", "must not be empty")
	}
	return nil
}

type pipelineRemoveStageRequest struct {
	pipelineIDRequest
	StageID string `json:"stageId"`
}

func (r *pipelineRemoveStageRequest) Validate() error {
	if err := r.pipelineIDRequest.Validate(); err != nil {
		return err
	}
	if r.StageID == "" {
		return apperrors.InvalidField("stageId", "must not be empty")
	}
	return nil
}

type stageResultRequest struct {
	runIDRequest
	StageID      string `json:"stageId"`
	Output       string `json:"output,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (r *stageResultRequest) Validate() error {
	if err := r.runIDRequest.Validate(); err != nil {
		return err
	}
	if r.StageID == "" {
		return apperrors.InvalidField("stageId", "must not be empty")
	}
	return nil
}

func (h *Handlers) pipelineCreate(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req pipelineCreateRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	p := &v1.Pipeline{Name: req.Name, Stages: req.Stages}
	if err := h.pipelines.CreatePipeline(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Handlers) pipelineDelete(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req pipelineIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if err := h.pipelines.DeletePipeline(ctx, req.PipelineID); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) pipelineAddStage(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req pipelineStageRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.pipelines.AddStage(ctx, req.PipelineID, req.Stage)
}

func (h *Handlers) pipelineRemoveStage(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req pipelineRemoveStageRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.pipelines.RemoveStage(ctx, req.PipelineID, req.StageID)
}

func (h *Handlers) pipelineStartRun(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req pipelineIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.pipelines.StartRun(ctx, req.PipelineID)
}

func (h *Handlers) pipelinePauseRun(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req runIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.pipelines.PauseRun(ctx, req.RunID)
}

func (h *Handlers) pipelineResumeRun(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req runIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.pipelines.ResumeRun(ctx, req.RunID)
}

func (h *Handlers) pipelineList(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	pipelines, err := h.store.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}
	if pipelines == nil {
		pipelines = []*v1.Pipeline{}
	}
	return pipelines, nil
}

func (h *Handlers) pipelineQuery(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req pipelineIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.store.GetPipeline(ctx, req.PipelineID)
}

func (h *Handlers) pipelineGetActiveRuns(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	runs, err := h.store.ListActivePipelineRuns(ctx)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*v1.PipelineRun{}
	}
	return runs, nil
}

func (h *Handlers) pipelineGetRun(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req runIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.store.GetPipelineRun(ctx, req.RunID)
}

func (h *Handlers) pipelineGetReadyStages(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req runIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.pipelines.ReadyStages(ctx, req.RunID)
}

func (h *Handlers) pipelineMarkStageCompleted(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req stageResultRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if err := h.pipelines.MarkStageCompleted(ctx, req.RunID, req.StageID, req.Output); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) pipelineMarkStageFailed(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req stageResultRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if err := h.pipelines.MarkStageFailed(ctx, req.RunID, req.StageID, req.ErrorMessage); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) pipelineGetBuiltIn(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	pipelines, err := h.store.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}
	builtin := []*v1.Pipeline{}
	for _, p := range pipelines {
		if p.BuiltIn {
			builtin = append(builtin, p)
		}
	}
	return builtin, nil
}
