package daemon

import (
	"context"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/launcher"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

func (h *Handlers) registerTasks(d *rpc.Dispatcher) {
	h.register(d, rpc.MethodTaskSubmit, h.taskSubmit)
	h.register(d, rpc.MethodTaskCancel, h.taskCancel)
	h.register(d, rpc.MethodTaskDelete, h.taskDelete)
	h.register(d, rpc.MethodTaskList, h.taskList)
	h.register(d, rpc.MethodTaskQuery, h.taskQuery)
	h.register(d, rpc.MethodTaskUpdateStatus, h.taskUpdateStatus)
	h.register(d, rpc.MethodTaskDispatchNext, h.taskDispatchNext)
	h.register(d, rpc.MethodTaskGetFanOutResults, h.taskGetFanOutResults)
}

type taskIDRequest struct {
	TaskID string `json:"taskId"`
}

func (r *taskIDRequest) Validate() error {
	if r.TaskID == "" {
		return apperrors.InvalidField("taskId", "must not be empty")
	}
	return nil
}

type taskSubmitRequest struct {
	Description string   `json:"description"`
	Details     string   `json:"details,omitempty"`
	SwimLaneID  string   `json:"swimLaneId,omitempty"`
	TargetRole  string   `json:"targetRole,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	AIProvider  string   `json:"aiProvider,omitempty"`
	AIModel     string   `json:"aiModel,omitempty"`
	DependsOn   []string `json:"dependsOn,omitempty"`
	AutoStart   *bool    `json:"autoStart,omitempty"`
	AutoPilot   *bool    `json:"autoPilot,omitempty"`
	AutoClose   *bool    `json:"autoClose,omitempty"`
	UseWorktree *bool    `json:"useWorktree,omitempty"`
}

func (r *taskSubmitRequest) Validate() error {
	if r.Description == "" {
		return apperrors.InvalidField("description", "must not be empty")
	}
	if r.Priority < 0 || r.Priority > 10 {
		return apperrors.InvalidField("priority", "must be between 1 and 10")
	}
	return nil
}

type taskStatusRequest struct {
	taskIDRequest
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (r *taskStatusRequest) Validate() error {
	if err := r.taskIDRequest.Validate(); err != nil {
		return err
	}
	switch v1.TaskStatus(r.Status) {
	case v1.TaskPending, v1.TaskAssigned, v1.TaskInProgress, v1.TaskCompleted, v1.TaskFailed, v1.TaskCancelled:
		return nil
	}
	return apperrors.InvalidField("status", "unknown task status "+r.Status)
}

type stageIDRequest struct {
	StageID string `json:"stageId"`
}

func (r *stageIDRequest) Validate() error {
	if r.StageID == "" {
		return apperrors.InvalidField("stageId", "must not be empty")
	}
	return nil
}

func (h *Handlers) taskSubmit(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskSubmitRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	var lane *v1.SwimLane
	if req.SwimLaneID != "" {
		var err error
		lane, err = h.store.GetSwimLane(ctx, req.SwimLaneID)
		if err != nil {
			return nil, err
		}
	}
	if err := h.checkDependencyCycle(ctx, "", req.DependsOn); err != nil {
		return nil, err
	}

	task := &v1.Task{
		Description: req.Description,
		Details:     req.Details,
		SwimLaneID:  req.SwimLaneID,
		TargetRole:  req.TargetRole,
		Priority:    req.Priority,
		AIProvider:  req.AIProvider,
		AIModel:     req.AIModel,
		DependsOn:   req.DependsOn,
		AutoStart:   req.AutoStart,
		AutoPilot:   req.AutoPilot,
		AutoClose:   req.AutoClose,
		UseWorktree: req.UseWorktree,
	}
	if lane != nil {
		task.KanbanColumn = v1.ColumnTodo
	}
	if err := h.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	switch {
	case lane != nil && v1.ResolveFlag(task.AutoStart, lane.AutoStart):
		started, err := h.launcher.StartTask(ctx, task.ID, launcher.LaunchOptions{})
		if err != nil {
			return nil, err
		}
		return started, nil
	case lane == nil:
		// Laneless tasks go to the dispatch queue for idle agents.
		if err := h.orch.Enqueue(task); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// checkDependencyCycle rejects a dependsOn set that closes a cycle through
// the existing dependency graph, and unknown dependency ids. taskID is the
// task receiving the deps ("" on submit, when it is not in the graph yet);
// any stored path leading back to it closes a cycle.
func (h *Handlers) checkDependencyCycle(ctx context.Context, taskID string, dependsOn []string) error {
	if len(dependsOn) == 0 {
		return nil
	}
	all, err := h.store.ListTasks(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]*v1.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}
	for _, depID := range dependsOn {
		if _, ok := byID[depID]; !ok {
			return apperrors.InvalidField("dependsOn", "unknown task "+depID)
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(all))
	if taskID != "" {
		color[taskID] = grey
	}
	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case grey:
			return true
		case black:
			return false
		}
		color[id] = grey
		if t, ok := byID[id]; ok {
			for _, dep := range t.DependsOn {
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, depID := range dependsOn {
		if visit(depID) {
			return apperrors.InvalidField("dependsOn", "dependency cycle involving task "+depID)
		}
	}
	return nil
}

func (h *Handlers) taskCancel(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	task, err := h.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	h.orch.RemoveQueued(task.ID)
	if task.HasBinding() {
		if task, err = h.launcher.StopTask(ctx, task.ID); err != nil {
			return nil, err
		}
	}
	task.Status = v1.TaskCancelled
	if err := h.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (h *Handlers) taskDelete(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	h.orch.RemoveQueued(req.TaskID)
	if err := h.store.DeleteTask(ctx, req.TaskID); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) taskList(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	tasks, err := h.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*v1.Task{}
	}
	return tasks, nil
}

func (h *Handlers) taskQuery(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.store.GetTask(ctx, req.TaskID)
}

func (h *Handlers) taskUpdateStatus(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskStatusRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if v1.TaskStatus(req.Status) == v1.TaskCompleted {
		return h.store.MoveTask(ctx, req.TaskID, v1.ColumnDone)
	}
	task, err := h.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	task.Status = v1.TaskStatus(req.Status)
	task.ErrorMessage = req.ErrorMessage
	if err := h.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (h *Handlers) taskDispatchNext(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	taskID, err := h.orch.DispatchNext(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"taskId": taskID}, nil
}

func (h *Handlers) taskGetFanOutResults(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req stageIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	tasks, err := h.pipelines.FanOutResults(ctx, req.StageID)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*v1.Task{}
	}
	return tasks, nil
}
