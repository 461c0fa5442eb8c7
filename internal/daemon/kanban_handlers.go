package daemon

import (
	"context"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/autoclose"
	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/launcher"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

const summarizeCaptureLines = 500

func (h *Handlers) registerKanban(d *rpc.Dispatcher) {
	h.register(d, rpc.MethodKanbanCreateLane, h.kanbanCreateLane)
	h.register(d, rpc.MethodKanbanEditLane, h.kanbanEditLane)
	h.register(d, rpc.MethodKanbanDeleteLane, h.kanbanDeleteLane)
	h.register(d, rpc.MethodKanbanListLanes, h.kanbanListLanes)
	h.register(d, rpc.MethodKanbanKillLaneSession, h.kanbanKillLaneSession)
	h.register(d, rpc.MethodKanbanCreateTask, h.kanbanCreateTask)
	h.register(d, rpc.MethodKanbanMoveTask, h.kanbanMoveTask)
	h.register(d, rpc.MethodKanbanListTasks, h.kanbanListTasks)
	h.register(d, rpc.MethodKanbanStartTask, h.kanbanStartTask)
	h.register(d, rpc.MethodKanbanStopTask, h.kanbanStopTask)
	h.register(d, rpc.MethodKanbanRestartTask, h.kanbanRestartTask)
	h.register(d, rpc.MethodKanbanAttachTask, h.kanbanAttachTask)
	h.register(d, rpc.MethodKanbanSummarizeTask, h.kanbanSummarizeTask)
	h.register(d, rpc.MethodKanbanEditTask, h.kanbanEditTask)
	h.register(d, rpc.MethodKanbanDeleteTask, h.kanbanDeleteTask)
	h.register(d, rpc.MethodKanbanGetTask, h.kanbanGetTask)
	h.register(d, rpc.MethodKanbanAddSubtask, h.kanbanAddSubtask)
	h.register(d, rpc.MethodKanbanMergeTasks, h.kanbanMergeTasks)
	h.register(d, rpc.MethodKanbanSplitTaskBox, h.kanbanSplitTaskBox)
	h.register(d, rpc.MethodKanbanSetAutoMode, h.kanbanSetAutoMode)
}

type laneIDRequest struct {
	SwimLaneID string `json:"swimLaneId"`
}

func (r *laneIDRequest) Validate() error {
	if r.SwimLaneID == "" {
		return apperrors.InvalidField("swimLaneId", "must not be empty")
	}
	return nil
}

type laneCreateRequest struct {
	Name                string `json:"name"`
	RuntimeID           string `json:"runtimeId"`
	WorkingDir          string `json:"workingDir"`
	SessionName         string `json:"sessionName,omitempty"`
	ContextInstructions string `json:"contextInstructions,omitempty"`
	AIProvider          string `json:"aiProvider,omitempty"`
	Model               string `json:"model,omitempty"`
	AutoStart           *bool  `json:"autoStart,omitempty"`
	AutoPilot           *bool  `json:"autoPilot,omitempty"`
	AutoClose           *bool  `json:"autoClose,omitempty"`
	UseWorktree         *bool  `json:"useWorktree,omitempty"`
}

func (r *laneCreateRequest) Validate() error {
	if r.Name == "" {
		return apperrors.InvalidField("name", "must not be empty")
	}
	if r.RuntimeID == "" {
		return apperrors.InvalidField("runtimeId", "must not be empty")
	}
	if r.WorkingDir == "" {
		return apperrors.InvalidField("workingDir", "must not be empty")
	}
	return nil
}

type laneEditRequest struct {
	laneIDRequest
	Name                *string `json:"name,omitempty"`
	WorkingDir          *string `json:"workingDir,omitempty"`
	SessionName         *string `json:"sessionName,omitempty"`
	ContextInstructions *string `json:"contextInstructions,omitempty"`
	AIProvider          *string `json:"aiProvider,omitempty"`
	Model               *string `json:"model,omitempty"`
	AutoStart           *bool   `json:"autoStart,omitempty"`
	AutoPilot           *bool   `json:"autoPilot,omitempty"`
	AutoClose           *bool   `json:"autoClose,omitempty"`
	UseWorktree         *bool   `json:"useWorktree,omitempty"`
}

type kanbanTaskCreateRequest struct {
	laneIDRequest
	Description string   `json:"description"`
	Details     string   `json:"details,omitempty"`
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

func (r *kanbanTaskCreateRequest) Validate() error {
	if err := r.laneIDRequest.Validate(); err != nil {
		return err
	}
	if r.Description == "" {
		return apperrors.InvalidField("description", "must not be empty")
	}
	return nil
}

type moveTaskRequest struct {
	taskIDRequest
	Column string `json:"column"`
}

func (r *moveTaskRequest) Validate() error {
	if err := r.taskIDRequest.Validate(); err != nil {
		return err
	}
	if !v1.ValidColumn(v1.KanbanColumn(r.Column)) {
		return apperrors.InvalidField("column", "unknown column "+r.Column)
	}
	return nil
}

type listTasksRequest struct {
	SwimLaneID string `json:"swimLaneId,omitempty"`
}

func (r *listTasksRequest) Validate() error { return nil }

type startTaskRequest struct {
	taskIDRequest
	AdditionalInstructions string `json:"additionalInstructions,omitempty"`
	AskForContext          bool   `json:"askForContext,omitempty"`
}

type editTaskRequest struct {
	taskIDRequest
	Description *string  `json:"description,omitempty"`
	Details     *string  `json:"details,omitempty"`
	TargetRole  *string  `json:"targetRole,omitempty"`
	Priority    *int     `json:"priority,omitempty"`
	AIProvider  *string  `json:"aiProvider,omitempty"`
	AIModel     *string  `json:"aiModel,omitempty"`
	DependsOn   []string `json:"dependsOn,omitempty"`
}

type addSubtaskRequest struct {
	taskIDRequest
	Description string `json:"description"`
	Details     string `json:"details,omitempty"`
}

func (r *addSubtaskRequest) Validate() error {
	if err := r.taskIDRequest.Validate(); err != nil {
		return err
	}
	if r.Description == "" {
		return apperrors.InvalidField("description", "must not be empty")
	}
	return nil
}

type mergeTasksRequest struct {
	TaskIDs     []string `json:"taskIds"`
	Description string   `json:"description,omitempty"`
}

func (r *mergeTasksRequest) Validate() error {
	if len(r.TaskIDs) < 2 {
		return apperrors.InvalidField("taskIds", "at least two tasks are required")
	}
	return nil
}

type setAutoModeRequest struct {
	taskIDRequest
	AutoStart   *bool `json:"autoStart,omitempty"`
	AutoPilot   *bool `json:"autoPilot,omitempty"`
	AutoClose   *bool `json:"autoClose,omitempty"`
	UseWorktree *bool `json:"useWorktree,omitempty"`
}

func (h *Handlers) kanbanCreateLane(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req laneCreateRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if _, err := h.hosts.Get(req.RuntimeID); err != nil {
		return nil, err
	}
	lane := &v1.SwimLane{
		Name:                req.Name,
		RuntimeID:           req.RuntimeID,
		WorkingDir:          req.WorkingDir,
		SessionName:         req.SessionName,
		ContextInstructions: req.ContextInstructions,
		AIProvider:          req.AIProvider,
		Model:               req.Model,
		AutoStart:           req.AutoStart,
		AutoPilot:           req.AutoPilot,
		AutoClose:           req.AutoClose,
		UseWorktree:         req.UseWorktree,
	}
	if err := h.store.SaveSwimLane(ctx, lane); err != nil {
		return nil, err
	}
	return lane, nil
}

func (h *Handlers) kanbanEditLane(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req laneEditRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	lane, err := h.store.GetSwimLane(ctx, req.SwimLaneID)
	if err != nil {
		return nil, err
	}
	if req.SessionName != nil && *req.SessionName != lane.SessionName && lane.SessionActive {
		return nil, apperrors.Precondition("cannot rename the session of a lane while it is active")
	}
	if req.Name != nil {
		lane.Name = *req.Name
	}
	if req.WorkingDir != nil {
		lane.WorkingDir = *req.WorkingDir
	}
	if req.SessionName != nil {
		lane.SessionName = *req.SessionName
	}
	if req.ContextInstructions != nil {
		lane.ContextInstructions = *req.ContextInstructions
	}
	if req.AIProvider != nil {
		lane.AIProvider = *req.AIProvider
	}
	if req.Model != nil {
		lane.Model = *req.Model
	}
	if req.AutoStart != nil {
		lane.AutoStart = req.AutoStart
	}
	if req.AutoPilot != nil {
		lane.AutoPilot = req.AutoPilot
	}
	if req.AutoClose != nil {
		lane.AutoClose = req.AutoClose
	}
	if req.UseWorktree != nil {
		lane.UseWorktree = req.UseWorktree
	}
	if err := h.store.SaveSwimLane(ctx, lane); err != nil {
		return nil, err
	}
	return lane, nil
}

func (h *Handlers) kanbanDeleteLane(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req laneIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	lane, err := h.store.GetSwimLane(ctx, req.SwimLaneID)
	if err != nil {
		return nil, err
	}
	if lane.SessionActive {
		h.killLaneSession(ctx, lane)
	}
	if err := h.store.DeleteSwimLane(ctx, lane.ID); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) kanbanListLanes(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	lanes, err := h.store.ListSwimLanes(ctx)
	if err != nil {
		return nil, err
	}
	if lanes == nil {
		lanes = []*v1.SwimLane{}
	}
	return lanes, nil
}

func (h *Handlers) kanbanKillLaneSession(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req laneIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	lane, err := h.store.GetSwimLane(ctx, req.SwimLaneID)
	if err != nil {
		return nil, err
	}
	h.killLaneSession(ctx, lane)
	return lane, nil
}

// killLaneSession kills the lane's multiplexer session, marks it inactive
// and clears the pane bindings of every task that lived in it.
func (h *Handlers) killLaneSession(ctx context.Context, lane *v1.SwimLane) {
	if rt, err := h.hosts.Mux(lane.RuntimeID); err == nil {
		if err := h.driver.KillSession(ctx, rt, lane.SessionName); err != nil {
			h.log.Warn("kill lane session", zap.String("laneId", lane.ID), zap.Error(err))
		}
	}
	lane.SessionActive = false
	if err := h.store.SaveSwimLane(ctx, lane); err != nil {
		h.log.Warn("save lane after session kill", zap.String("laneId", lane.ID), zap.Error(err))
		return
	}
	bound, err := h.store.ListBoundTasks(ctx)
	if err != nil {
		h.log.Warn("list bound tasks after session kill", zap.Error(err))
		return
	}
	for _, task := range bound {
		if task.TmuxRuntimeID != lane.RuntimeID || task.TmuxSessionName != lane.SessionName {
			continue
		}
		task.ClearBinding()
		if err := h.store.SaveTask(ctx, task); err != nil {
			h.log.Warn("clear binding after session kill", zap.String("taskId", task.ID), zap.Error(err))
		}
	}
}

func (h *Handlers) kanbanCreateTask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req kanbanTaskCreateRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	lane, err := h.store.GetSwimLane(ctx, req.SwimLaneID)
	if err != nil {
		return nil, err
	}
	if err := h.checkDependencyCycle(ctx, "", req.DependsOn); err != nil {
		return nil, err
	}
	task := &v1.Task{
		SwimLaneID:   lane.ID,
		Description:  req.Description,
		Details:      req.Details,
		TargetRole:   req.TargetRole,
		Priority:     req.Priority,
		AIProvider:   req.AIProvider,
		AIModel:      req.AIModel,
		DependsOn:    req.DependsOn,
		AutoStart:    req.AutoStart,
		AutoPilot:    req.AutoPilot,
		AutoClose:    req.AutoClose,
		UseWorktree:  req.UseWorktree,
		KanbanColumn: v1.ColumnTodo,
	}
	if err := h.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	if v1.ResolveFlag(task.AutoStart, lane.AutoStart) {
		return h.launcher.StartTask(ctx, task.ID, launcher.LaunchOptions{})
	}
	return task, nil
}

func (h *Handlers) kanbanMoveTask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req moveTaskRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.store.MoveTask(ctx, req.TaskID, v1.KanbanColumn(req.Column))
}

func (h *Handlers) kanbanListTasks(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req listTasksRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	var (
		tasks []*v1.Task
		err   error
	)
	if req.SwimLaneID != "" {
		tasks, err = h.store.ListTasksByLane(ctx, req.SwimLaneID)
	} else {
		tasks, err = h.store.ListTasks(ctx)
	}
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*v1.Task{}
	}
	return tasks, nil
}

func (h *Handlers) kanbanStartTask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req startTaskRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.launcher.StartTask(ctx, req.TaskID, launcher.LaunchOptions{
		AdditionalInstructions: req.AdditionalInstructions,
		AskForContext:          req.AskForContext,
	})
}

func (h *Handlers) kanbanStopTask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.launcher.StopTask(ctx, req.TaskID)
}

func (h *Handlers) kanbanRestartTask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req startTaskRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.launcher.RestartTask(ctx, req.TaskID, launcher.LaunchOptions{
		AdditionalInstructions: req.AdditionalInstructions,
		AskForContext:          req.AskForContext,
	})
}

func (h *Handlers) kanbanAttachTask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.launcher.AttachTask(ctx, req.TaskID)
}

func (h *Handlers) kanbanSummarizeTask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	task, err := h.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if !task.HasBinding() {
		return nil, apperrors.Precondition("task is not bound to a live pane")
	}
	rt, err := h.hosts.Mux(task.TmuxRuntimeID)
	if err != nil {
		return nil, err
	}
	captured, err := h.driver.Capture(ctx, rt, task.TmuxSessionName, *task.TmuxWindowIndex, *task.TmuxPaneIndex, summarizeCaptureLines)
	if err != nil {
		return nil, err
	}
	return map[string]string{"summary": autoclose.Summarize(captured)}, nil
}

func (h *Handlers) kanbanEditTask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req editTaskRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	task, err := h.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if req.Description != nil {
		if *req.Description == "" {
			return nil, apperrors.InvalidField("description", "must not be empty")
		}
		task.Description = *req.Description
	}
	if req.Details != nil {
		task.Details = *req.Details
	}
	if req.TargetRole != nil {
		task.TargetRole = *req.TargetRole
	}
	if req.Priority != nil {
		if *req.Priority < 1 || *req.Priority > 10 {
			return nil, apperrors.InvalidField("priority", "must be between 1 and 10")
		}
		task.Priority = *req.Priority
	}
	if req.AIProvider != nil {
		task.AIProvider = *req.AIProvider
	}
	if req.AIModel != nil {
		task.AIModel = *req.AIModel
	}
	if req.DependsOn != nil {
		if err := h.checkDependencyCycle(ctx, task.ID, req.DependsOn); err != nil {
			return nil, err
		}
		task.DependsOn = req.DependsOn
	}
	if err := h.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (h *Handlers) kanbanDeleteTask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	task, err := h.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if task.HasBinding() {
		if _, err := h.launcher.StopTask(ctx, task.ID); err != nil {
			return nil, err
		}
	}
	if err := h.store.DeleteTask(ctx, task.ID); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) kanbanGetTask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.store.GetTask(ctx, req.TaskID)
}

func (h *Handlers) kanbanAddSubtask(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req addSubtaskRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	parent, err := h.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	sub := &v1.Task{
		SwimLaneID:   parent.SwimLaneID,
		Description:  req.Description,
		Details:      req.Details,
		ParentTaskID: parent.ID,
		KanbanColumn: parent.KanbanColumn,
	}
	if err := h.store.CreateTask(ctx, sub); err != nil {
		return nil, err
	}
	parent.SubtaskIDs = append(parent.SubtaskIDs, sub.ID)
	if err := h.store.SaveTask(ctx, parent); err != nil {
		return nil, err
	}
	return sub, nil
}

// kanbanMergeTasks folds several tasks into a new task box. The box is
// launched as one window with a section per sub-task.
func (h *Handlers) kanbanMergeTasks(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req mergeTasksRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	tasks := make([]*v1.Task, 0, len(req.TaskIDs))
	laneID := ""
	for i, id := range req.TaskIDs {
		task, err := h.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.HasBinding() {
			return nil, apperrors.Precondition("task " + id + " is already running")
		}
		if task.ParentTaskID != "" {
			return nil, apperrors.Precondition("task " + id + " already belongs to a task box")
		}
		if i == 0 {
			laneID = task.SwimLaneID
		} else if task.SwimLaneID != laneID {
			return nil, apperrors.Precondition("tasks from different swim lanes cannot be merged")
		}
		tasks = append(tasks, task)
	}

	description := req.Description
	if description == "" {
		description = tasks[0].Description
	}
	box := &v1.Task{
		SwimLaneID:   laneID,
		Description:  description,
		SubtaskIDs:   req.TaskIDs,
		KanbanColumn: v1.ColumnTodo,
	}
	if err := h.store.CreateTask(ctx, box); err != nil {
		return nil, err
	}
	for _, task := range tasks {
		task.ParentTaskID = box.ID
		if err := h.store.SaveTask(ctx, task); err != nil {
			return nil, err
		}
	}
	return box, nil
}

// kanbanSplitTaskBox dissolves a task box back into independent tasks. The
// box itself is deleted.
func (h *Handlers) kanbanSplitTaskBox(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req taskIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	box, err := h.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if !box.IsTaskBox() {
		return nil, apperrors.Precondition("task is not a task box")
	}
	if box.HasBinding() {
		if _, err := h.launcher.StopTask(ctx, box.ID); err != nil {
			return nil, err
		}
	}
	freed := make([]*v1.Task, 0, len(box.SubtaskIDs))
	for _, subID := range box.SubtaskIDs {
		sub, err := h.store.GetTask(ctx, subID)
		if err != nil {
			return nil, err
		}
		sub.ParentTaskID = ""
		if err := h.store.SaveTask(ctx, sub); err != nil {
			return nil, err
		}
		freed = append(freed, sub)
	}
	if err := h.store.DeleteTask(ctx, box.ID); err != nil {
		return nil, err
	}
	return freed, nil
}

func (h *Handlers) kanbanSetAutoMode(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req setAutoModeRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	task, err := h.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if req.AutoStart != nil {
		task.AutoStart = req.AutoStart
	}
	if req.AutoPilot != nil {
		task.AutoPilot = req.AutoPilot
	}
	if req.AutoClose != nil {
		task.AutoClose = req.AutoClose
	}
	if req.UseWorktree != nil {
		task.UseWorktree = req.UseWorktree
	}
	if err := h.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}
