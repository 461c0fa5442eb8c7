package daemon

import (
	"context"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/orchestrator"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

func (h *Handlers) registerAgents(d *rpc.Dispatcher) {
	h.register(d, rpc.MethodAgentSpawn, h.agentSpawn)
	h.register(d, rpc.MethodAgentKill, h.agentKill)
	h.register(d, rpc.MethodAgentSendPrompt, h.agentSendPrompt)
	h.register(d, rpc.MethodAgentGetOutput, h.agentGetOutput)
	h.register(d, rpc.MethodAgentList, h.agentList)
	h.register(d, rpc.MethodAgentQuery, h.agentQuery)
	h.register(d, rpc.MethodAgentGetIdle, h.agentGetIdle)
	h.register(d, rpc.MethodAgentGetByRole, h.agentGetByRole)
	h.register(d, rpc.MethodAgentGetByTeam, h.agentGetByTeam)
	h.register(d, rpc.MethodAgentUpdateState, h.agentUpdateState)
	h.register(d, rpc.MethodAgentSendMessage, h.agentSendMessage)
	h.register(d, rpc.MethodAgentGetMessages, h.agentGetMessages)
}

type agentSpawnRequest struct {
	Role        string   `json:"role"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	RuntimeID   string   `json:"runtimeId,omitempty"`
	SessionName string   `json:"sessionName"`
	TeamID      string   `json:"teamId,omitempty"`
	Expertise   []string `json:"expertise,omitempty"`
	WorkingDir  string   `json:"workingDir,omitempty"`
}

func (r *agentSpawnRequest) Validate() error {
	if r.Role == "" {
		return apperrors.InvalidField("role", "must not be empty")
	}
	if r.SessionName == "" {
		return apperrors.InvalidField("sessionName", "must not be empty")
	}
	return nil
}

type agentIDRequest struct {
	AgentID string `json:"agentId"`
}

func (r *agentIDRequest) Validate() error {
	if r.AgentID == "" {
		return apperrors.InvalidField("agentId", "must not be empty")
	}
	return nil
}

type agentPromptRequest struct {
	agentIDRequest
	Prompt string `json:"prompt"`
}

func (r *agentPromptRequest) Validate() error {
	if err := r.agentIDRequest.Validate(); err != nil {
		return err
	}
	if r.Prompt == "" {
		return apperrors.InvalidField("prompt", "must not be empty")
	}
	return nil
}

type agentOutputRequest struct {
	agentIDRequest
	Lines int `json:"lines,omitempty"`
}

type agentRoleRequest struct {
	Role string `json:"role"`
}

func (r *agentRoleRequest) Validate() error {
	if r.Role == "" {
		return apperrors.InvalidField("role", "must not be empty")
	}
	return nil
}

type agentStateRequest struct {
	agentIDRequest
	State        string `json:"state"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (r *agentStateRequest) Validate() error {
	if err := r.agentIDRequest.Validate(); err != nil {
		return err
	}
	switch v1.AgentState(r.State) {
	case v1.AgentSpawning, v1.AgentIdle, v1.AgentWorking, v1.AgentError, v1.AgentCompleted, v1.AgentTerminated:
		return nil
	}
	return apperrors.InvalidField("state", "unknown agent state "+r.State)
}

type agentMessageRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
}

func (r *agentMessageRequest) Validate() error {
	if r.To == "" {
		return apperrors.InvalidField("to", "must not be empty")
	}
	if r.Content == "" {
		return apperrors.InvalidField("content", "must not be empty")
	}
	return nil
}

type agentMessagesRequest struct {
	agentIDRequest
	UnreadOnly bool `json:"unreadOnly,omitempty"`
}

func (h *Handlers) agentSpawn(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentSpawnRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.orch.SpawnAgent(ctx, orchestrator.SpawnAgentRequest{
		Role:        v1.AgentRole(req.Role),
		Provider:    req.Provider,
		Model:       req.Model,
		RuntimeID:   req.RuntimeID,
		SessionName: req.SessionName,
		TeamID:      req.TeamID,
		Expertise:   req.Expertise,
		WorkingDir:  req.WorkingDir,
	})
}

func (h *Handlers) agentKill(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if err := h.orch.KillAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) agentSendPrompt(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentPromptRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if err := h.orch.SendPrompt(ctx, req.AgentID, req.Prompt); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) agentGetOutput(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentOutputRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	out, err := h.orch.GetOutput(ctx, req.AgentID, req.Lines)
	if err != nil {
		return nil, err
	}
	return map[string]string{"output": out}, nil
}

func (h *Handlers) agentList(_ context.Context, _ *rpc.Message) (interface{}, error) {
	return h.orch.Agents(), nil
}

func (h *Handlers) agentQuery(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.orch.Agent(ctx, req.AgentID)
}

func (h *Handlers) agentGetIdle(_ context.Context, _ *rpc.Message) (interface{}, error) {
	return h.orch.IdleAgents(), nil
}

func (h *Handlers) agentGetByRole(_ context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentRoleRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.orch.AgentsByRole(v1.AgentRole(req.Role)), nil
}

func (h *Handlers) agentGetByTeam(_ context.Context, msg *rpc.Message) (interface{}, error) {
	var req teamIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.orch.AgentsByTeam(req.TeamID), nil
}

func (h *Handlers) agentUpdateState(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentStateRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if err := h.orch.UpdateAgentState(ctx, req.AgentID, v1.AgentState(req.State), req.ErrorMessage); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) agentSendMessage(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentMessageRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	m := &v1.AgentMessage{From: req.From, To: req.To, Content: req.Content, Timestamp: v1.Now()}
	if err := h.orch.PostMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (h *Handlers) agentGetMessages(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentMessagesRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.orch.Messages(ctx, req.AgentID, req.UnreadOnly)
}
