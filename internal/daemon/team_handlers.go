package daemon

import (
	"context"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

func (h *Handlers) registerTeams(d *rpc.Dispatcher) {
	h.register(d, rpc.MethodTeamCreate, h.teamCreate)
	h.register(d, rpc.MethodTeamDelete, h.teamDelete)
	h.register(d, rpc.MethodTeamAddAgent, h.teamAddAgent)
	h.register(d, rpc.MethodTeamRemoveAgent, h.teamRemoveAgent)
	h.register(d, rpc.MethodTeamSetPipeline, h.teamSetPipeline)
	h.register(d, rpc.MethodTeamList, h.teamList)
	h.register(d, rpc.MethodTeamQuery, h.teamQuery)
	h.register(d, rpc.MethodTeamFindByAgent, h.teamFindByAgent)
	h.register(d, rpc.MethodTeamGetAgents, h.teamGetAgents)
}

type teamIDRequest struct {
	TeamID string `json:"teamId"`
}

func (r *teamIDRequest) Validate() error {
	if r.TeamID == "" {
		return apperrors.InvalidField("teamId", "must not be empty")
	}
	return nil
}

type teamCreateRequest struct {
	Name     string   `json:"name"`
	AgentIDs []string `json:"agentIds,omitempty"`
}

func (r *teamCreateRequest) Validate() error {
	if r.Name == "" {
		return apperrors.InvalidField("name", "must not be empty")
	}
	return nil
}

type teamAgentRequest struct {
	teamIDRequest
	AgentID string `json:"agentId"`
}

func (r *teamAgentRequest) Validate() error {
	if err := r.teamIDRequest.Validate(); err != nil {
		return err
	}
	if r.AgentID == "" {
		return apperrors.InvalidField("agentId", "must not be empty")
	}
	return nil
}

type teamPipelineRequest struct {
	teamIDRequest
	PipelineID string `json:"pipelineId"`
}

func (h *Handlers) teamCreate(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req teamCreateRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	team := &v1.Team{Name: req.Name, AgentIDs: req.AgentIDs}
	if team.AgentIDs == nil {
		team.AgentIDs = []string{}
	}
	for _, agentID := range team.AgentIDs {
		if _, err := h.store.GetAgent(ctx, agentID); err != nil {
			return nil, err
		}
	}
	if err := h.store.SaveTeam(ctx, team); err != nil {
		return nil, err
	}
	for _, agentID := range team.AgentIDs {
		if err := h.assignAgentTeam(ctx, agentID, team.ID); err != nil {
			return nil, err
		}
	}
	return team, nil
}

func (h *Handlers) teamDelete(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req teamIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if err := h.store.DeleteTeam(ctx, req.TeamID); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) teamAddAgent(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req teamAgentRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	team, err := h.store.GetTeam(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}
	if _, err := h.store.GetAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}
	for _, id := range team.AgentIDs {
		if id == req.AgentID {
			return team, nil
		}
	}
	team.AgentIDs = append(team.AgentIDs, req.AgentID)
	if err := h.store.SaveTeam(ctx, team); err != nil {
		return nil, err
	}
	if err := h.assignAgentTeam(ctx, req.AgentID, team.ID); err != nil {
		return nil, err
	}
	return team, nil
}

func (h *Handlers) teamRemoveAgent(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req teamAgentRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	team, err := h.store.GetTeam(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}
	kept := team.AgentIDs[:0]
	removed := false
	for _, id := range team.AgentIDs {
		if id == req.AgentID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	if !removed {
		return team, nil
	}
	team.AgentIDs = kept
	if err := h.store.SaveTeam(ctx, team); err != nil {
		return nil, err
	}
	if err := h.assignAgentTeam(ctx, req.AgentID, ""); err != nil {
		return nil, err
	}
	return team, nil
}

func (h *Handlers) teamSetPipeline(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req teamPipelineRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	team, err := h.store.GetTeam(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}
	if req.PipelineID != "" {
		if _, err := h.store.GetPipeline(ctx, req.PipelineID); err != nil {
			return nil, err
		}
	}
	team.PipelineID = req.PipelineID
	if err := h.store.SaveTeam(ctx, team); err != nil {
		return nil, err
	}
	return team, nil
}

func (h *Handlers) teamList(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	teams, err := h.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	if teams == nil {
		teams = []*v1.Team{}
	}
	return teams, nil
}

func (h *Handlers) teamQuery(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req teamIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.store.GetTeam(ctx, req.TeamID)
}

func (h *Handlers) teamFindByAgent(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	teams, err := h.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	for _, team := range teams {
		for _, id := range team.AgentIDs {
			if id == req.AgentID {
				return team, nil
			}
		}
	}
	return nil, apperrors.NotFound("team for agent", req.AgentID)
}

func (h *Handlers) teamGetAgents(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req teamIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if _, err := h.store.GetTeam(ctx, req.TeamID); err != nil {
		return nil, err
	}
	agents, err := h.store.ListAgentsByTeam(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []*v1.Agent{}
	}
	return agents, nil
}

func (h *Handlers) assignAgentTeam(ctx context.Context, agentID, teamID string) error {
	agent, err := h.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	agent.TeamID = teamID
	return h.store.SaveAgent(ctx, agent)
}
