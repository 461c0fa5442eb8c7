package orchestrator

import (
	"context"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// SpawnAgentRequest describes a new agent to start.
type SpawnAgentRequest struct {
	Role        v1.AgentRole
	Provider    string
	Model       string
	RuntimeID   string
	SessionName string
	TeamID      string
	Expertise   []string
	WorkingDir  string
}

// SpawnAgent creates a window in the target session, launches the provider
// CLI in it and registers the agent in spawning state.
func (o *Orchestrator) SpawnAgent(ctx context.Context, req SpawnAgentRequest) (*v1.Agent, error) {
	provider := o.registry.ResolveProvider(req.Provider, "")
	launch, err := o.registry.InteractiveLaunch(provider, req.Model)
	if err != nil {
		return nil, err
	}
	target, err := o.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}

	exists, err := mux.HasSession(ctx, o.driver, target, req.SessionName)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := o.driver.NewSession(ctx, target, req.SessionName, mux.NewSessionOptions{CWD: req.WorkingDir}); err != nil {
			return nil, err
		}
	}

	windowIndex, err := o.driver.NewWindow(ctx, target, req.SessionName, mux.NewWindowOptions{
		Name: "agent-" + string(req.Role),
		CWD:  req.WorkingDir,
	})
	if err != nil {
		return nil, err
	}
	if err := o.driver.SendKeys(ctx, target, req.SessionName, windowIndex, 0, launch, true); err != nil {
		return nil, err
	}

	agent := &v1.Agent{
		Role:        req.Role,
		Provider:    provider,
		Model:       req.Model,
		RuntimeID:   req.RuntimeID,
		SessionName: req.SessionName,
		WindowIndex: windowIndex,
		PaneIndex:   0,
		State:       v1.AgentSpawning,
		TeamID:      req.TeamID,
		Expertise:   req.Expertise,
	}
	if err := o.store.SaveAgent(ctx, agent); err != nil {
		// The window exists but the record does not; kill it so the pane
		// invariant holds on retry.
		_ = o.driver.KillWindow(ctx, target, req.SessionName, windowIndex)
		return nil, err
	}

	o.mu.Lock()
	o.agents[agent.ID] = agent
	o.mu.Unlock()
	return agent, nil
}

// KillAgent kills the agent's window and marks it terminated.
func (o *Orchestrator) KillAgent(ctx context.Context, agentID string) error {
	o.mu.Lock()
	agent, ok := o.agents[agentID]
	o.mu.Unlock()
	if !ok {
		stored, err := o.store.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		agent = stored
	}
	if agent.State == v1.AgentTerminated {
		return nil
	}

	if target, err := o.hosts.Mux(agent.RuntimeID); err == nil {
		_ = o.driver.KillWindow(ctx, target, agent.SessionName, agent.WindowIndex)
	}

	o.mu.Lock()
	agent.State = v1.AgentTerminated
	agent.CurrentTaskID = ""
	delete(o.agents, agentID)
	o.mu.Unlock()
	return o.store.SaveAgent(ctx, agent)
}

// SendPrompt types a prompt into the agent's pane.
func (o *Orchestrator) SendPrompt(ctx context.Context, agentID, prompt string) error {
	agent, err := o.agent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.State.Terminal() {
		return apperrors.Precondition("agent is terminated")
	}
	return o.sendToAgent(ctx, agent, prompt)
}

// GetOutput captures the tail of the agent's pane.
func (o *Orchestrator) GetOutput(ctx context.Context, agentID string, lines int) (string, error) {
	agent, err := o.agent(ctx, agentID)
	if err != nil {
		return "", err
	}
	target, err := o.hosts.Mux(agent.RuntimeID)
	if err != nil {
		return "", err
	}
	return o.driver.Capture(ctx, target, agent.SessionName, agent.WindowIndex, agent.PaneIndex, lines)
}

// UpdateAgentState forces a state, bypassing the scrape heuristic.
func (o *Orchestrator) UpdateAgentState(ctx context.Context, agentID string, state v1.AgentState, errMsg string) error {
	o.mu.Lock()
	agent, ok := o.agents[agentID]
	if ok {
		agent.State = state
		agent.ErrorMessage = errMsg
		if state.Terminal() {
			agent.CurrentTaskID = ""
			delete(o.agents, agentID)
		}
	}
	o.mu.Unlock()
	if !ok {
		return apperrors.NotFound("agent", agentID)
	}
	return o.store.SaveAgent(ctx, agent)
}

// Agents returns a snapshot of registered agents.
func (o *Orchestrator) Agents() []*v1.Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return snapshotAgents(o.agents)
}

// Agent returns one registered agent by id.
func (o *Orchestrator) Agent(ctx context.Context, agentID string) (*v1.Agent, error) {
	return o.agent(ctx, agentID)
}

func (o *Orchestrator) agent(ctx context.Context, agentID string) (*v1.Agent, error) {
	o.mu.Lock()
	agent, ok := o.agents[agentID]
	o.mu.Unlock()
	if ok {
		return agent, nil
	}
	return o.store.GetAgent(ctx, agentID)
}

// IdleAgents returns the agents currently idle.
func (o *Orchestrator) IdleAgents() []*v1.Agent {
	var out []*v1.Agent
	for _, a := range o.Agents() {
		if a.State == v1.AgentIdle {
			out = append(out, a)
		}
	}
	return out
}

// AgentsByRole returns the agents with the given role.
func (o *Orchestrator) AgentsByRole(role v1.AgentRole) []*v1.Agent {
	var out []*v1.Agent
	for _, a := range o.Agents() {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// AgentsByTeam returns the agents of one team.
func (o *Orchestrator) AgentsByTeam(teamID string) []*v1.Agent {
	var out []*v1.Agent
	for _, a := range o.Agents() {
		if a.TeamID == teamID {
			out = append(out, a)
		}
	}
	return out
}
