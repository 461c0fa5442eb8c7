package orchestrator

import (
	"context"
	"strings"

	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/internal/runtimes"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

const scrapeCaptureLines = 120

// scrapeAgents re-derives the state of every live agent from its pane.
// Captures happen outside the registry lock.
func (o *Orchestrator) scrapeAgents(ctx context.Context) {
	o.mu.Lock()
	agents := snapshotAgents(o.agents)
	o.mu.Unlock()

	for _, agent := range agents {
		if agent.State.Terminal() {
			continue
		}
		o.scrapeOne(ctx, agent)
	}
}

func (o *Orchestrator) scrapeOne(ctx context.Context, agent *v1.Agent) {
	target, err := o.hosts.Mux(agent.RuntimeID)
	if err != nil {
		o.applyTransition(ctx, agent.ID, v1.AgentError, err.Error())
		return
	}

	captured, err := o.driver.Capture(ctx, target, agent.SessionName, agent.WindowIndex, agent.PaneIndex, scrapeCaptureLines)
	if err != nil {
		if agent.State == v1.AgentIdle || agent.State == v1.AgentWorking {
			o.applyTransition(ctx, agent.ID, v1.AgentError, err.Error())
		}
		return
	}

	status := o.paneStatus(ctx, target, agent, captured)

	switch agent.State {
	case v1.AgentSpawning:
		if strings.TrimSpace(captured) != "" {
			o.applyTransition(ctx, agent.ID, v1.AgentIdle, "")
		}
	case v1.AgentIdle, v1.AgentError:
		if status == runtimes.StatusWorking {
			o.applyTransition(ctx, agent.ID, v1.AgentWorking, "")
		}
	case v1.AgentWorking:
		if status == runtimes.StatusWaiting || status == runtimes.StatusIdle {
			o.completeCurrentTask(ctx, agent.ID)
			o.applyTransition(ctx, agent.ID, v1.AgentIdle, "")
		}
	}
}

// paneStatus combines the capture heuristic with any published @cc_state,
// which wins when present.
func (o *Orchestrator) paneStatus(ctx context.Context, target mux.Runtime, agent *v1.Agent, captured string) runtimes.PaneStatus {
	status := o.registry.DetectStatus(agent.Provider, captured)

	tree, err := o.driver.GetTree(ctx, target)
	if err != nil {
		return status
	}
	window, ok := mux.FindWindow(tree, agent.SessionName, agent.WindowIndex)
	if !ok {
		return status
	}
	for _, pane := range window.Panes {
		if pane.Index != agent.PaneIndex {
			continue
		}
		opts, err := o.driver.ReadPaneOptions(ctx, target, []string{pane.PaneID})
		if err != nil {
			break
		}
		md := runtimes.ReadPaneMetadata(opts[pane.PaneID])
		if published, ok := runtimes.StatusFromMetadata(md); ok {
			return published
		}
		break
	}
	return status
}

// applyTransition updates the registry entry and persists it.
func (o *Orchestrator) applyTransition(ctx context.Context, agentID string, state v1.AgentState, errMsg string) {
	o.mu.Lock()
	agent, ok := o.agents[agentID]
	if ok && agent.State != state {
		agent.State = state
		agent.ErrorMessage = errMsg
	} else {
		ok = false
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	if err := o.store.SaveAgent(ctx, agent); err != nil {
		o.log.WithError(err).WithAgentID(agentID).Warn("agent transition save failed")
	}
}

// completeCurrentTask finishes the agent's task once its pane goes quiet:
// the task moves to done, completedAt is stamped and task.completed fires
// via the store.
func (o *Orchestrator) completeCurrentTask(ctx context.Context, agentID string) {
	o.mu.Lock()
	agent, ok := o.agents[agentID]
	var taskID string
	if ok {
		taskID = agent.CurrentTaskID
		agent.CurrentTaskID = ""
	}
	o.mu.Unlock()
	if !ok || taskID == "" {
		return
	}

	if _, err := o.store.MoveTask(ctx, taskID, v1.ColumnDone); err != nil {
		o.log.WithError(err).WithTaskID(taskID).Warn("task completion move failed")
	}
}

// expertiseHint derives the matching corpus from the task text.
func expertiseHint(task *v1.Task) string {
	return strings.ToLower(strings.TrimSpace(task.Description + " " + task.Details))
}

// matchesExpertise reports whether any expertise entry occurs in the hint.
func matchesExpertise(agent *v1.Agent, hint string) bool {
	for _, e := range agent.Expertise {
		if e == "" {
			continue
		}
		if strings.Contains(hint, strings.ToLower(e)) {
			return true
		}
	}
	return false
}
