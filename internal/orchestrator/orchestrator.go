// Package orchestrator supervises agents: it keeps the in-memory agent
// registry, re-derives agent states from pane scrapes, and dispatches queued
// tasks to idle agents.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tmuxagents/tmuxagents/internal/common/constants"
	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/internal/orchestrator/queue"
	"github.com/tmuxagents/tmuxagents/internal/runtimes"
	"github.com/tmuxagents/tmuxagents/internal/store"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// PromptComposer renders the prompt sent to an agent when a task is
// dispatched to it.
type PromptComposer interface {
	ComposeDispatchPrompt(task *v1.Task, lane *v1.SwimLane) string
}

// Orchestrator owns the agent registry and the task queue. The registry map
// and queue are guarded by one mutex; pane captures and store writes happen
// outside the critical section.
type Orchestrator struct {
	store    *store.Store
	driver   mux.Driver
	hosts    *runtimes.Hosts
	registry *runtimes.Registry
	composer PromptComposer
	log      *logger.Logger

	pollPeriod time.Duration

	mu     sync.Mutex
	agents map[string]*v1.Agent
	queue  *queue.TaskQueue
}

// New builds an orchestrator. Call LoadAgents before Run to restore the
// registry from the store.
func New(st *store.Store, driver mux.Driver, hosts *runtimes.Hosts, registry *runtimes.Registry, composer PromptComposer, pollPeriod time.Duration, log *logger.Logger) *Orchestrator {
	if pollPeriod <= 0 {
		pollPeriod = constants.OrchestratorPollPeriod
	}
	return &Orchestrator{
		store:      st,
		driver:     driver,
		hosts:      hosts,
		registry:   registry,
		composer:   composer,
		log:        log,
		pollPeriod: pollPeriod,
		agents:     make(map[string]*v1.Agent),
		queue:      queue.NewTaskQueue(),
	}
}

// LoadAgents restores non-terminal agents from the store and re-queues
// pending tasks.
func (o *Orchestrator) LoadAgents(ctx context.Context) error {
	agents, err := o.store.ListActiveAgents(ctx)
	if err != nil {
		return err
	}
	pending, err := o.store.ListTasksByStatus(ctx, v1.TaskPending)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range agents {
		o.agents[a.ID] = a
	}
	for _, t := range pending {
		if t.TargetRole != "" || t.AssignedAgentID == "" {
			_ = o.queue.Enqueue(t)
		}
	}
	return nil
}

// Run polls until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	o.scrapeAgents(ctx)
	o.dispatchNext(ctx)
}

// Enqueue adds a task to the dispatch queue.
func (o *Orchestrator) Enqueue(task *v1.Task) error {
	return o.queue.Enqueue(task)
}

// RemoveQueued drops a task from the queue, e.g. on cancellation.
func (o *Orchestrator) RemoveQueued(taskID string) bool {
	return o.queue.Remove(taskID)
}

// QueueLen returns the number of queued tasks.
func (o *Orchestrator) QueueLen() int {
	return o.queue.Len()
}

// DispatchNext assigns the highest-priority pending task to an idle agent.
// Returns the assigned agent id, or "" when nothing could be dispatched.
func (o *Orchestrator) DispatchNext(ctx context.Context) (string, error) {
	return o.dispatch(ctx)
}

func (o *Orchestrator) dispatchNext(ctx context.Context) {
	if _, err := o.dispatch(ctx); err != nil {
		o.log.WithError(err).Warn("dispatch failed")
	}
}

func (o *Orchestrator) dispatch(ctx context.Context) (string, error) {
	item := o.queue.Peek()
	if item == nil {
		return "", nil
	}

	o.mu.Lock()
	candidate := pickAgent(snapshotAgents(o.agents), item.Task)
	o.mu.Unlock()
	if candidate == nil {
		return "", nil
	}

	// Commit the pairing before the slow pane I/O.
	o.queue.Remove(item.TaskID)

	task := item.Task
	now := v1.Now()
	task.Status = v1.TaskAssigned
	task.AssignedAgentID = candidate.ID
	task.StartedAt = &now
	if err := o.store.SaveTask(ctx, task); err != nil {
		return "", err
	}

	var lane *v1.SwimLane
	if task.SwimLaneID != "" {
		lane, _ = o.store.GetSwimLane(ctx, task.SwimLaneID)
	}
	prompt := task.Description
	if o.composer != nil {
		prompt = o.composer.ComposeDispatchPrompt(task, lane)
	}

	if err := o.sendToAgent(ctx, candidate, prompt); err != nil {
		task.Status = v1.TaskFailed
		task.ErrorMessage = err.Error()
		_ = o.store.SaveTask(ctx, task)
		o.setAgentState(ctx, candidate.ID, v1.AgentError, err.Error())
		return "", err
	}

	o.mu.Lock()
	if a, ok := o.agents[candidate.ID]; ok {
		a.State = v1.AgentWorking
		a.CurrentTaskID = task.ID
		candidate = a
	}
	o.mu.Unlock()
	if err := o.store.SaveAgent(ctx, candidate); err != nil {
		return "", err
	}
	o.log.WithTaskID(task.ID).WithAgentID(candidate.ID).Info("task dispatched")
	return candidate.ID, nil
}

func (o *Orchestrator) sendToAgent(ctx context.Context, agent *v1.Agent, prompt string) error {
	target, err := o.hosts.Mux(agent.RuntimeID)
	if err != nil {
		return err
	}
	return o.driver.SendKeys(ctx, target, agent.SessionName, agent.WindowIndex, agent.PaneIndex, prompt, true)
}

// pickAgent selects the dispatch candidate: idle agents only, filtered by
// target role when set, stably sorted so expertise matches come first.
func pickAgent(agents []*v1.Agent, task *v1.Task) *v1.Agent {
	var candidates []*v1.Agent
	for _, a := range agents {
		if a.State != v1.AgentIdle {
			continue
		}
		if task.TargetRole != "" && string(a.Role) != task.TargetRole {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return nil
	}
	hint := expertiseHint(task)
	if hint != "" {
		// Stable partition: matching agents keep their relative order and
		// move ahead of non-matching ones.
		var matched, rest []*v1.Agent
		for _, a := range candidates {
			if matchesExpertise(a, hint) {
				matched = append(matched, a)
			} else {
				rest = append(rest, a)
			}
		}
		candidates = append(matched, rest...)
	}
	return candidates[0]
}

func (o *Orchestrator) setAgentState(ctx context.Context, agentID string, state v1.AgentState, errMsg string) {
	o.mu.Lock()
	agent, ok := o.agents[agentID]
	if ok {
		agent.State = state
		agent.ErrorMessage = errMsg
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	if err := o.store.SaveAgent(ctx, agent); err != nil {
		o.log.WithError(err).WithAgentID(agentID).Warn("agent state save failed")
	}
}

// PostMessage queues an agent-to-agent note and broadcasts it on the bus.
func (o *Orchestrator) PostMessage(ctx context.Context, msg *v1.AgentMessage) error {
	return o.store.SaveAgentMessage(ctx, msg)
}

// Messages returns the queued messages for an agent, marking them read.
func (o *Orchestrator) Messages(ctx context.Context, agentID string, unreadOnly bool) ([]*v1.AgentMessage, error) {
	return o.store.ListAgentMessages(ctx, agentID, unreadOnly)
}

func snapshotAgents(m map[string]*v1.Agent) []*v1.Agent {
	out := make([]*v1.Agent, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	// Map iteration order is random; sort for deterministic dispatch.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
