package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/db"
	"github.com/tmuxagents/tmuxagents/internal/events/bus"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (b *recordingBus) Publish(_ context.Context, _ string, event *bus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(string, bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}
func (b *recordingBus) Close()            {}
func (b *recordingBus) IsConnected() bool { return true }

func (b *recordingBus) ofType(eventType string) []*bus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*bus.Event
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestStore(t *testing.T) (*Store, *recordingBus) {
	t.Helper()
	mem, err := db.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	rec := &recordingBus{}
	s, err := New(context.Background(), db.NewPool(mem, mem), rec, logger.Default())
	require.NoError(t, err)
	return s, rec
}

func TestTaskRoundTrip(t *testing.T) {
	s, rec := newTestStore(t)
	ctx := context.Background()

	win := 2
	task := &v1.Task{
		Description:     "write hello.py",
		Details:         "python 3",
		SwimLaneID:      "",
		Priority:        7,
		AutoStart:       v1.Bool(true),
		AutoClose:       nil,
		DependsOn:       []string{"a", "b"},
		TmuxSessionName: "main",
		TmuxWindowIndex: &win,
		TmuxRuntimeID:   "local",
	}
	require.NoError(t, s.CreateTask(ctx, task))
	require.NotEmpty(t, task.ID)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Description, got.Description)
	assert.Equal(t, v1.TaskPending, got.Status)
	assert.Equal(t, v1.ColumnBacklog, got.KanbanColumn)
	assert.Equal(t, []string{"a", "b"}, got.DependsOn)
	require.NotNil(t, got.AutoStart)
	assert.True(t, *got.AutoStart)
	assert.Nil(t, got.AutoClose)
	require.NotNil(t, got.TmuxWindowIndex)
	assert.Equal(t, 2, *got.TmuxWindowIndex)
	assert.Nil(t, got.TmuxPaneIndex)

	assert.Len(t, rec.ofType("task.updated"), 1)
}

func TestGetTaskNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetTask(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMoveTaskDoneIsIdempotent(t *testing.T) {
	s, rec := newTestStore(t)
	ctx := context.Background()

	task := &v1.Task{Description: "d"}
	require.NoError(t, s.CreateTask(ctx, task))

	first, err := s.MoveTask(ctx, task.ID, v1.ColumnDone)
	require.NoError(t, err)
	require.NotNil(t, first.DoneAt)
	assert.Equal(t, v1.TaskCompleted, first.Status)

	// Repeated moves into done are no-ops: one event, one doneAt.
	_, err = s.MoveTask(ctx, task.ID, v1.ColumnDone)
	require.NoError(t, err)
	second, err := s.MoveTask(ctx, task.ID, v1.ColumnDone)
	require.NoError(t, err)
	assert.Equal(t, *first.DoneAt, *second.DoneAt)

	assert.Len(t, rec.ofType("task.completed"), 1)
}

func TestMoveOutOfDoneClearsDoneAt(t *testing.T) {
	s, rec := newTestStore(t)
	ctx := context.Background()

	task := &v1.Task{Description: "d"}
	require.NoError(t, s.CreateTask(ctx, task))

	done, err := s.MoveTask(ctx, task.ID, v1.ColumnDone)
	require.NoError(t, err)
	require.NotNil(t, done.DoneAt)

	back, err := s.MoveTask(ctx, task.ID, v1.ColumnTodo)
	require.NoError(t, err)
	assert.Nil(t, back.DoneAt)

	fresh, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.DoneAt)

	// Returning to done is a fresh completion.
	again, err := s.MoveTask(ctx, task.ID, v1.ColumnDone)
	require.NoError(t, err)
	require.NotNil(t, again.DoneAt)
	assert.Len(t, rec.ofType("task.completed"), 2)
}

func TestMoveTaskRejectsUnknownColumn(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	task := &v1.Task{Description: "d"}
	require.NoError(t, s.CreateTask(ctx, task))

	_, err := s.MoveTask(ctx, task.ID, "sideways")
	assert.Error(t, err)
}

func TestDeleteLaneDetachesTasks(t *testing.T) {
	s, rec := newTestStore(t)
	ctx := context.Background()

	lane := &v1.SwimLane{Name: "L1", RuntimeID: "local", WorkingDir: "/tmp/p"}
	require.NoError(t, s.SaveSwimLane(ctx, lane))

	task := &v1.Task{Description: "d", SwimLaneID: lane.ID}
	require.NoError(t, s.CreateTask(ctx, task))

	require.NoError(t, s.DeleteSwimLane(ctx, lane.ID))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SwimLaneID)

	assert.Len(t, rec.ofType("lane.deleted"), 1)
}

func TestLaneTriStateFlagsRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	lane := &v1.SwimLane{
		Name: "L1", RuntimeID: "local",
		AutoPilot: v1.Bool(false), UseWorktree: v1.Bool(true),
	}
	require.NoError(t, s.SaveSwimLane(ctx, lane))

	got, err := s.GetSwimLane(ctx, lane.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AutoStart)
	require.NotNil(t, got.AutoPilot)
	assert.False(t, *got.AutoPilot)
	require.NotNil(t, got.UseWorktree)
	assert.True(t, *got.UseWorktree)
	// Session name defaults to the lane name.
	assert.Equal(t, "L1", got.SessionName)
}

func TestAgentPaneConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a1 := &v1.Agent{Role: v1.RoleCoder, Provider: "claude", RuntimeID: "local",
		SessionName: "main", WindowIndex: 1, PaneIndex: 0, State: v1.AgentIdle}
	require.NoError(t, s.SaveAgent(ctx, a1))

	dup := &v1.Agent{Role: v1.RoleTester, Provider: "gemini", RuntimeID: "local",
		SessionName: "main", WindowIndex: 1, PaneIndex: 0, State: v1.AgentSpawning}
	err := s.SaveAgent(ctx, dup)
	assert.Error(t, err)

	// A terminated occupant does not block the pane.
	a1.State = v1.AgentTerminated
	require.NoError(t, s.SaveAgent(ctx, a1))
	dup.ID = ""
	assert.NoError(t, s.SaveAgent(ctx, dup))
}

func TestTeamDeleteClearsMembership(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	agent := &v1.Agent{Role: v1.RoleCoder, Provider: "claude", RuntimeID: "local",
		SessionName: "main", WindowIndex: 1, PaneIndex: 0, State: v1.AgentIdle}
	require.NoError(t, s.SaveAgent(ctx, agent))

	team := &v1.Team{Name: "alpha", AgentIDs: []string{agent.ID}}
	require.NoError(t, s.SaveTeam(ctx, team))
	agent.TeamID = team.ID
	require.NoError(t, s.SaveAgent(ctx, agent))

	require.NoError(t, s.DeleteTeam(ctx, team.ID))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TeamID)
}

func TestPipelineRunEvents(t *testing.T) {
	s, rec := newTestStore(t)
	ctx := context.Background()

	p := &v1.Pipeline{Name: "review", Stages: []v1.Stage{{ID: "s1", Name: "code", Type: v1.StageSequential}}}
	require.NoError(t, s.SavePipeline(ctx, p))

	run := &v1.PipelineRun{PipelineID: p.ID, Status: v1.RunRunning}
	require.NoError(t, s.SavePipelineRun(ctx, run))
	assert.Len(t, rec.ofType("pipeline.run.started"), 1)

	run.StageResults["s1"] = &v1.StageResult{Status: v1.StageCompletedState, Output: "x"}
	require.NoError(t, s.SavePipelineRun(ctx, run))
	assert.Len(t, rec.ofType("pipeline.run.updated"), 1)

	got, err := s.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	require.Contains(t, got.StageResults, "s1")
	assert.Equal(t, "x", got.StageResults["s1"].Output)
}

func TestBuiltInTemplateUndeletable(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	tpl := &v1.Template{Name: "reviewer", Role: "reviewer", Content: "review carefully", BuiltIn: true}
	require.NoError(t, s.SaveTemplate(ctx, tpl))

	err := s.DeleteTemplate(ctx, tpl.ID)
	assert.Error(t, err)
}

func TestAgentMessagesMarkRead(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAgentMessage(ctx, &v1.AgentMessage{From: "a1", To: "a2", Content: "hi"}))
	require.NoError(t, s.SaveAgentMessage(ctx, &v1.AgentMessage{From: "a1", To: "a2", Content: "again"}))

	msgs, err := s.ListAgentMessages(ctx, "a2", true)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)

	msgs, err = s.ListAgentMessages(ctx, "a2", true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestOnSync(t *testing.T) {
	s, _ := newTestStore(t)
	var called int
	s.OnSync(func() { called++ })
	s.NotifySync()
	s.NotifySync()
	assert.Equal(t, 2, called)
}
