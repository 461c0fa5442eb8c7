package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/db"
	"github.com/tmuxagents/tmuxagents/internal/events/bus"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/internal/runtimes"
	"github.com/tmuxagents/tmuxagents/internal/store"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// fakeDriver is a scriptable in-memory mux.Driver.
type fakeDriver struct {
	mu          sync.Mutex
	captures    map[string]string // session:window -> captured text
	sent        []string
	sessions    map[string]bool
	nextWindow  int
	captureErr  error
	sendKeysErr error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		captures:   map[string]string{},
		sessions:   map[string]bool{},
		nextWindow: 1,
	}
}

func key(session string, window int) string {
	return session + ":" + string(rune('0'+window))
}

func (f *fakeDriver) ListSessions(_ context.Context, _ mux.Runtime) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for n := range f.sessions {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeDriver) GetTree(_ context.Context, _ mux.Runtime) ([]mux.Session, error) {
	return nil, nil
}

func (f *fakeDriver) GetTreeFresh(ctx context.Context, rt mux.Runtime) ([]mux.Session, error) {
	return f.GetTree(ctx, rt)
}

func (f *fakeDriver) NewSession(_ context.Context, _ mux.Runtime, name string, _ mux.NewSessionOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[name] = true
	return nil
}

func (f *fakeDriver) KillSession(_ context.Context, _ mux.Runtime, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, name)
	return nil
}

func (f *fakeDriver) RenameSession(_ context.Context, _ mux.Runtime, name, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessions[name] {
		delete(f.sessions, name)
		f.sessions[newName] = true
	}
	return nil
}

func (f *fakeDriver) NewWindow(_ context.Context, _ mux.Runtime, _ string, _ mux.NewWindowOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.nextWindow
	f.nextWindow++
	return idx, nil
}

func (f *fakeDriver) KillWindow(_ context.Context, _ mux.Runtime, _ string, _ int) error { return nil }
func (f *fakeDriver) RenameWindow(_ context.Context, _ mux.Runtime, _ string, _ int, _ string) error {
	return nil
}
func (f *fakeDriver) SelectWindow(_ context.Context, _ mux.Runtime, _ string, _ int) error {
	return nil
}
func (f *fakeDriver) SetWindowOption(_ context.Context, _ mux.Runtime, _ string, _ int, _, _ string) error {
	return nil
}
func (f *fakeDriver) SplitPane(_ context.Context, _ mux.Runtime, _ string, _ int, _ bool) error {
	return nil
}
func (f *fakeDriver) KillPane(_ context.Context, _ mux.Runtime, _ string, _, _ int) error { return nil }
func (f *fakeDriver) SelectPane(_ context.Context, _ mux.Runtime, _ string, _, _ int) error {
	return nil
}

func (f *fakeDriver) SendKeys(_ context.Context, _ mux.Runtime, _ string, _, _ int, text string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendKeysErr != nil {
		return f.sendKeysErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeDriver) Capture(_ context.Context, _ mux.Runtime, session string, window, _, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return "", f.captureErr
	}
	return f.captures[key(session, window)], nil
}

func (f *fakeDriver) ReadPaneOptions(_ context.Context, _ mux.Runtime, paneIDs []string) (map[string]map[string]string, error) {
	out := map[string]map[string]string{}
	for _, id := range paneIDs {
		out[id] = map[string]string{}
	}
	return out, nil
}

func (f *fakeDriver) SessionAttached(_ context.Context, _ mux.Runtime, _ string) (bool, error) {
	return false, nil
}

func (f *fakeDriver) Exec(_ context.Context, _ mux.Runtime, _ string) (string, error) {
	return "", nil
}

func (f *fakeDriver) setCapture(session string, window int, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures[key(session, window)] = text
}

func (f *fakeDriver) sentPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sent...)
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store, *fakeDriver) {
	t.Helper()
	mem, err := db.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	st, err := store.New(context.Background(), db.NewPool(mem, mem), bus.NewMemoryEventBus(logger.Default()), logger.Default())
	require.NoError(t, err)

	registry, err := runtimes.NewRegistry(runtimes.Options{DefaultProvider: "claude"})
	require.NoError(t, err)

	driver := newFakeDriver()
	hosts := runtimes.NewHosts(nil)
	o := New(st, driver, hosts, registry, nil, 0, logger.Default())
	return o, st, driver
}

func addAgent(t *testing.T, o *Orchestrator, st *store.Store, role v1.AgentRole, state v1.AgentState, window int, expertise ...string) *v1.Agent {
	t.Helper()
	agent := &v1.Agent{
		Role: role, Provider: "claude", RuntimeID: "local",
		SessionName: "main", WindowIndex: window, PaneIndex: 0,
		State: state, Expertise: expertise,
	}
	require.NoError(t, st.SaveAgent(context.Background(), agent))
	o.mu.Lock()
	o.agents[agent.ID] = agent
	o.mu.Unlock()
	return agent
}

func TestPickAgentRoleFilter(t *testing.T) {
	coder := &v1.Agent{ID: "c", Role: v1.RoleCoder, State: v1.AgentIdle}
	tester := &v1.Agent{ID: "t", Role: v1.RoleTester, State: v1.AgentIdle}
	busy := &v1.Agent{ID: "b", Role: v1.RoleTester, State: v1.AgentWorking}

	got := pickAgent([]*v1.Agent{coder, tester, busy}, &v1.Task{TargetRole: "tester"})
	require.NotNil(t, got)
	assert.Equal(t, "t", got.ID)

	assert.Nil(t, pickAgent([]*v1.Agent{busy}, &v1.Task{TargetRole: "tester"}))
}

func TestPickAgentExpertiseOrdering(t *testing.T) {
	generalist := &v1.Agent{ID: "g", Role: v1.RoleCoder, State: v1.AgentIdle}
	dbExpert := &v1.Agent{ID: "db", Role: v1.RoleCoder, State: v1.AgentIdle, Expertise: []string{"postgres"}}

	task := &v1.Task{Description: "tune the Postgres indexes"}
	got := pickAgent([]*v1.Agent{generalist, dbExpert}, task)
	require.NotNil(t, got)
	assert.Equal(t, "db", got.ID)

	// Without a matching hint, submission order wins.
	got = pickAgent([]*v1.Agent{generalist, dbExpert}, &v1.Task{Description: "write docs"})
	assert.Equal(t, "g", got.ID)
}

func TestDispatchAssignsTask(t *testing.T) {
	o, st, driver := newTestOrchestrator(t)
	ctx := context.Background()

	agent := addAgent(t, o, st, v1.RoleCoder, v1.AgentIdle, 1)

	task := &v1.Task{Description: "fix the login flow", Priority: 7}
	require.NoError(t, st.CreateTask(ctx, task))
	require.NoError(t, o.Enqueue(task))

	agentID, err := o.DispatchNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, agentID)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.TaskAssigned, got.Status)
	assert.Equal(t, agent.ID, got.AssignedAgentID)
	assert.NotNil(t, got.StartedAt)

	prompts := driver.sentPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "fix the login flow")

	gotAgent, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.AgentWorking, gotAgent.State)
	assert.Equal(t, task.ID, gotAgent.CurrentTaskID)
	assert.Equal(t, 0, o.QueueLen())
}

func TestDispatchSendFailureFailsTask(t *testing.T) {
	o, st, driver := newTestOrchestrator(t)
	ctx := context.Background()
	driver.sendKeysErr = errors.New("pane gone")

	agent := addAgent(t, o, st, v1.RoleCoder, v1.AgentIdle, 1)

	task := &v1.Task{Description: "d"}
	require.NoError(t, st.CreateTask(ctx, task))
	require.NoError(t, o.Enqueue(task))

	_, err := o.DispatchNext(ctx)
	require.Error(t, err)

	got, _ := st.GetTask(ctx, task.ID)
	assert.Equal(t, v1.TaskFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)

	gotAgent, _ := st.GetAgent(ctx, agent.ID)
	assert.Equal(t, v1.AgentError, gotAgent.State)
}

func TestScrapeSpawningToIdle(t *testing.T) {
	o, st, driver := newTestOrchestrator(t)
	ctx := context.Background()

	agent := addAgent(t, o, st, v1.RoleCoder, v1.AgentSpawning, 1)
	driver.setCapture("main", 1, "Welcome to claude\n❯")

	o.scrapeAgents(ctx)

	got, _ := st.GetAgent(ctx, agent.ID)
	assert.Equal(t, v1.AgentIdle, got.State)
}

func TestScrapeWorkingToIdleCompletesTask(t *testing.T) {
	o, st, driver := newTestOrchestrator(t)
	ctx := context.Background()

	task := &v1.Task{Description: "d", Status: v1.TaskInProgress, KanbanColumn: v1.ColumnInProgress}
	require.NoError(t, st.CreateTask(ctx, task))

	agent := addAgent(t, o, st, v1.RoleCoder, v1.AgentWorking, 1)
	o.mu.Lock()
	o.agents[agent.ID].CurrentTaskID = task.ID
	o.mu.Unlock()

	driver.setCapture("main", 1, "all done\n❯")
	o.scrapeAgents(ctx)

	gotTask, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ColumnDone, gotTask.KanbanColumn)
	assert.Equal(t, v1.TaskCompleted, gotTask.Status)
	assert.NotNil(t, gotTask.DoneAt)
	assert.NotNil(t, gotTask.CompletedAt)

	gotAgent, _ := st.GetAgent(ctx, agent.ID)
	assert.Equal(t, v1.AgentIdle, gotAgent.State)
	assert.Empty(t, gotAgent.CurrentTaskID)
}

func TestScrapeCaptureErrorMarksError(t *testing.T) {
	o, st, driver := newTestOrchestrator(t)
	ctx := context.Background()

	agent := addAgent(t, o, st, v1.RoleCoder, v1.AgentIdle, 1)
	driver.captureErr = errors.New("no such pane")

	o.scrapeAgents(ctx)

	got, _ := st.GetAgent(ctx, agent.ID)
	assert.Equal(t, v1.AgentError, got.State)
}

func TestKillAgentTerminates(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	agent := addAgent(t, o, st, v1.RoleCoder, v1.AgentIdle, 1)
	require.NoError(t, o.KillAgent(ctx, agent.ID))

	got, _ := st.GetAgent(ctx, agent.ID)
	assert.Equal(t, v1.AgentTerminated, got.State)
	assert.Empty(t, o.Agents())
}
