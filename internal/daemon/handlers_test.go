package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxagents/tmuxagents/internal/common/config"
	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/db"
	"github.com/tmuxagents/tmuxagents/internal/events/bus"
	"github.com/tmuxagents/tmuxagents/internal/launcher"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/internal/orchestrator"
	"github.com/tmuxagents/tmuxagents/internal/pipeline"
	"github.com/tmuxagents/tmuxagents/internal/runtimes"
	"github.com/tmuxagents/tmuxagents/internal/store"
	"github.com/tmuxagents/tmuxagents/internal/worktree"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

// fakeDriver overrides the handful of driver methods the handler tests
// exercise; everything else panics if reached.
type fakeDriver struct {
	mux.Driver
	killedSessions []string
}

func (f *fakeDriver) ListSessions(_ context.Context, _ mux.Runtime) ([]string, error) {
	return nil, nil
}

func (f *fakeDriver) GetTree(_ context.Context, _ mux.Runtime) ([]mux.Session, error) {
	return nil, nil
}

func (f *fakeDriver) KillSession(_ context.Context, _ mux.Runtime, name string) error {
	f.killedSessions = append(f.killedSessions, name)
	return nil
}

func newTestHandlers(t *testing.T) (*Handlers, *rpc.Dispatcher, *store.Store) {
	t.Helper()
	mem, err := db.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	log := logger.Default()
	eb := bus.NewMemoryEventBus(log)
	st, err := store.New(context.Background(), db.NewPool(mem, mem), eb, log)
	require.NoError(t, err)

	registry, err := runtimes.NewRegistry(runtimes.Options{DefaultProvider: "claude"})
	require.NoError(t, err)

	driver := &fakeDriver{}
	hosts := runtimes.NewHosts(nil)
	wt := worktree.NewManager(driver, log)
	l := launcher.New(st, driver, hosts, registry, wt, log)
	t.Cleanup(l.Close)
	orch := orchestrator.New(st, driver, hosts, registry, l, time.Second, log)
	engine := pipeline.NewEngine(st, orch, log)

	h := NewHandlers(Deps{
		Config:    &config.Config{},
		Store:     st,
		Driver:    driver,
		Hosts:     hosts,
		Registry:  registry,
		Orch:      orch,
		Launcher:  l,
		Pipelines: engine,
		Version:   "test",
		Log:       log,
	})
	d := rpc.NewDispatcher()
	h.Register(d)
	return h, d, st
}

func call(t *testing.T, d *rpc.Dispatcher, method string, payload interface{}) *rpc.Message {
	t.Helper()
	req, err := rpc.NewRequest("req-1", method, payload)
	require.NoError(t, err)
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func callOK(t *testing.T, d *rpc.Dispatcher, method string, payload, out interface{}) {
	t.Helper()
	resp := call(t, d, method, payload)
	require.Equal(t, rpc.MessageTypeResponse, resp.Type, "unexpected error response: %s", string(resp.Payload))
	if out != nil {
		require.NoError(t, resp.ParsePayload(out))
	}
}

func callErr(t *testing.T, d *rpc.Dispatcher, method string, payload interface{}) rpc.ErrorPayload {
	t.Helper()
	resp := call(t, d, method, payload)
	require.Equal(t, rpc.MessageTypeError, resp.Type)
	var ep rpc.ErrorPayload
	require.NoError(t, resp.ParsePayload(&ep))
	return ep
}

func TestRuntimeListIncludesLocal(t *testing.T) {
	_, d, _ := newTestHandlers(t)

	var rts []*v1.Runtime
	callOK(t, d, rpc.MethodRuntimeList, struct{}{}, &rts)
	require.Len(t, rts, 1)
	assert.Equal(t, "local", rts[0].ID)
}

func TestRuntimeTestConnectionUnknownRuntime(t *testing.T) {
	_, d, _ := newTestHandlers(t)

	ep := callErr(t, d, rpc.MethodRuntimeTestConnection, map[string]string{"runtimeId": "mars"})
	assert.Equal(t, "NOT_FOUND", ep.Code)
}

func TestInvalidParamCode(t *testing.T) {
	_, d, _ := newTestHandlers(t)

	ep := callErr(t, d, rpc.MethodKanbanGetTask, map[string]string{})
	assert.Equal(t, "INVALID_PARAM", ep.Code)
	assert.Contains(t, ep.Message, "taskId")
}

func TestTaskSubmitAndQuery(t *testing.T) {
	_, d, _ := newTestHandlers(t)

	var created v1.Task
	callOK(t, d, rpc.MethodTaskSubmit, map[string]interface{}{
		"description": "investigate flaky test",
		"targetRole":  "researcher",
	}, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, v1.TaskPending, created.Status)

	var fetched v1.Task
	callOK(t, d, rpc.MethodTaskQuery, map[string]string{"taskId": created.ID}, &fetched)
	assert.Equal(t, created.ID, fetched.ID)
}

func TestTaskSubmitRejectsUnknownDependency(t *testing.T) {
	_, d, _ := newTestHandlers(t)

	ep := callErr(t, d, rpc.MethodTaskSubmit, map[string]interface{}{
		"description": "blocked work",
		"dependsOn":   []string{"no-such-task"},
	})
	assert.Equal(t, "INVALID_PARAM", ep.Code)
}

func TestTaskSubmitRejectsDependencyCycle(t *testing.T) {
	_, d, st := newTestHandlers(t)
	ctx := context.Background()

	a := &v1.Task{Description: "a"}
	require.NoError(t, st.CreateTask(ctx, a))
	b := &v1.Task{Description: "b", DependsOn: []string{a.ID}}
	require.NoError(t, st.CreateTask(ctx, b))
	a.DependsOn = []string{b.ID}
	require.NoError(t, st.SaveTask(ctx, a))

	ep := callErr(t, d, rpc.MethodTaskSubmit, map[string]interface{}{
		"description": "caught in the loop",
		"dependsOn":   []string{a.ID},
	})
	assert.Equal(t, "INVALID_PARAM", ep.Code)
	assert.Contains(t, ep.Message, "cycle")
}

func TestEditTaskRejectsDependencyCycle(t *testing.T) {
	_, d, st := newTestHandlers(t)
	ctx := context.Background()

	a := &v1.Task{Description: "a"}
	require.NoError(t, st.CreateTask(ctx, a))
	b := &v1.Task{Description: "b", DependsOn: []string{a.ID}}
	require.NoError(t, st.CreateTask(ctx, b))

	// B already depends on A; pointing A back at B closes the loop.
	ep := callErr(t, d, rpc.MethodKanbanEditTask, map[string]interface{}{
		"taskId":    a.ID,
		"dependsOn": []string{b.ID},
	})
	assert.Equal(t, "INVALID_PARAM", ep.Code)
	assert.Contains(t, ep.Message, "cycle")

	fresh, err := st.GetTask(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.DependsOn)

	// A self-dependency is the degenerate loop.
	ep = callErr(t, d, rpc.MethodKanbanEditTask, map[string]interface{}{
		"taskId":    a.ID,
		"dependsOn": []string{a.ID},
	})
	assert.Equal(t, "INVALID_PARAM", ep.Code)
}

func TestTeamLifecycle(t *testing.T) {
	_, d, st := newTestHandlers(t)
	ctx := context.Background()

	agent := &v1.Agent{Role: v1.RoleCoder, Provider: "claude", RuntimeID: "local", SessionName: "squad", State: v1.AgentIdle}
	require.NoError(t, st.SaveAgent(ctx, agent))

	var team v1.Team
	callOK(t, d, rpc.MethodTeamCreate, map[string]interface{}{"name": "alpha"}, &team)
	require.NotEmpty(t, team.ID)

	callOK(t, d, rpc.MethodTeamAddAgent, map[string]string{"teamId": team.ID, "agentId": agent.ID}, &team)
	assert.Equal(t, []string{agent.ID}, team.AgentIDs)

	var members []*v1.Agent
	callOK(t, d, rpc.MethodTeamGetAgents, map[string]string{"teamId": team.ID}, &members)
	require.Len(t, members, 1)
	assert.Equal(t, agent.ID, members[0].ID)

	var found v1.Team
	callOK(t, d, rpc.MethodTeamFindByAgent, map[string]string{"agentId": agent.ID}, &found)
	assert.Equal(t, team.ID, found.ID)

	callOK(t, d, rpc.MethodTeamRemoveAgent, map[string]string{"teamId": team.ID, "agentId": agent.ID}, &team)
	assert.Empty(t, team.AgentIDs)

	updated, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.TeamID)
}

func TestBuiltinTemplatesProtected(t *testing.T) {
	_, d, st := newTestHandlers(t)
	require.NoError(t, EnsureBuiltinTemplates(context.Background(), st))

	var coder []*v1.Template
	callOK(t, d, rpc.MethodTemplateGetByRole, map[string]string{"role": "coder"}, &coder)
	require.NotEmpty(t, coder)
	assert.True(t, coder[0].BuiltIn)

	ep := callErr(t, d, rpc.MethodTemplateDelete, map[string]string{"templateId": coder[0].ID})
	assert.Equal(t, "PRECONDITION", ep.Code)
}

func TestFavoriteAddAndRemove(t *testing.T) {
	_, d, st := newTestHandlers(t)

	ep := callErr(t, d, rpc.MethodDashboardAddFavorite,
		map[string]string{"label": "deploy", "kind": "script", "payload": "make deploy"})
	assert.Equal(t, "INVALID_PARAM", ep.Code)

	var fav v1.Favorite
	callOK(t, d, rpc.MethodDashboardAddFavorite,
		map[string]string{"label": "deploy", "kind": "command", "payload": "make deploy"}, &fav)
	require.NotEmpty(t, fav.ID)

	favorites, err := st.ListFavorites(context.Background())
	require.NoError(t, err)
	require.Len(t, favorites, 1)

	callOK(t, d, rpc.MethodDashboardRemoveFavorite, map[string]string{"favoriteId": fav.ID}, nil)
	favorites, err = st.ListFavorites(context.Background())
	require.NoError(t, err)
	assert.Empty(t, favorites)

	ep = callErr(t, d, rpc.MethodDashboardRemoveFavorite, map[string]string{"favoriteId": fav.ID})
	assert.Equal(t, "NOT_FOUND", ep.Code)
}

func TestKanbanMergeAndSplit(t *testing.T) {
	_, d, st := newTestHandlers(t)
	ctx := context.Background()

	lane := &v1.SwimLane{Name: "web", RuntimeID: "local", WorkingDir: "/tmp/web"}
	require.NoError(t, st.SaveSwimLane(ctx, lane))
	t1 := &v1.Task{SwimLaneID: lane.ID, Description: "fix header", KanbanColumn: v1.ColumnTodo}
	t2 := &v1.Task{SwimLaneID: lane.ID, Description: "fix footer", KanbanColumn: v1.ColumnTodo}
	require.NoError(t, st.CreateTask(ctx, t1))
	require.NoError(t, st.CreateTask(ctx, t2))

	var box v1.Task
	callOK(t, d, rpc.MethodKanbanMergeTasks, map[string]interface{}{
		"taskIds":     []string{t1.ID, t2.ID},
		"description": "layout fixes",
	}, &box)
	require.True(t, box.IsTaskBox())
	assert.Equal(t, []string{t1.ID, t2.ID}, box.SubtaskIDs)

	child, err := st.GetTask(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, box.ID, child.ParentTaskID)

	var freed []*v1.Task
	callOK(t, d, rpc.MethodKanbanSplitTaskBox, map[string]string{"taskId": box.ID}, &freed)
	require.Len(t, freed, 2)
	for _, f := range freed {
		assert.Empty(t, f.ParentTaskID)
	}
	_, err = st.GetTask(ctx, box.ID)
	assert.Error(t, err)
}

func TestKanbanKillLaneSessionClearsBindings(t *testing.T) {
	h, d, st := newTestHandlers(t)
	ctx := context.Background()

	lane := &v1.SwimLane{Name: "api", RuntimeID: "local", WorkingDir: "/tmp/api", SessionActive: true}
	require.NoError(t, st.SaveSwimLane(ctx, lane))
	w, p := 2, 0
	task := &v1.Task{
		SwimLaneID:      lane.ID,
		Description:     "bound work",
		Status:          v1.TaskInProgress,
		KanbanColumn:    v1.ColumnInProgress,
		TmuxRuntimeID:   "local",
		TmuxSessionName: lane.SessionName,
		TmuxWindowIndex: &w,
		TmuxPaneIndex:   &p,
	}
	require.NoError(t, st.CreateTask(ctx, task))

	var updated v1.SwimLane
	callOK(t, d, rpc.MethodKanbanKillLaneSession, map[string]string{"swimLaneId": lane.ID}, &updated)
	assert.False(t, updated.SessionActive)

	driver := h.driver.(*fakeDriver)
	assert.Contains(t, driver.killedSessions, lane.SessionName)

	after, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, after.HasBinding())
}

func TestKanbanSetAutoMode(t *testing.T) {
	_, d, st := newTestHandlers(t)
	ctx := context.Background()

	task := &v1.Task{Description: "toggle me"}
	require.NoError(t, st.CreateTask(ctx, task))

	var updated v1.Task
	callOK(t, d, rpc.MethodKanbanSetAutoMode, map[string]interface{}{
		"taskId":    task.ID,
		"autoPilot": true,
	}, &updated)
	require.NotNil(t, updated.AutoPilot)
	assert.True(t, *updated.AutoPilot)
	assert.Nil(t, updated.AutoStart)
}

func TestAddSubtask(t *testing.T) {
	_, d, st := newTestHandlers(t)
	ctx := context.Background()

	parent := &v1.Task{Description: "parent work"}
	require.NoError(t, st.CreateTask(ctx, parent))

	var sub v1.Task
	callOK(t, d, rpc.MethodKanbanAddSubtask, map[string]string{
		"taskId":      parent.ID,
		"description": "child work",
	}, &sub)
	assert.Equal(t, parent.ID, sub.ParentTaskID)

	after, err := st.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{sub.ID}, after.SubtaskIDs)
}

func TestDashboardGetStateShape(t *testing.T) {
	_, d, st := newTestHandlers(t)
	ctx := context.Background()

	lane := &v1.SwimLane{Name: "ops", RuntimeID: "local", WorkingDir: "/tmp/ops"}
	require.NoError(t, st.SaveSwimLane(ctx, lane))

	var state v1.DashboardState
	callOK(t, d, rpc.MethodDashboardGetState, struct{}{}, &state)
	require.Len(t, state.Lanes, 1)
	assert.NotNil(t, state.Tasks)
	assert.NotNil(t, state.Runtimes)
}

func TestHealthGet(t *testing.T) {
	_, d, _ := newTestHandlers(t)

	var health v1.Health
	callOK(t, d, rpc.MethodHealthGet, struct{}{}, &health)
	assert.True(t, health.OK)
	assert.Equal(t, "test", health.Version)
	require.Len(t, health.Runtimes, 1)
	assert.True(t, health.Runtimes[0].OK)
	assert.True(t, health.Database.OK)
}

func TestUnknownMethodError(t *testing.T) {
	_, d, _ := newTestHandlers(t)

	req, err := rpc.NewRequest("req-9", "kanban.vaporize", struct{}{})
	require.NoError(t, err)
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, rpc.MessageTypeError, resp.Type)
	var ep rpc.ErrorPayload
	require.NoError(t, resp.ParsePayload(&ep))
	assert.Equal(t, rpc.ErrorCodeUnknownMethod, ep.Code)
}
