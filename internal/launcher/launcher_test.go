package launcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/db"
	"github.com/tmuxagents/tmuxagents/internal/events/bus"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/internal/runtimes"
	"github.com/tmuxagents/tmuxagents/internal/store"
	"github.com/tmuxagents/tmuxagents/internal/worktree"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// fakeDriver is an in-memory mux.Driver tracking sessions, windows and
// sent keystrokes.
type fakeDriver struct {
	mu         sync.Mutex
	windows    map[string]map[int]string // session -> index -> name
	nextWindow map[string]int
	sent       []sentKeys
	captures   map[string]string // "session:window" -> text
	execOut    string
}

type sentKeys struct {
	session string
	window  int
	text    string
	enter   bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		windows:    map[string]map[int]string{},
		nextWindow: map[string]int{},
		captures:   map[string]string{},
	}
}

func capKey(session string, window int) string {
	return fmt.Sprintf("%s:%d", session, window)
}

func (f *fakeDriver) ListSessions(_ context.Context, _ mux.Runtime) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for n := range f.windows {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeDriver) GetTree(ctx context.Context, rt mux.Runtime) ([]mux.Session, error) {
	return f.GetTreeFresh(ctx, rt)
}

func (f *fakeDriver) GetTreeFresh(_ context.Context, _ mux.Runtime) ([]mux.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var tree []mux.Session
	var names []string
	for n := range f.windows {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		s := mux.Session{Name: name}
		var idxs []int
		for i := range f.windows[name] {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)
		for _, i := range idxs {
			s.Windows = append(s.Windows, mux.Window{
				Index: i,
				Name:  f.windows[name][i],
				Panes: []mux.Pane{{Index: 0}},
			})
		}
		tree = append(tree, s)
	}
	return tree, nil
}

func (f *fakeDriver) NewSession(_ context.Context, _ mux.Runtime, name string, opts mux.NewSessionOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[name] = map[int]string{0: opts.InitialWindowName}
	f.nextWindow[name] = 1
	return nil
}

func (f *fakeDriver) KillSession(_ context.Context, _ mux.Runtime, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, name)
	return nil
}

func (f *fakeDriver) RenameSession(_ context.Context, _ mux.Runtime, name, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ws, ok := f.windows[name]; ok {
		delete(f.windows, name)
		f.windows[newName] = ws
		f.nextWindow[newName] = f.nextWindow[name]
		delete(f.nextWindow, name)
	}
	return nil
}

func (f *fakeDriver) NewWindow(_ context.Context, _ mux.Runtime, session string, opts mux.NewWindowOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.windows[session] == nil {
		f.windows[session] = map[int]string{}
	}
	idx := f.nextWindow[session]
	f.nextWindow[session] = idx + 1
	f.windows[session][idx] = opts.Name
	return idx, nil
}

func (f *fakeDriver) KillWindow(_ context.Context, _ mux.Runtime, session string, window int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows[session], window)
	return nil
}

func (f *fakeDriver) RenameWindow(_ context.Context, _ mux.Runtime, session string, window int, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[session][window] = name
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

func (f *fakeDriver) SendKeys(_ context.Context, _ mux.Runtime, session string, window, _ int, text string, appendEnter bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentKeys{session: session, window: window, text: text, enter: appendEnter})
	return nil
}

func (f *fakeDriver) Capture(_ context.Context, _ mux.Runtime, session string, window, _, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures[capKey(session, window)], nil
}

func (f *fakeDriver) ReadPaneOptions(_ context.Context, _ mux.Runtime, paneIDs []string) (map[string]map[string]string, error) {
	out := map[string]map[string]string{}
	for _, id := range paneIDs {
		out[id] = map[string]string{}
	}
	return out, nil
}

func (f *fakeDriver) SessionAttached(_ context.Context, _ mux.Runtime, _ string) (bool, error) {
	return true, nil
}

func (f *fakeDriver) Exec(_ context.Context, _ mux.Runtime, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execOut, nil
}

func (f *fakeDriver) setCapture(session string, window int, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures[capKey(session, window)] = text
}

func (f *fakeDriver) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

func (f *fakeDriver) windowNames(session string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, n := range f.windows[session] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func newTestLauncher(t *testing.T) (*Launcher, *store.Store, *fakeDriver, bus.EventBus) {
	t.Helper()
	mem, err := db.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	eb := bus.NewMemoryEventBus(logger.Default())
	st, err := store.New(context.Background(), db.NewPool(mem, mem), eb, logger.Default())
	require.NoError(t, err)

	registry, err := runtimes.NewRegistry(runtimes.Options{DefaultProvider: "claude"})
	require.NoError(t, err)

	driver := newFakeDriver()
	hosts := runtimes.NewHosts(nil)
	wt := worktree.NewManager(driver, logger.Default())

	l := New(st, driver, hosts, registry, wt, logger.Default())
	l.warmupWait = func(context.Context, time.Duration) {}
	l.scanPeriod = 5 * time.Millisecond
	t.Cleanup(l.Close)
	return l, st, driver, eb
}

func seedLane(t *testing.T, st *store.Store) *v1.SwimLane {
	t.Helper()
	lane := &v1.SwimLane{Name: "demo", RuntimeID: "local", WorkingDir: "/tmp/p"}
	require.NoError(t, st.SaveSwimLane(context.Background(), lane))
	return lane
}

func seedTask(t *testing.T, st *store.Store, laneID string, mutate func(*v1.Task)) *v1.Task {
	t.Helper()
	task := &v1.Task{
		Description:  "write hello.py",
		SwimLaneID:   laneID,
		KanbanColumn: v1.ColumnTodo,
	}
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, st.CreateTask(context.Background(), task))
	return task
}

func TestStartTaskLaunches(t *testing.T) {
	l, st, driver, _ := newTestLauncher(t)
	ctx := context.Background()
	lane := seedLane(t, st)
	task := seedTask(t, st, lane.ID, nil)

	got, err := l.StartTask(ctx, task.ID, LaunchOptions{})
	require.NoError(t, err)

	assert.Equal(t, v1.TaskInProgress, got.Status)
	assert.Equal(t, v1.ColumnInProgress, got.KanbanColumn)
	require.NotNil(t, got.TmuxWindowIndex)
	assert.Equal(t, "demo", got.TmuxSessionName)
	assert.Equal(t, "local", got.TmuxRuntimeID)
	assert.NotNil(t, got.StartedAt)

	sent := driver.sentTexts()
	require.Len(t, sent, 2)
	assert.Equal(t, "claude", sent[0])
	assert.Contains(t, sent[1], "Task ID: "+task.ID)

	// The lazily created session lost its placeholder window.
	names := driver.windowNames("demo")
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], "task-"+got.ShortID()))

	lane, err = st.GetSwimLane(ctx, lane.ID)
	require.NoError(t, err)
	assert.True(t, lane.SessionActive)
}

func TestStartTaskWithoutLane(t *testing.T) {
	l, st, _, _ := newTestLauncher(t)
	task := seedTask(t, st, "", nil)

	_, err := l.StartTask(context.Background(), task.ID, LaunchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swim lane")
}

func TestStartTaskUnknownRuntime(t *testing.T) {
	l, st, _, _ := newTestLauncher(t)
	ctx := context.Background()
	lane := &v1.SwimLane{Name: "remote", RuntimeID: "r2", WorkingDir: "/srv"}
	require.NoError(t, st.SaveSwimLane(ctx, lane))
	task := seedTask(t, st, lane.ID, nil)

	_, err := l.StartTask(ctx, task.ID, LaunchOptions{})
	require.Error(t, err)

	// The task is untouched on failure.
	fresh, gerr := st.GetTask(ctx, task.ID)
	require.NoError(t, gerr)
	assert.Equal(t, v1.ColumnTodo, fresh.KanbanColumn)
	assert.False(t, fresh.HasBinding())
}

func TestStartTaskSentinelClauseInPrompt(t *testing.T) {
	l, st, driver, _ := newTestLauncher(t)
	ctx := context.Background()
	lane := seedLane(t, st)
	task := seedTask(t, st, lane.ID, func(tk *v1.Task) {
		tk.AutoClose = v1.Bool(true)
	})

	got, err := l.StartTask(ctx, task.ID, LaunchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, got.SignalID)

	sent := driver.sentTexts()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1], "<promise>"+got.SignalID+"-DONE</promise>")
}

func TestSentinelWatcherCompletesTask(t *testing.T) {
	l, st, driver, _ := newTestLauncher(t)
	ctx := context.Background()
	lane := seedLane(t, st)
	task := seedTask(t, st, lane.ID, func(tk *v1.Task) {
		tk.AutoClose = v1.Bool(true)
	})

	got, err := l.StartTask(ctx, task.ID, LaunchOptions{})
	require.NoError(t, err)

	driver.setCapture("demo", *got.TmuxWindowIndex, fmt.Sprintf(
		"done with everything\n<promise-summary>%s\nWrote hello.py and verified the output.\n</promise-summary>\n<promise>%s-DONE</promise>\n",
		got.SignalID, got.SignalID))

	require.Eventually(t, func() bool {
		fresh, err := st.GetTask(ctx, task.ID)
		return err == nil && fresh.KanbanColumn == v1.ColumnDone
	}, 2*time.Second, 10*time.Millisecond)

	fresh, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Wrote hello.py and verified the output.", fresh.Output)
	assert.NotNil(t, fresh.DoneAt)
	assert.Equal(t, v1.TaskCompleted, fresh.Status)
}

func TestDependencyCascade(t *testing.T) {
	l, st, _, eb := newTestLauncher(t)
	ctx := context.Background()
	lane := seedLane(t, st)

	a := seedTask(t, st, lane.ID, func(tk *v1.Task) {
		tk.Description = "task A"
		tk.AutoStart = v1.Bool(true)
	})
	b := seedTask(t, st, lane.ID, func(tk *v1.Task) {
		tk.Description = "task B"
		tk.AutoStart = v1.Bool(true)
		tk.DependsOn = []string{a.ID}
	})

	sub, err := l.WatchDependencies(eb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	// Submitting B launches A instead and leaves B waiting.
	got, err := l.StartTask(ctx, b.ID, LaunchOptions{})
	require.NoError(t, err)
	assert.Equal(t, v1.ColumnTodo, got.KanbanColumn)
	assert.False(t, got.HasBinding())

	freshA, err := st.GetTask(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ColumnInProgress, freshA.KanbanColumn)
	assert.True(t, freshA.HasBinding())
	require.NotNil(t, freshA.AutoPilot)
	assert.True(t, *freshA.AutoPilot)
	require.NotNil(t, freshA.AutoClose)
	assert.True(t, *freshA.AutoClose)

	// Completing A unblocks B through the event subscription.
	_, err = st.MoveTask(ctx, a.ID, v1.ColumnDone)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		fresh, err := st.GetTask(ctx, b.ID)
		return err == nil && fresh.KanbanColumn == v1.ColumnInProgress && fresh.HasBinding()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopTaskResetsBinding(t *testing.T) {
	l, st, driver, _ := newTestLauncher(t)
	ctx := context.Background()
	lane := seedLane(t, st)
	task := seedTask(t, st, lane.ID, nil)

	started, err := l.StartTask(ctx, task.ID, LaunchOptions{})
	require.NoError(t, err)
	windowIdx := *started.TmuxWindowIndex

	stopped, err := l.StopTask(ctx, task.ID)
	require.NoError(t, err)

	assert.False(t, stopped.HasBinding())
	assert.Equal(t, v1.TaskPending, stopped.Status)
	assert.Equal(t, v1.ColumnTodo, stopped.KanbanColumn)
	assert.Nil(t, stopped.StartedAt)

	driver.mu.Lock()
	_, alive := driver.windows["demo"][windowIdx]
	driver.mu.Unlock()
	assert.False(t, alive)
}

func TestAttachTask(t *testing.T) {
	l, st, _, _ := newTestLauncher(t)
	ctx := context.Background()
	lane := seedLane(t, st)
	task := seedTask(t, st, lane.ID, nil)

	_, err := l.AttachTask(ctx, task.ID)
	require.Error(t, err)

	started, err := l.StartTask(ctx, task.ID, LaunchOptions{})
	require.NoError(t, err)

	coords, err := l.AttachTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", coords.SessionName)
	assert.Equal(t, "local", coords.RuntimeID)
	assert.Equal(t, *started.TmuxWindowIndex, coords.WindowIndex)
}

func TestComposeDispatchPrompt(t *testing.T) {
	l, _, _, _ := newTestLauncher(t)
	task := &v1.Task{ID: "t-1", Description: "tune indexes", Priority: 3}
	lane := &v1.SwimLane{Name: "db", WorkingDir: "/srv/db"}

	got := l.ComposeDispatchPrompt(task, lane)
	assert.Contains(t, got, "tune indexes")
	assert.Contains(t, got, "Project: db")
	assert.NotContains(t, got, "promise")
}
