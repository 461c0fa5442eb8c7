package mux

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxagents/tmuxagents/internal/common/constants"
	"github.com/tmuxagents/tmuxagents/internal/common/logger"
)

type fakeRuntime struct {
	id       string
	local    bool
	host     string
	port     int
	user     string
	identity string
	config   string
}

func (r fakeRuntime) RuntimeID() string { return r.id }
func (r fakeRuntime) IsLocal() bool     { return r.local }
func (r fakeRuntime) SSHTarget() (string, int, string, string, string) {
	return r.host, r.port, r.user, r.identity, r.config
}

// fakeRunner records invocations and replays canned responses keyed on a
// substring of the joined command line.
type fakeRunner struct {
	mu        sync.Mutex
	calls     [][]string
	responses map[string]string
	errs      map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeRunner) run(_ context.Context, _ Runtime, args []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	joined := strings.Join(args, " ")
	for key, err := range f.errs {
		if strings.Contains(joined, key) {
			return "", err
		}
	}
	for key, out := range f.responses {
		if strings.Contains(joined, key) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeRunner) callCount(sub string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(strings.Join(c, " "), sub) {
			n++
		}
	}
	return n
}

func newTestDriver(r *fakeRunner) *TmuxDriver {
	return &TmuxDriver{
		runner: r,
		cache:  newTreeCache(constants.TreeCacheTTL),
		log:    logger.Default(),
	}
}

func TestListSessionsNoServer(t *testing.T) {
	r := newFakeRunner()
	r.errs["list-sessions"] = errors.New("tmux: exit status 1: no server running on /tmp/tmux-1000/default")
	d := newTestDriver(r)

	names, err := d.ListSessions(context.Background(), fakeRuntime{id: "local", local: true})
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestGetTreeUsesCache(t *testing.T) {
	r := newFakeRunner()
	r.responses["list-panes"] = sampleTreeOutput
	d := newTestDriver(r)
	rt := fakeRuntime{id: "local", local: true}

	first, err := d.GetTree(context.Background(), rt)
	require.NoError(t, err)
	second, err := d.GetTree(context.Background(), rt)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, r.callCount("list-panes"))
}

func TestGetTreeFreshBypassesCache(t *testing.T) {
	r := newFakeRunner()
	r.responses["list-panes"] = sampleTreeOutput
	d := newTestDriver(r)
	rt := fakeRuntime{id: "local", local: true}

	_, err := d.GetTree(context.Background(), rt)
	require.NoError(t, err)
	_, err = d.GetTreeFresh(context.Background(), rt)
	require.NoError(t, err)

	assert.Equal(t, 2, r.callCount("list-panes"))
}

func TestNewWindowReturnsIndex(t *testing.T) {
	r := newFakeRunner()
	r.responses["new-window"] = "3\n"
	d := newTestDriver(r)
	rt := fakeRuntime{id: "local", local: true}

	idx, err := d.NewWindow(context.Background(), rt, "main", NewWindowOptions{Name: "task-abc", CWD: "/tmp"})
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
}

func TestSendKeysSeparatesEnter(t *testing.T) {
	r := newFakeRunner()
	d := newTestDriver(r)
	rt := fakeRuntime{id: "local", local: true}

	err := d.SendKeys(context.Background(), rt, "main", 1, 0, "run the tests", true)
	require.NoError(t, err)

	require.Len(t, r.calls, 2)
	assert.Contains(t, r.calls[0], "-l")
	assert.Contains(t, r.calls[0], "run the tests")
	assert.Equal(t, "Enter", r.calls[1][len(r.calls[1])-1])
}

func TestKillSessionToleratesDeadServer(t *testing.T) {
	r := newFakeRunner()
	r.errs["kill-session"] = errors.New("no server running on /tmp/tmux-1000/default")
	d := newTestDriver(r)

	err := d.KillSession(context.Background(), fakeRuntime{id: "local", local: true}, "gone")
	assert.NoError(t, err)
}

func TestClassifySSHError(t *testing.T) {
	cases := []struct {
		stderr string
		want   error
	}{
		{"deploy@host: Permission denied (publickey).", ErrAuthDenied},
		{"ssh: connect to host h port 22: Connection refused", ErrConnectionRefused},
		{"ssh: connect to host h port 22: Connection timed out", ErrConnectTimeout},
		{"bash: line 1: tmux: command not found", ErrMuxNotInstalled},
	}
	for _, tc := range cases {
		err := classifySSHError(tc.stderr, errors.New("exit status 255"))
		assert.ErrorIs(t, err, tc.want, tc.stderr)
	}
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(ErrConnectionRefused))
	assert.True(t, Transient(ErrConnectTimeout))
	assert.False(t, Transient(ErrAuthDenied))
	assert.False(t, Transient(ErrMuxNotInstalled))
}

func TestTreeCacheExpiry(t *testing.T) {
	c := newTreeCache(50 * time.Millisecond)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.put("r1", []Session{{Name: "main"}})
	got, ok := c.get("r1")
	require.True(t, ok)
	assert.Equal(t, "main", got[0].Name)

	c.now = func() time.Time { return base.Add(51 * time.Millisecond) }
	_, ok = c.get("r1")
	assert.False(t, ok)
}

func TestTreeCacheInvalidate(t *testing.T) {
	c := newTreeCache(time.Minute)
	c.put("r1", []Session{{Name: "main"}})
	c.invalidate("r1")
	_, ok := c.get("r1")
	assert.False(t, ok)
}
