package worktree

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/mux"
)

type localRT struct{}

func (localRT) RuntimeID() string { return "local" }
func (localRT) IsLocal() bool     { return true }
func (localRT) SSHTarget() (string, int, string, string, string) {
	return "", 0, "", "", ""
}

// execDriver only implements Exec; the manager never uses anything else.
type execDriver struct {
	mux.Driver
	mu       sync.Mutex
	commands []string
	respond  func(cmd string) (string, error)
}

func (d *execDriver) Exec(_ context.Context, _ mux.Runtime, cmd string) (string, error) {
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.mu.Unlock()
	if d.respond != nil {
		return d.respond(cmd)
	}
	return "", nil
}

func TestPathAndBranch(t *testing.T) {
	assert.Equal(t, "/repo/.worktrees/task-abc", Path("/repo/", "abc"))
	assert.Equal(t, "agent/task-abc", Branch("abc"))
}

func TestCreateRunsWorktreeAdd(t *testing.T) {
	d := &execDriver{respond: func(cmd string) (string, error) {
		if strings.Contains(cmd, "rev-parse") {
			return "true\n", nil
		}
		if strings.Contains(cmd, "test -d") {
			return "no\n", nil
		}
		return "", nil
	}}
	m := NewManager(d, logger.Default())

	path, err := m.Create(context.Background(), localRT{}, "/repo", "0a1b2c3d4e5f6a7")
	require.NoError(t, err)
	assert.Equal(t, "/repo/.worktrees/task-0a1b2c3d4e5f6a7", path)

	joined := strings.Join(d.commands, "\n")
	assert.Contains(t, joined, "'worktree' 'add' '-b' 'agent/task-0a1b2c3d4e5f6a7'")
}

func TestCreateRejectsNonRepo(t *testing.T) {
	d := &execDriver{respond: func(cmd string) (string, error) {
		return "fatal: not a git repository\n", nil
	}}
	m := NewManager(d, logger.Default())

	_, err := m.Create(context.Background(), localRT{}, "/tmp/not-a-repo", "abc")
	assert.ErrorIs(t, err, ErrRepoNotGit)
}

func TestCreateReusesExisting(t *testing.T) {
	d := &execDriver{respond: func(cmd string) (string, error) {
		if strings.Contains(cmd, "rev-parse") {
			return "true\n", nil
		}
		if strings.Contains(cmd, "test -d") {
			return "yes\n", nil
		}
		return "", nil
	}}
	m := NewManager(d, logger.Default())

	_, err := m.Create(context.Background(), localRT{}, "/repo", "abc")
	require.NoError(t, err)

	for _, cmd := range d.commands {
		assert.NotContains(t, cmd, "worktree' 'add")
	}
}

func TestRemoveForcesAndDeletesBranch(t *testing.T) {
	d := &execDriver{}
	m := NewManager(d, logger.Default())

	require.NoError(t, m.Remove(context.Background(), localRT{}, "/repo", "/repo/.worktrees/task-abc", "abc"))

	joined := strings.Join(d.commands, "\n")
	assert.Contains(t, joined, "'worktree' 'remove' '--force'")
	assert.Contains(t, joined, "'branch' '-D' 'agent/task-abc'")
}
