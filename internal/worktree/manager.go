// Package worktree isolates task work in git worktrees so parallel agents
// never trample each other's checkouts. Git commands run through the
// multiplexer driver so remote runtimes work the same as local ones.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/constants"
	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/mux"
)

var (
	// ErrRepoNotGit means the lane working directory is not a git repo.
	ErrRepoNotGit = errors.New("working directory is not a git repository")
	// ErrGitCommandFailed wraps git failures with their output.
	ErrGitCommandFailed = errors.New("git command failed")
)

const (
	worktreeDirName = ".worktrees"
	branchPrefix    = "agent/"
)

// Manager creates and removes per-task worktrees. Creation within one
// repository is serialised; git worktree add mutates shared repo state.
type Manager struct {
	driver mux.Driver
	log    *logger.Logger

	lockMu    sync.Mutex
	repoLocks map[string]*sync.Mutex
}

// NewManager builds a manager over the given driver.
func NewManager(driver mux.Driver, log *logger.Logger) *Manager {
	return &Manager{
		driver:    driver,
		log:       log.WithFields(zap.String("component", "worktree-manager")),
		repoLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) repoLock(key string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.repoLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.repoLocks[key] = lock
	}
	return lock
}

// Path computes the worktree location for a task without creating it.
func Path(repoPath, shortID string) string {
	return strings.TrimRight(repoPath, "/") + "/" + worktreeDirName + "/task-" + shortID
}

// Branch computes the branch name for a task worktree.
func Branch(shortID string) string {
	return branchPrefix + "task-" + shortID
}

// Create makes a worktree for the task rooted under the repository. An
// existing worktree at the computed path is reused.
func (m *Manager) Create(ctx context.Context, rt mux.Runtime, repoPath, shortID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.WorktreeTimeout)
	defer cancel()

	if err := m.ensureGitRepo(ctx, rt, repoPath); err != nil {
		return "", err
	}

	lock := m.repoLock(rt.RuntimeID() + ":" + repoPath)
	lock.Lock()
	defer lock.Unlock()

	path := Path(repoPath, shortID)
	branch := Branch(shortID)

	if m.exists(ctx, rt, path) {
		m.log.Info("reusing existing worktree", zap.String("path", path))
		return path, nil
	}

	out, err := m.git(ctx, rt, repoPath, "worktree", "add", "-b", branch, path, "HEAD")
	if err != nil {
		if strings.Contains(out, "already exists") {
			// Branch survives from an earlier run; attach to it.
			out, err = m.git(ctx, rt, repoPath, "worktree", "add", path, branch)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrGitCommandFailed, firstLine(out))
		}
	}

	m.log.Info("created worktree", zap.String("path", path), zap.String("branch", branch))
	return path, nil
}

// Remove deletes the worktree directory and its branch. Both steps are
// forced; leftover state from a killed agent must not block teardown.
func (m *Manager) Remove(ctx context.Context, rt mux.Runtime, repoPath, path, shortID string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.WorktreeTimeout)
	defer cancel()

	lock := m.repoLock(rt.RuntimeID() + ":" + repoPath)
	lock.Lock()
	defer lock.Unlock()

	if out, err := m.git(ctx, rt, repoPath, "worktree", "remove", "--force", path); err != nil {
		if !strings.Contains(out, "is not a working tree") {
			return fmt.Errorf("%w: %s", ErrGitCommandFailed, firstLine(out))
		}
	}
	// Branch removal is best effort; the work may have been merged already.
	if _, err := m.git(ctx, rt, repoPath, "branch", "-D", Branch(shortID)); err != nil {
		m.log.Debug("worktree branch removal skipped", zap.String("branch", Branch(shortID)))
	}
	return nil
}

// Prune cleans up registrations whose directories are gone.
func (m *Manager) Prune(ctx context.Context, rt mux.Runtime, repoPath string) {
	if _, err := m.git(ctx, rt, repoPath, "worktree", "prune"); err != nil {
		m.log.WithError(err).Debug("worktree prune failed", zap.String("repo", repoPath))
	}
}

func (m *Manager) ensureGitRepo(ctx context.Context, rt mux.Runtime, repoPath string) error {
	out, err := m.git(ctx, rt, repoPath, "rev-parse", "--is-inside-work-tree")
	if err != nil || !strings.Contains(out, "true") {
		return ErrRepoNotGit
	}
	return nil
}

func (m *Manager) exists(ctx context.Context, rt mux.Runtime, path string) bool {
	out, err := m.driver.Exec(ctx, rt, "test -d "+mux.ShellQuote(path)+" && echo yes || echo no")
	return err == nil && strings.Contains(out, "yes")
}

func (m *Manager) git(ctx context.Context, rt mux.Runtime, repoPath string, args ...string) (string, error) {
	parts := []string{"git", "-C", mux.ShellQuote(repoPath)}
	for _, a := range args {
		parts = append(parts, mux.ShellQuote(a))
	}
	// Merge stderr so failures carry git's message.
	return m.driver.Exec(ctx, rt, strings.Join(parts, " ")+" 2>&1")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
