// Package mux provides a single interface over the terminal multiplexer
// regardless of host. Local runtimes invoke the tmux binary directly;
// SSH runtimes wrap every invocation in a hardened ssh command. The driver
// never persists anything; it is a pure adapter.
package mux

import (
	"context"
	"errors"
)

// Pane is one pane within a window.
type Pane struct {
	Index   int    `json:"index"`
	Command string `json:"command"`
	CWD     string `json:"cwd"`
	PID     int    `json:"pid"`
	Active  bool   `json:"active"`
	PaneID  string `json:"paneId"`
}

// Window is one window within a session.
type Window struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Panes []Pane `json:"panes"`
}

// Session is one multiplexer session with its windows.
type Session struct {
	Name    string   `json:"session"`
	Windows []Window `json:"windows"`
}

// NewSessionOptions configures session creation.
type NewSessionOptions struct {
	CWD               string
	InitialWindowName string
}

// NewWindowOptions configures window creation.
type NewWindowOptions struct {
	Name string
	CWD  string
}

// Classified failure kinds surfaced by SSH runtimes. Callers use errors.Is.
var (
	ErrAuthDenied        = errors.New("ssh authentication denied")
	ErrConnectionRefused = errors.New("ssh connection refused")
	ErrConnectTimeout    = errors.New("ssh connection timed out")
	ErrMuxNotInstalled   = errors.New("multiplexer not installed on host")
)

// Transient reports whether the error is worth one retry.
func Transient(err error) bool {
	return errors.Is(err, ErrConnectionRefused) || errors.Is(err, ErrConnectTimeout)
}

// Runtime identifies a host the driver can reach. It is satisfied by
// pkg/api/v1.Runtime; the driver only needs connection details.
type Runtime interface {
	RuntimeID() string
	IsLocal() bool
	SSHTarget() (host string, port int, user, identityFile, configFile string)
}

// Driver executes multiplexer commands on local or SSH-reachable hosts.
// Implementations must be safe for concurrent use.
type Driver interface {
	// ListSessions returns session names. A host without a running
	// multiplexer server yields an empty list, not an error.
	ListSessions(ctx context.Context, rt Runtime) ([]string, error)

	// GetTree returns the full session/window/pane tree, served from a
	// short-TTL per-runtime cache.
	GetTree(ctx context.Context, rt Runtime) ([]Session, error)

	// GetTreeFresh invalidates the cache for the runtime and refetches.
	GetTreeFresh(ctx context.Context, rt Runtime) ([]Session, error)

	NewSession(ctx context.Context, rt Runtime, name string, opts NewSessionOptions) error
	KillSession(ctx context.Context, rt Runtime, name string) error
	RenameSession(ctx context.Context, rt Runtime, name, newName string) error

	// NewWindow creates a window and returns its index.
	NewWindow(ctx context.Context, rt Runtime, session string, opts NewWindowOptions) (int, error)
	KillWindow(ctx context.Context, rt Runtime, session string, window int) error
	RenameWindow(ctx context.Context, rt Runtime, session string, window int, name string) error
	SelectWindow(ctx context.Context, rt Runtime, session string, window int) error

	// SetWindowOption sets a window option (e.g. automatic-rename off).
	SetWindowOption(ctx context.Context, rt Runtime, session string, window int, option, value string) error

	SplitPane(ctx context.Context, rt Runtime, session string, window int, vertical bool) error
	KillPane(ctx context.Context, rt Runtime, session string, window, pane int) error
	SelectPane(ctx context.Context, rt Runtime, session string, window, pane int) error

	// SendKeys types text into a pane; appendEnter adds a final Enter
	// keypress after the literal text.
	SendKeys(ctx context.Context, rt Runtime, session string, window, pane int, text string, appendEnter bool) error

	// Capture returns the last n lines of a pane.
	Capture(ctx context.Context, rt Runtime, session string, window, pane, lines int) (string, error)

	// ReadPaneOptions returns the pane-local option maps for the given
	// pane ids (used for @cc_* provider annotations).
	ReadPaneOptions(ctx context.Context, rt Runtime, paneIDs []string) (map[string]map[string]string, error)

	// SessionAttached reports whether any client is attached to a session.
	SessionAttached(ctx context.Context, rt Runtime, name string) (bool, error)

	// Exec runs an arbitrary shell command on the runtime and returns stdout.
	Exec(ctx context.Context, rt Runtime, shellCommand string) (string, error)
}

// HasSession reports whether a session with the given name exists.
func HasSession(ctx context.Context, d Driver, rt Runtime, name string) (bool, error) {
	names, err := d.ListSessions(ctx, rt)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// FindWindow returns the window with the given index in the session tree.
func FindWindow(tree []Session, session string, window int) (*Window, bool) {
	for i := range tree {
		if tree[i].Name != session {
			continue
		}
		for j := range tree[i].Windows {
			if tree[i].Windows[j].Index == window {
				return &tree[i].Windows[j], true
			}
		}
	}
	return nil, false
}
