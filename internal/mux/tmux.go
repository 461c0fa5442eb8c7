package mux

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/constants"
	"github.com/tmuxagents/tmuxagents/internal/common/logger"
)

// TmuxDriver is the production Driver backed by the tmux CLI.
type TmuxDriver struct {
	runner runner
	cache  *treeCache
	log    *logger.Logger
}

// NewTmuxDriver builds a driver with the standard exec runner and tree cache.
func NewTmuxDriver(log *logger.Logger) *TmuxDriver {
	return &TmuxDriver{
		runner: execRunner{},
		cache:  newTreeCache(constants.TreeCacheTTL),
		log:    log,
	}
}

func (d *TmuxDriver) tmux(ctx context.Context, rt Runtime, timeout ctxTimeout, args ...string) (string, error) {
	cctx, cancel := timeout.apply(ctx)
	defer cancel()
	return d.runner.run(cctx, rt, append([]string{"tmux"}, args...))
}

func (d *TmuxDriver) ListSessions(ctx context.Context, rt Runtime) ([]string, error) {
	out, err := d.tmux(ctx, rt, shortTimeout, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if serverDown(err) {
			return []string{}, nil
		}
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func (d *TmuxDriver) GetTree(ctx context.Context, rt Runtime) ([]Session, error) {
	if tree, ok := d.cache.get(rt.RuntimeID()); ok {
		return tree, nil
	}
	return d.fetchTree(ctx, rt)
}

func (d *TmuxDriver) GetTreeFresh(ctx context.Context, rt Runtime) ([]Session, error) {
	d.cache.invalidate(rt.RuntimeID())
	return d.fetchTree(ctx, rt)
}

func (d *TmuxDriver) fetchTree(ctx context.Context, rt Runtime) ([]Session, error) {
	out, err := d.tmux(ctx, rt, treeTimeout, "list-panes", "-a", "-F", treeFormat)
	if err != nil {
		if serverDown(err) {
			d.cache.put(rt.RuntimeID(), []Session{})
			return []Session{}, nil
		}
		return nil, err
	}
	tree := parseTree(out)
	d.cache.put(rt.RuntimeID(), tree)
	return tree, nil
}

func (d *TmuxDriver) NewSession(ctx context.Context, rt Runtime, name string, opts NewSessionOptions) error {
	args := []string{"new-session", "-d", "-s", name}
	if opts.CWD != "" {
		args = append(args, "-c", opts.CWD)
	}
	if opts.InitialWindowName != "" {
		args = append(args, "-n", opts.InitialWindowName)
	}
	_, err := d.tmux(ctx, rt, longTimeout, args...)
	if err == nil {
		d.cache.invalidate(rt.RuntimeID())
	}
	return err
}

func (d *TmuxDriver) KillSession(ctx context.Context, rt Runtime, name string) error {
	_, err := d.tmux(ctx, rt, shortTimeout, "kill-session", "-t", name)
	d.cache.invalidate(rt.RuntimeID())
	if err != nil && serverDown(err) {
		return nil
	}
	return err
}

func (d *TmuxDriver) RenameSession(ctx context.Context, rt Runtime, name, newName string) error {
	_, err := d.tmux(ctx, rt, shortTimeout, "rename-session", "-t", name, newName)
	d.cache.invalidate(rt.RuntimeID())
	return err
}

func (d *TmuxDriver) NewWindow(ctx context.Context, rt Runtime, session string, opts NewWindowOptions) (int, error) {
	args := []string{"new-window", "-d", "-t", session, "-P", "-F", "#{window_index}"}
	if opts.Name != "" {
		args = append(args, "-n", opts.Name)
	}
	if opts.CWD != "" {
		args = append(args, "-c", opts.CWD)
	}
	out, err := d.tmux(ctx, rt, longTimeout, args...)
	if err != nil {
		return 0, err
	}
	d.cache.invalidate(rt.RuntimeID())
	idx, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, fmt.Errorf("unexpected new-window output %q: %w", strings.TrimSpace(out), convErr)
	}
	return idx, nil
}

func (d *TmuxDriver) KillWindow(ctx context.Context, rt Runtime, session string, window int) error {
	_, err := d.tmux(ctx, rt, shortTimeout, "kill-window", "-t", target(session, window))
	d.cache.invalidate(rt.RuntimeID())
	return err
}

func (d *TmuxDriver) RenameWindow(ctx context.Context, rt Runtime, session string, window int, name string) error {
	_, err := d.tmux(ctx, rt, shortTimeout, "rename-window", "-t", target(session, window), name)
	d.cache.invalidate(rt.RuntimeID())
	return err
}

func (d *TmuxDriver) SelectWindow(ctx context.Context, rt Runtime, session string, window int) error {
	_, err := d.tmux(ctx, rt, shortTimeout, "select-window", "-t", target(session, window))
	return err
}

func (d *TmuxDriver) SetWindowOption(ctx context.Context, rt Runtime, session string, window int, option, value string) error {
	_, err := d.tmux(ctx, rt, shortTimeout, "set-option", "-w", "-t", target(session, window), option, value)
	return err
}

func (d *TmuxDriver) SplitPane(ctx context.Context, rt Runtime, session string, window int, vertical bool) error {
	dir := "-h"
	if vertical {
		dir = "-v"
	}
	_, err := d.tmux(ctx, rt, shortTimeout, "split-window", dir, "-d", "-t", target(session, window))
	d.cache.invalidate(rt.RuntimeID())
	return err
}

func (d *TmuxDriver) KillPane(ctx context.Context, rt Runtime, session string, window, pane int) error {
	_, err := d.tmux(ctx, rt, shortTimeout, "kill-pane", "-t", paneTarget(session, window, pane))
	d.cache.invalidate(rt.RuntimeID())
	return err
}

func (d *TmuxDriver) SelectPane(ctx context.Context, rt Runtime, session string, window, pane int) error {
	_, err := d.tmux(ctx, rt, shortTimeout, "select-pane", "-t", paneTarget(session, window, pane))
	return err
}

// SendKeys sends the text literally (-l) so multiplexer key names inside the
// text are not interpreted, then sends Enter as a separate keypress.
func (d *TmuxDriver) SendKeys(ctx context.Context, rt Runtime, session string, window, pane int, text string, appendEnter bool) error {
	t := paneTarget(session, window, pane)
	if text != "" {
		if _, err := d.tmux(ctx, rt, shortTimeout, "send-keys", "-t", t, "-l", "--", text); err != nil {
			return err
		}
	}
	if appendEnter {
		if _, err := d.tmux(ctx, rt, shortTimeout, "send-keys", "-t", t, "Enter"); err != nil {
			return err
		}
	}
	return nil
}

func (d *TmuxDriver) Capture(ctx context.Context, rt Runtime, session string, window, pane, lines int) (string, error) {
	if lines <= 0 {
		lines = 200
	}
	return d.tmux(ctx, rt, captureTimeout,
		"capture-pane", "-p", "-t", paneTarget(session, window, pane), "-S", "-"+strconv.Itoa(lines))
}

func (d *TmuxDriver) ReadPaneOptions(ctx context.Context, rt Runtime, paneIDs []string) (map[string]map[string]string, error) {
	result := make(map[string]map[string]string, len(paneIDs))
	for _, id := range paneIDs {
		out, err := d.tmux(ctx, rt, shortTimeout, "show-options", "-p", "-t", id)
		if err != nil {
			// Pane may have vanished between the tree fetch and this read.
			d.log.WithError(err).Debug("reading pane options failed", zap.String("pane", id))
			result[id] = map[string]string{}
			continue
		}
		result[id] = parseOptions(out)
	}
	return result, nil
}

func (d *TmuxDriver) SessionAttached(ctx context.Context, rt Runtime, name string) (bool, error) {
	out, err := d.tmux(ctx, rt, shortTimeout,
		"display-message", "-p", "-t", name, "#{session_attached}")
	if err != nil {
		if serverDown(err) {
			return false, nil
		}
		return false, err
	}
	n, _ := strconv.Atoi(strings.TrimSpace(out))
	return n > 0, nil
}

func (d *TmuxDriver) Exec(ctx context.Context, rt Runtime, shellCommand string) (string, error) {
	cctx, cancel := longTimeout.apply(ctx)
	defer cancel()
	return d.runner.run(cctx, rt, []string{"sh", "-c", shellCommand})
}

// parseOptions parses `tmux show-options` output ("name value" per line,
// values possibly double-quoted).
func parseOptions(out string) map[string]string {
	opts := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, " ")
		if !found {
			opts[name] = ""
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			if unq, err := strconv.Unquote(value); err == nil {
				value = unq
			}
		}
		opts[name] = value
	}
	return opts
}

func target(session string, window int) string {
	return session + ":" + strconv.Itoa(window)
}

func paneTarget(session string, window, pane int) string {
	return session + ":" + strconv.Itoa(window) + "." + strconv.Itoa(pane)
}

func serverDown(err error) bool {
	return err != nil && noServerRunning(err.Error())
}
