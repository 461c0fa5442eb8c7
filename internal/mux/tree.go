package mux

import (
	"sort"
	"strconv"
	"strings"
)

// treeFormat is the list-panes format used to fetch the whole tree in a
// single tmux invocation. Fields are tab separated; one line per pane.
const treeFormat = "#{session_name}\t#{window_index}\t#{window_name}\t#{pane_index}\t#{pane_current_command}\t#{pane_current_path}\t#{pane_pid}\t#{pane_active}\t#{pane_id}"

// parseTree turns `tmux list-panes -a -F treeFormat` output into sessions.
// Malformed lines are skipped. Sessions keep first-seen order; windows and
// panes are sorted by index.
func parseTree(out string) []Session {
	type winKey struct {
		session string
		window  int
	}
	sessions := []Session{}
	sessionIdx := map[string]int{}
	windows := map[winKey]*Window{}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 9 {
			continue
		}
		winIdx, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		paneIdx, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		pid, _ := strconv.Atoi(fields[6])

		sess := fields[0]
		if _, ok := sessionIdx[sess]; !ok {
			sessionIdx[sess] = len(sessions)
			sessions = append(sessions, Session{Name: sess})
		}

		key := winKey{session: sess, window: winIdx}
		w, ok := windows[key]
		if !ok {
			w = &Window{Index: winIdx, Name: fields[2]}
			windows[key] = w
		}
		w.Panes = append(w.Panes, Pane{
			Index:   paneIdx,
			Command: fields[4],
			CWD:     fields[5],
			PID:     pid,
			Active:  fields[7] == "1",
			PaneID:  fields[8],
		})
	}

	for key, w := range windows {
		sort.Slice(w.Panes, func(i, j int) bool { return w.Panes[i].Index < w.Panes[j].Index })
		i := sessionIdx[key.session]
		sessions[i].Windows = append(sessions[i].Windows, *w)
	}
	for i := range sessions {
		sort.Slice(sessions[i].Windows, func(a, b int) bool {
			return sessions[i].Windows[a].Index < sessions[i].Windows[b].Index
		})
	}
	return sessions
}

// noServerRunning detects tmux's "no server running" family of errors,
// which the driver treats as an empty tree rather than a failure.
func noServerRunning(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no server running") ||
		strings.Contains(s, "error connecting to") ||
		strings.Contains(s, "no current session")
}
