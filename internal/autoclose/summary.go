// Package autoclose tears down the windows of finished tasks: it captures
// the pane one last time, distils a summary into the task description and
// kills the window.
package autoclose

import (
	"strings"
)

const (
	maxSectionLines = 12
	fallbackTail    = 20
)

var outcomeKeywords = []string{
	"passed", "success", "completed", "done", "deployed", "merged", "built", "created",
}

var errorKeywords = []string{
	"error", "fail", "exception", "panic", "abort", "fatal", "warn",
}

// Summarize distils captured pane output into a sectioned markdown digest.
// Deterministic and heuristic: lines are classified as commands, outcomes
// or errors by shape and keywords. When nothing classifies, the raw session
// tail is returned instead.
func Summarize(captured string) string {
	var commands, outcomes, errLines []string
	for _, raw := range strings.Split(captured, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		switch {
		case isCommand(line):
			commands = appendCapped(commands, line)
		case containsAny(line, errorKeywords):
			errLines = appendCapped(errLines, line)
		case containsAny(line, outcomeKeywords):
			outcomes = appendCapped(outcomes, line)
		}
	}

	if len(commands)+len(outcomes)+len(errLines) == 0 {
		return tailSection(captured)
	}

	var b strings.Builder
	writeSection(&b, "Commands", commands)
	writeSection(&b, "Outcomes", outcomes)
	writeSection(&b, "Errors", errLines)
	return strings.TrimRight(b.String(), "\n")
}

func isCommand(line string) bool {
	if strings.HasPrefix(line, "$ ") || strings.HasPrefix(line, "> ") || strings.HasPrefix(line, "# ") {
		return true
	}
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "running") || strings.HasPrefix(lower, "executing")
}

func containsAny(line string, keywords []string) bool {
	lower := strings.ToLower(line)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func appendCapped(lines []string, line string) []string {
	if len(lines) >= maxSectionLines {
		return lines
	}
	return append(lines, line)
}

func writeSection(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.WriteString("### " + title + "\n")
	for _, line := range lines {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString("\n")
}

func tailSection(captured string) string {
	lines := strings.Split(captured, "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < fallbackTail; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		kept = append([]string{line}, kept...)
	}
	if len(kept) == 0 {
		return "(no session output captured)"
	}
	return "### Session tail\n" + strings.Join(kept, "\n")
}
