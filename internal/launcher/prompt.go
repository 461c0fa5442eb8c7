// Package launcher starts tasks inside multiplexer windows: it composes the
// agent prompt, spawns the AI CLI, binds the task to its pane and watches
// for the completion sentinel.
package launcher

import (
	"fmt"
	"strings"

	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// PromptInput carries everything prompt composition needs. Composition is
// pure; callers gather the pieces.
type PromptInput struct {
	Task     *v1.Task
	Lane     *v1.SwimLane
	Subtasks []*v1.Task // set for a task box parent
	Siblings []*v1.Task // set for bundle launches
	Persona  string     // optional template content

	AdditionalInstructions string
	AskForContext          bool
	AutoClose              bool
	SignalID               string
}

// ComposePrompt renders the full prompt for a launch. The shape branches on
// the task: task box, bundle, or single task.
func ComposePrompt(in PromptInput) string {
	var b strings.Builder

	switch {
	case len(in.Subtasks) > 0:
		composeTaskBox(&b, in)
	case len(in.Siblings) > 0:
		composeBundle(&b, in)
	default:
		composeSingle(&b, in)
	}

	writeTails(&b, in)
	return strings.TrimRight(b.String(), "\n")
}

func composeSingle(b *strings.Builder, in PromptInput) {
	b.WriteString("Implement the following task.\n\n")
	writeIdentity(b, in.Task)
	writeLaneContext(b, in.Lane)
	writePersona(b, in.Persona)
}

func composeTaskBox(b *strings.Builder, in PromptInput) {
	fmt.Fprintf(b, "Implement the following %d sub-tasks. They belong together and share this session.\n\n", len(in.Subtasks))
	writeIdentity(b, in.Task)
	writeLaneContext(b, in.Lane)
	for i, sub := range in.Subtasks {
		fmt.Fprintf(b, "--- Task %d ---\n", i+1)
		writeIdentity(b, sub)
	}
	b.WriteString("Coordinate the sub-tasks yourself: finish one before starting the next unless they are independent.\n\n")
	writePersona(b, in.Persona)
}

func composeBundle(b *strings.Builder, in PromptInput) {
	b.WriteString("Implement the following task.\n\n")
	writeIdentity(b, in.Task)
	writeLaneContext(b, in.Lane)
	b.WriteString("Parallel Tasks (for awareness):\n")
	for _, peer := range in.Siblings {
		fmt.Fprintf(b, "- %s: %s\n", peer.ShortID(), peer.Description)
	}
	b.WriteString("These run concurrently in sibling windows. Avoid editing files they are likely to touch.\n\n")
	writePersona(b, in.Persona)
}

func writeIdentity(b *strings.Builder, task *v1.Task) {
	fmt.Fprintf(b, "Task ID: %s\n", task.ID)
	fmt.Fprintf(b, "Title: %s\n", task.Description)
	if task.Details != "" {
		fmt.Fprintf(b, "Description: %s\n", task.Details)
	}
	if task.TargetRole != "" {
		fmt.Fprintf(b, "Role: %s\n", task.TargetRole)
	}
	fmt.Fprintf(b, "Priority: %d\n\n", task.Priority)
}

func writeLaneContext(b *strings.Builder, lane *v1.SwimLane) {
	if lane == nil {
		return
	}
	fmt.Fprintf(b, "Project: %s\n", lane.Name)
	fmt.Fprintf(b, "Working Directory: %s\n", lane.WorkingDir)
	if lane.ContextInstructions != "" {
		fmt.Fprintf(b, "Context: %s\n", lane.ContextInstructions)
	}
	b.WriteString("\n")
}

func writePersona(b *strings.Builder, persona string) {
	if persona == "" {
		return
	}
	b.WriteString(persona)
	b.WriteString("\n\n")
}

func writeTails(b *strings.Builder, in PromptInput) {
	if in.AdditionalInstructions != "" {
		b.WriteString(in.AdditionalInstructions)
		b.WriteString("\n\n")
	}
	if in.AskForContext {
		b.WriteString("Before writing any code, ask the user for any missing context you need.\n")
	} else {
		b.WriteString("Implement immediately without asking for confirmation.\n")
	}
	if in.AutoClose && in.SignalID != "" {
		b.WriteString("\n")
		b.WriteString(sentinelClause(in.SignalID))
	}
}

// sentinelClause instructs the AI to emit the two completion markers.
func sentinelClause(signalID string) string {
	return fmt.Sprintf(`When the task is fully complete, output exactly this, on its own lines:
<promise-summary>%s
<a 2-5 sentence summary of what you did>
</promise-summary>
<promise>%s-DONE</promise>
Do not output these markers before the task is complete.
`, signalID, signalID)
}

// WindowName derives the window name for a task: task-<shortId>-<slug>.
// The shortId segment is the binding anchor; it must never be renamed.
func WindowName(task *v1.Task) string {
	return "task-" + task.ShortID() + "-" + slugify(task.Description)
}

const maxSlugLen = 30

// slugify lowercases and reduces a title to a window-name-safe slug.
func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
