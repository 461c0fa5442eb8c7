package launcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

func sampleTask() *v1.Task {
	return &v1.Task{
		ID:          "task-0123456789abcdef",
		Description: "Write hello.py",
		Details:     "Print hello world",
		TargetRole:  "coder",
		Priority:    5,
	}
}

func sampleLane() *v1.SwimLane {
	return &v1.SwimLane{
		Name:                "demo",
		WorkingDir:          "/tmp/p",
		ContextInstructions: "Use Python 3.12",
	}
}

func TestComposePromptSingle(t *testing.T) {
	got := ComposePrompt(PromptInput{Task: sampleTask(), Lane: sampleLane()})

	assert.Contains(t, got, "Implement the following task.")
	assert.Contains(t, got, "Task ID: task-0123456789abcdef")
	assert.Contains(t, got, "Title: Write hello.py")
	assert.Contains(t, got, "Description: Print hello world")
	assert.Contains(t, got, "Role: coder")
	assert.Contains(t, got, "Priority: 5")
	assert.Contains(t, got, "Project: demo")
	assert.Contains(t, got, "Working Directory: /tmp/p")
	assert.Contains(t, got, "Context: Use Python 3.12")
	assert.Contains(t, got, "Implement immediately without asking")
	assert.NotContains(t, got, "promise-summary")
}

func TestComposePromptAskForContext(t *testing.T) {
	got := ComposePrompt(PromptInput{Task: sampleTask(), Lane: sampleLane(), AskForContext: true})

	assert.Contains(t, got, "ask the user for any missing context")
	assert.NotContains(t, got, "Implement immediately")
}

func TestComposePromptSentinelClause(t *testing.T) {
	got := ComposePrompt(PromptInput{
		Task: sampleTask(), Lane: sampleLane(),
		AutoClose: true, SignalID: "abc123",
	})

	assert.Contains(t, got, "<promise-summary>abc123")
	assert.Contains(t, got, "</promise-summary>")
	assert.Contains(t, got, "<promise>abc123-DONE</promise>")
}

func TestComposePromptTaskBox(t *testing.T) {
	parent := sampleTask()
	parent.SubtaskIDs = []string{"s1", "s2"}
	sub1 := &v1.Task{ID: "s1", Description: "step one", Priority: 5}
	sub2 := &v1.Task{ID: "s2", Description: "step two", Priority: 5}

	got := ComposePrompt(PromptInput{Task: parent, Lane: sampleLane(), Subtasks: []*v1.Task{sub1, sub2}})

	assert.Contains(t, got, "2 sub-tasks")
	assert.Contains(t, got, "--- Task 1 ---")
	assert.Contains(t, got, "--- Task 2 ---")
	assert.Contains(t, got, "step one")
	assert.Contains(t, got, "step two")
	assert.Contains(t, got, "Coordinate the sub-tasks yourself")
	assert.Less(t, strings.Index(got, "--- Task 1 ---"), strings.Index(got, "--- Task 2 ---"))
}

func TestComposePromptBundle(t *testing.T) {
	peer := &v1.Task{ID: "peer-456789012345678", Description: "refactor tests", Priority: 5}

	got := ComposePrompt(PromptInput{Task: sampleTask(), Lane: sampleLane(), Siblings: []*v1.Task{peer}})

	assert.Contains(t, got, "Parallel Tasks (for awareness):")
	assert.Contains(t, got, peer.ShortID())
	assert.Contains(t, got, "refactor tests")
	assert.Contains(t, got, "sibling windows")
}

func TestComposePromptPersonaAndInstructions(t *testing.T) {
	got := ComposePrompt(PromptInput{
		Task: sampleTask(), Lane: sampleLane(),
		Persona:                "You are a meticulous senior engineer.",
		AdditionalInstructions: "Run the linter before finishing.",
	})

	assert.Contains(t, got, "meticulous senior engineer")
	assert.Contains(t, got, "Run the linter before finishing.")
	// Instructions come after the persona, before the closing line.
	assert.Less(t, strings.Index(got, "meticulous"), strings.Index(got, "linter"))
}

func TestWindowName(t *testing.T) {
	task := &v1.Task{ID: "task-0123456789abcdef", Description: "Write Hello.py, please!"}
	got := WindowName(task)

	require.True(t, strings.HasPrefix(got, "task-task-0123456789-"))
	assert.Equal(t, "task-task-0123456789-write-hello-py-please", got)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "fix-the-bug", slugify("Fix THE bug"))
	assert.Equal(t, "a-b", slugify("--a__b--"))
	assert.Equal(t, "", slugify("!!!"))
	long := slugify("this title is long enough to exceed the slug length limit by far")
	assert.LessOrEqual(t, len(long), maxSlugLen+1)
}
