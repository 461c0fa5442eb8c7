package runtimes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectStatusSpinner(t *testing.T) {
	r := newTestRegistry(t)

	captured := "some earlier output\n⠋ Thinking about the change\n"
	assert.Equal(t, StatusWorking, r.DetectStatus("claude", captured))

	captured = "doing stuff\n◐ Generating\n"
	assert.Equal(t, StatusWorking, r.DetectStatus("gemini", captured))
}

func TestDetectStatusKeywords(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, StatusWorking, r.DetectStatus("claude", "a\nesc to interrupt\n"))
	assert.Equal(t, StatusWorking, r.DetectStatus("gemini", "Generating response\n"))
}

func TestDetectStatusWaitingPrompt(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, StatusWaiting, r.DetectStatus("claude", "all set\n❯"))
	assert.Equal(t, StatusWaiting, r.DetectStatus("codex", "ready\n>>>"))
	assert.Equal(t, StatusWaiting, r.DetectStatus("claude", "done here\n$ "))
}

func TestDetectStatusRecentVolume(t *testing.T) {
	r := newTestRegistry(t)

	// No spinners or prompts, but a lot of fresh content means the CLI is
	// mid-stream.
	big := strings.Repeat("the quick brown fox jumped over the lazy dog....\n", 12)
	assert.Equal(t, StatusWorking, r.DetectStatus("claude", big))
}

func TestDetectStatusIdle(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, StatusIdle, r.DetectStatus("claude", ""))
	assert.Equal(t, StatusIdle, r.DetectStatus("claude", "short output."))
}

func TestDetectStatusOnlyTailCounts(t *testing.T) {
	r := newTestRegistry(t)

	// Keyword is buried beyond the last 10 non-empty lines.
	var b strings.Builder
	b.WriteString("Thinking hard\n")
	for i := 0; i < 12; i++ {
		b.WriteString("ok.\n")
	}
	assert.Equal(t, StatusIdle, r.DetectStatus("claude", b.String()))
}

func TestReadPaneMetadata(t *testing.T) {
	md := ReadPaneMetadata(map[string]string{
		"@cc_provider":    "claude",
		"@cc_model":       "opus",
		"@cc_session_id":  "abc-123",
		"@cc_context_pct": "42.5%",
		"@cc_tokens_in":   "1200",
		"@cc_tokens_out":  "900",
		"@cc_cost":        "$0.37",
		"@cc_git_branch":  "feature/x",
		"@cc_last_tool":   "Edit",
		"@cc_state":       "busy",
		"@unrelated":      "ignored",
	})

	assert.Equal(t, "claude", md.Provider)
	assert.Equal(t, "opus", md.Model)
	assert.Equal(t, "abc-123", md.SessionID)
	assert.Equal(t, 42.5, *md.ContextPct)
	assert.Equal(t, int64(1200), *md.TokensIn)
	assert.Equal(t, int64(900), *md.TokensOut)
	assert.Equal(t, 0.37, *md.Cost)
	assert.Equal(t, "feature/x", md.GitBranch)
	assert.Equal(t, "Edit", md.LastTool)
	assert.Equal(t, "busy", md.State)
}

func TestReadPaneMetadataBadNumbersDropped(t *testing.T) {
	md := ReadPaneMetadata(map[string]string{
		"@cc_tokens_in": "lots",
		"@cc_state":     "confused",
	})
	assert.Nil(t, md.TokensIn)
	assert.Empty(t, md.State)
}

func TestStatusFromMetadata(t *testing.T) {
	s, ok := StatusFromMetadata(PaneMetadata{State: "busy"})
	assert.True(t, ok)
	assert.Equal(t, StatusWorking, s)

	s, ok = StatusFromMetadata(PaneMetadata{State: "user"})
	assert.True(t, ok)
	assert.Equal(t, StatusWaiting, s)

	_, ok = StatusFromMetadata(PaneMetadata{})
	assert.False(t, ok)
}
