package autoclose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeClassifiesSections(t *testing.T) {
	captured := `$ go test ./...
ok  	example.com/pkg	0.3s
All 42 tests passed
running linter
ERROR: unused variable in main.go
build succeeded, artifact created
`
	got := Summarize(captured)

	assert.Contains(t, got, "### Commands")
	assert.Contains(t, got, "- $ go test ./...")
	assert.Contains(t, got, "- running linter")
	assert.Contains(t, got, "### Outcomes")
	assert.Contains(t, got, "All 42 tests passed")
	assert.Contains(t, got, "### Errors")
	assert.Contains(t, got, "ERROR: unused variable")
}

func TestSummarizeErrorBeatsOutcome(t *testing.T) {
	// A line matching both keyword sets lands in Errors.
	got := Summarize("tests failed but build completed\n")
	assert.Contains(t, got, "### Errors")
	assert.NotContains(t, got, "### Outcomes")
}

func TestSummarizeFallsBackToTail(t *testing.T) {
	captured := "just some chatter\nnothing notable here\n"
	got := Summarize(captured)

	assert.Contains(t, got, "### Session tail")
	assert.Contains(t, got, "just some chatter")
	assert.Contains(t, got, "nothing notable here")
}

func TestSummarizeEmptyCapture(t *testing.T) {
	assert.Equal(t, "(no session output captured)", Summarize(""))
}

func TestSummarizeCapsSectionLength(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("$ make step\n")
	}
	got := Summarize(b.String())
	assert.Equal(t, maxSectionLines, strings.Count(got, "- $ make step"))
}
