package runtimes

import "strings"

// PaneStatus is the heuristic classification of a pane's captured output.
type PaneStatus string

const (
	StatusWorking PaneStatus = "working"
	StatusWaiting PaneStatus = "waiting"
	StatusIdle    PaneStatus = "idle"
)

// Spinner glyphs emitted by the common terminal spinner libraries.
var spinnerGlyphs = []string{
	"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏",
	"◐", "◓", "◑", "◒", "▖", "▘", "▝", "▗",
	"|", "/", "-", "\\",
}

// Keywords shared across providers that indicate active generation.
var sharedStatusKeywords = []string{
	"Thinking", "Generating", "Working", "Running", "Compacting",
	"Analyzing", "Processing", "tokens",
}

// Prompt glyphs that, when trailing the last line, mean the CLI is waiting
// for input.
var promptGlyphs = []string{"❯", ">>>", ">", "$"}

const recentContentWorkingThreshold = 500

// DetectStatus classifies the tail of captured pane text. The heuristic
// looks at the last ten non-empty lines only: spinner glyphs or activity
// keywords mean working, a trailing prompt glyph means waiting for input,
// a large amount of recent content means working, anything else is idle.
func (r *Registry) DetectStatus(provider, captured string) PaneStatus {
	lines := tailNonEmpty(captured, 10)
	if len(lines) == 0 {
		return StatusIdle
	}

	keywords := sharedStatusKeywords
	if p, err := r.Profile(provider); err == nil {
		keywords = append(append([]string{}, keywords...), p.StatusKeywords...)
	}

	total := 0
	for _, line := range lines {
		total += len(line)
		for _, kw := range keywords {
			if strings.Contains(line, kw) {
				return StatusWorking
			}
		}
		for _, glyph := range spinnerGlyphs {
			// Bare ASCII spinner chars only count at line start, where
			// spinners render; mid-line they are ordinary punctuation.
			if len(glyph) == 1 {
				if strings.HasPrefix(strings.TrimSpace(line), glyph+" ") {
					return StatusWorking
				}
				continue
			}
			if strings.Contains(line, glyph) {
				return StatusWorking
			}
		}
	}

	last := strings.TrimRight(lines[len(lines)-1], " \t")
	for _, glyph := range promptGlyphs {
		if strings.HasSuffix(last, glyph) {
			return StatusWaiting
		}
	}

	if total >= recentContentWorkingThreshold {
		return StatusWorking
	}
	return StatusIdle
}

// tailNonEmpty returns the last n non-empty lines of text, in order.
func tailNonEmpty(text string, n int) []string {
	all := strings.Split(text, "\n")
	out := make([]string, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(all[i]) == "" {
			continue
		}
		out = append(out, all[i])
	}
	// reverse into original order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
