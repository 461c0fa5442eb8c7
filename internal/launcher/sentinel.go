package launcher

import (
	"strings"

	"github.com/google/uuid"
)

// NewSignalID mints the random token embedded in a task's sentinel markers.
func NewSignalID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

const sentinelTailLines = 12

// FindSentinel scans captured pane output for the completion markers of the
// given signal id. It reports found only when the DONE marker is present.
// The summary is the text between the summary markers; when the DONE marker
// exists but the summary block is missing or malformed, the raw tail of the
// capture stands in for it.
func FindSentinel(captured, signalID string) (summary string, found bool) {
	doneMarker := "<promise>" + signalID + "-DONE</promise>"
	doneIdx := strings.Index(captured, doneMarker)
	if doneIdx < 0 {
		return "", false
	}

	openMarker := "<promise-summary>" + signalID
	openIdx := strings.Index(captured[:doneIdx], openMarker)
	if openIdx < 0 {
		return rawTail(captured[:doneIdx]), true
	}
	body := captured[openIdx+len(openMarker) : doneIdx]
	closeIdx := strings.Index(body, "</promise-summary>")
	if closeIdx < 0 {
		return rawTail(captured[:doneIdx]), true
	}
	summary = strings.TrimSpace(body[:closeIdx])
	if summary == "" {
		return rawTail(captured[:doneIdx]), true
	}
	return summary, true
}

// rawTail returns the last few non-empty lines before the DONE marker,
// excluding any partial sentinel markup.
func rawTail(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < sentinelTailLines; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.Contains(line, "<promise-summary>") || strings.Contains(line, "</promise-summary>") {
			continue
		}
		kept = append([]string{line}, kept...)
	}
	return strings.Join(kept, "\n")
}
