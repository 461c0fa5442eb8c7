package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindSentinelComplete(t *testing.T) {
	captured := `$ running tests
All tests passed.
<promise-summary>sig42
Added hello.py printing hello world.
Covered it with a smoke test.
</promise-summary>
<promise>sig42-DONE</promise>
`
	summary, found := FindSentinel(captured, "sig42")
	require.True(t, found)
	assert.Equal(t, "Added hello.py printing hello world.\nCovered it with a smoke test.", summary)
}

func TestFindSentinelNotDone(t *testing.T) {
	captured := `<promise-summary>sig42
half written summary`
	_, found := FindSentinel(captured, "sig42")
	assert.False(t, found)
}

func TestFindSentinelWrongSignal(t *testing.T) {
	captured := `<promise-summary>other
done
</promise-summary>
<promise>other-DONE</promise>`
	_, found := FindSentinel(captured, "sig42")
	assert.False(t, found)
}

func TestFindSentinelMissingSummaryFallsBackToTail(t *testing.T) {
	captured := `wrote the file
ran the tests, they pass
<promise>sig42-DONE</promise>`
	summary, found := FindSentinel(captured, "sig42")
	require.True(t, found)
	assert.Contains(t, summary, "ran the tests, they pass")
	assert.NotContains(t, summary, "promise")
}

func TestFindSentinelUnclosedSummaryFallsBackToTail(t *testing.T) {
	captured := `fixed the parser
<promise-summary>sig42
the summary never closes
<promise>sig42-DONE</promise>`
	summary, found := FindSentinel(captured, "sig42")
	require.True(t, found)
	assert.Contains(t, summary, "fixed the parser")
}

func TestNewSignalID(t *testing.T) {
	a, b := NewSignalID(), NewSignalID()
	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
}
