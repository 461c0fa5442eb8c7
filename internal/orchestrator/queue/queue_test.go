package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

func TestPriorityOrdering(t *testing.T) {
	q := NewTaskQueue()
	require.NoError(t, q.Enqueue(&v1.Task{ID: "low", Priority: 1}))
	require.NoError(t, q.Enqueue(&v1.Task{ID: "high", Priority: 9}))
	require.NoError(t, q.Enqueue(&v1.Task{ID: "mid", Priority: 5}))

	assert.Equal(t, "high", q.Dequeue().TaskID)
	assert.Equal(t, "mid", q.Dequeue().TaskID)
	assert.Equal(t, "low", q.Dequeue().TaskID)
	assert.Nil(t, q.Dequeue())
}

func TestFIFOWithinPriority(t *testing.T) {
	q := NewTaskQueue()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(&v1.Task{ID: fmt.Sprintf("t%d", i), Priority: 5}))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("t%d", i), q.Dequeue().TaskID)
	}
}

func TestDuplicateRejected(t *testing.T) {
	q := NewTaskQueue()
	require.NoError(t, q.Enqueue(&v1.Task{ID: "a", Priority: 5}))
	assert.ErrorIs(t, q.Enqueue(&v1.Task{ID: "a", Priority: 5}), ErrTaskExists)
}

func TestRemove(t *testing.T) {
	q := NewTaskQueue()
	require.NoError(t, q.Enqueue(&v1.Task{ID: "a", Priority: 5}))
	require.NoError(t, q.Enqueue(&v1.Task{ID: "b", Priority: 7}))

	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"))
	assert.False(t, q.Contains("b"))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "a", q.Dequeue().TaskID)
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := NewTaskQueue()
	require.NoError(t, q.Enqueue(&v1.Task{ID: "a", Priority: 5}))
	assert.Equal(t, "a", q.Peek().TaskID)
	assert.Equal(t, 1, q.Len())
}
