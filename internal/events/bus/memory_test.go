package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
)

func collectEvents(t *testing.T, b *MemoryEventBus, pattern string) (*sync.Mutex, *[]*Event) {
	t.Helper()
	var mu sync.Mutex
	var got []*Event
	_, err := b.Subscribe(pattern, func(ctx context.Context, e *Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	return &mu, &got
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMemoryBusExactSubject(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	mu, got := collectEvents(t, b, "task.updated")

	require.NoError(t, b.Publish(context.Background(), "task.updated", NewEvent("task.updated", "test", nil)))
	require.NoError(t, b.Publish(context.Background(), "task.moved", NewEvent("task.moved", "test", nil)))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*got) == 1
	})
	mu.Lock()
	assert.Equal(t, "task.updated", (*got)[0].Type)
	mu.Unlock()
}

func TestMemoryBusWildcards(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	mu, got := collectEvents(t, b, "task.>")

	subjects := []string{"task.updated", "task.moved", "task.autoclose.completed", "agent.updated"}
	for _, s := range subjects {
		require.NoError(t, b.Publish(context.Background(), s, NewEvent(s, "test", nil)))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*got) == 3
	})
	mu.Lock()
	for _, e := range *got {
		assert.NotEqual(t, "agent.updated", e.Type)
	}
	mu.Unlock()
}

func TestMemoryBusSingleTokenWildcard(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	mu, got := collectEvents(t, b, "task.*")

	require.NoError(t, b.Publish(context.Background(), "task.updated", NewEvent("task.updated", "test", nil)))
	require.NoError(t, b.Publish(context.Background(), "task.autoclose.completed", NewEvent("task.autoclose.completed", "test", nil)))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*got) == 1
	})
	mu.Lock()
	assert.Equal(t, "task.updated", (*got)[0].Type)
	mu.Unlock()
}

func TestMemoryBusOrderPerSubscriber(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	mu, got := collectEvents(t, b, "task.updated")

	for i := 0; i < 20; i++ {
		e := NewEvent("task.updated", "test", map[string]interface{}{"seq": i})
		require.NoError(t, b.Publish(context.Background(), "task.updated", e))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*got) == 20
	})
	mu.Lock()
	for i, e := range *got {
		assert.Equal(t, i, e.Data["seq"])
	}
	mu.Unlock()
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	sub, err := b.Subscribe("task.updated", func(ctx context.Context, e *Event) error {
		t.Error("should not deliver after unsubscribe")
		return nil
	})
	require.NoError(t, err)
	require.True(t, sub.IsValid())
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "task.updated", NewEvent("task.updated", "test", nil)))
	time.Sleep(50 * time.Millisecond)
}

func TestMemoryBusClosedPublish(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	b.Close()
	assert.False(t, b.IsConnected())
	assert.Error(t, b.Publish(context.Background(), "task.updated", NewEvent("task.updated", "test", nil)))
}
