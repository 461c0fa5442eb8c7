package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

func TestMatchSubject(t *testing.T) {
	cases := []struct {
		subject, pattern string
		want             bool
	}{
		{"task.updated", ">", true},
		{"task.updated", "task.updated", true},
		{"task.updated", "task.*", true},
		{"task.updated", "task.>", true},
		{"task.autoclose.completed", "task.>", true},
		{"task.autoclose.completed", "task.*", false},
		{"agent.updated", "task.*", false},
		{"task.updated", "task", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchSubject(tc.subject, tc.pattern), "%s vs %s", tc.subject, tc.pattern)
	}
}

func TestHubBroadcastRespectsSubscriptions(t *testing.T) {
	hub := NewHub(rpc.NewDispatcher(), logger.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	subscribed := NewClient("sub", nil, hub, logger.Default())
	subscribed.patterns = []string{"task.*"}
	silent := NewClient("silent", nil, hub, logger.Default())

	hub.Register(subscribed)
	hub.Register(silent)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	note, err := rpc.NewNotification("task.updated", map[string]interface{}{"id": "t1"})
	require.NoError(t, err)
	hub.Broadcast(note)

	select {
	case raw := <-subscribed.send:
		var msg rpc.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "task.updated", msg.Method)
		assert.Equal(t, rpc.MessageTypeNotification, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("subscribed client never received the notification")
	}

	select {
	case <-silent.send:
		t.Fatal("unsubscribed client received a notification")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeDefaultsToEverything(t *testing.T) {
	hub := NewHub(rpc.NewDispatcher(), logger.Default())
	client := NewClient("c", nil, hub, logger.Default())

	req, err := rpc.NewRequest("1", rpc.MethodEventsSubscribe, SubscribeRequest{})
	require.NoError(t, err)
	client.handleSubscribe(req)

	assert.True(t, client.wantsEvent("task.updated"))
	assert.True(t, client.wantsEvent("pipeline.run.updated"))

	// The ack went onto the send queue.
	select {
	case raw := <-client.send:
		var msg rpc.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, rpc.MessageTypeResponse, msg.Type)
	default:
		t.Fatal("no subscription ack queued")
	}
}
