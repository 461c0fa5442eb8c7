package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/events/bus"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

// BridgeEvents forwards every domain event on the bus to the hub as an RPC
// notification. The event type doubles as the notification method name.
func (h *Hub) BridgeEvents(b bus.EventBus) (bus.Subscription, error) {
	return b.Subscribe(">", func(_ context.Context, ev *bus.Event) error {
		msg, err := rpc.NewNotification(ev.Type, ev.Data)
		if err != nil {
			h.log.Error("build notification", zap.String("event", ev.Type), zap.Error(err))
			return nil
		}
		h.Broadcast(msg)
		return nil
	})
}
