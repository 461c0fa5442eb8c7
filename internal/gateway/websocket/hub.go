// Package websocket is the WebSocket gateway: every RPC method plus pushed
// event notifications over one connection.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

// Hub manages all WebSocket client connections.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *rpc.Message

	dispatcher *rpc.Dispatcher

	mu  sync.RWMutex
	log *logger.Logger
}

func NewHub(dispatcher *rpc.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *rpc.Message, 256),
		dispatcher: dispatcher,
		log:        log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run is the hub's main loop; it owns the client set.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("websocket hub started")
	defer h.log.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("client registered", zap.String("clientId", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastNotification(msg)
		}
	}
}

// Register hands a new connection to the hub loop.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister removes a connection; safe to call from the read pump.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// Broadcast queues a notification for every subscribed client. Drops the
// message when the hub is backed up rather than blocking event delivery.
func (h *Hub) Broadcast(msg *rpc.Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full, notification dropped", zap.String("method", msg.Method))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.log.Debug("client unregistered", zap.String("clientId", client.ID))
}

// broadcastNotification fans a notification out to clients whose
// subscription matches the method name.
func (h *Hub) broadcastNotification(msg *rpc.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wantsEvent(msg.Method) {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.log.Warn("client send buffer full", zap.String("clientId", client.ID))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
