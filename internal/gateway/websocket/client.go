package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
)

// Client is a single WebSocket connection. Until it subscribes it receives
// only responses to its own requests; events.subscribe turns on pushed
// notifications matching the requested patterns.
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	mu       sync.RWMutex
	patterns []string

	log *logger.Logger
}

func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		hub:  hub,
		send: make(chan []byte, 256),
		log:  log.WithFields(zap.String("clientId", id)),
	}
}

// ReadPump pumps messages from the connection into the dispatcher.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket read", zap.Error(err))
			}
			return
		}

		var msg rpc.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Error("parse message", zap.Error(err))
			c.sendError("", "", rpc.ErrorCodeInvalidParam, "invalid message format")
			continue
		}
		c.handleMessage(ctx, &msg)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *rpc.Message) {
	c.log.Debug("request", zap.String("method", msg.Method), zap.String("id", msg.ID))

	// events.subscribe binds to the connection, not to domain state; it is
	// handled here instead of the dispatcher.
	if msg.Method == rpc.MethodEventsSubscribe {
		c.handleSubscribe(msg)
		return
	}

	response, err := c.hub.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		c.log.Error("handler error", zap.String("method", msg.Method), zap.Error(err))
		c.sendError(msg.ID, msg.Method, rpc.ErrorCodeInternal, err.Error())
		return
	}
	if response != nil {
		c.sendMessage(response)
	}
}

// SubscribeRequest is the events.subscribe payload. An empty pattern list
// subscribes to everything.
type SubscribeRequest struct {
	Patterns []string `json:"patterns,omitempty"`
}

func (c *Client) handleSubscribe(msg *rpc.Message) {
	var req SubscribeRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Method, rpc.ErrorCodeInvalidParam, "invalid payload: "+err.Error())
		return
	}
	if len(req.Patterns) == 0 {
		req.Patterns = []string{">"}
	}

	c.mu.Lock()
	c.patterns = req.Patterns
	c.mu.Unlock()

	resp, _ := rpc.NewResponse(msg.ID, msg.Method, map[string]interface{}{
		"subscribed": true,
		"patterns":   req.Patterns,
	})
	c.sendMessage(resp)
}

// wantsEvent reports whether any subscription pattern matches the event
// method. Patterns follow NATS-style subjects: "task.*" matches one token,
// ">" matches any suffix.
func (c *Client) wantsEvent(method string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.patterns {
		if matchSubject(method, p) {
			return true
		}
	}
	return false
}

func matchSubject(subject, pattern string) bool {
	if pattern == ">" || pattern == subject {
		return true
	}
	st := strings.Split(subject, ".")
	pt := strings.Split(pattern, ".")
	for i, p := range pt {
		if p == ">" {
			return true
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(st) == len(pt)
}

func (c *Client) sendMessage(msg *rpc.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("send buffer full")
	}
}

func (c *Client) sendError(id, method, code, message string) {
	msg, err := rpc.NewError(id, method, code, message, nil)
	if err != nil {
		c.log.Error("create error message", zap.Error(err))
		return
	}
	c.sendMessage(msg)
}

// WritePump pumps queued messages out to the connection and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Batch additional queued messages into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
