package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The daemon binds to loopback; cross-origin checks happen upstream
	// when it is ever exposed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP connections and attaches them to the hub. Client
// pumps outlive the upgrade request, so they run on the handler's base
// context rather than the request context.
type Handler struct {
	baseCtx context.Context
	hub     *Hub
	log     *logger.Logger
}

func NewHandler(ctx context.Context, hub *Hub, log *logger.Logger) *Handler {
	return &Handler{baseCtx: ctx, hub: hub, log: log}
}

// RegisterRoutes mounts the gateway endpoint on a gin router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", h.serve)
}

func (h *Handler) serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.log)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.baseCtx)
}
