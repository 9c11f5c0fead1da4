package restapi

import (
	"net/http"
	"time"

	"portfolio_tracker/internal/app/port"
	"portfolio_tracker/internal/app/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from other origins in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ProgressWSHandler streams fetch progress updates to websocket clients.
type ProgressWSHandler struct {
	orchestrator *service.FetchOrchestrator
	logger       port.Logger
}

// NewProgressWSHandler creates a new ProgressWSHandler.
func NewProgressWSHandler(o *service.FetchOrchestrator, l port.Logger) *ProgressWSHandler {
	return &ProgressWSHandler{orchestrator: o, logger: l}
}

// Handle upgrades the connection and forwards progress updates until the
// client disconnects. The current snapshot is sent immediately on connect.
func (h *ProgressWSHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.orchestrator.Subscribe()
	defer cancel()

	// Drain reads so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(h.orchestrator.Progress()); err != nil {
		return
	}

	for progress := range updates {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(progress); err != nil {
			h.logger.Debug("Websocket progress write failed, dropping client", "error", err)
			return
		}
	}
}
