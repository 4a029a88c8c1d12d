package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// stream pushes subsystem events to the renderer over a websocket.
func (h *Handler) stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.sub.Metrics != nil {
		h.sub.Metrics.WSConnections.Inc()
		defer h.sub.Metrics.WSConnections.Dec()
	}

	events, cancel := h.sub.Bus.Subscribe()
	defer cancel()

	// Reader goroutine detects the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-closed:
			return
		}
	}
}
