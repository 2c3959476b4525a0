package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketChannel is the live-activity companion channel: the same events
// Bus.Publish delivers over SSE, framed as WebSocket text messages instead.
// It exists to give operators (dashboards, CLIs) a push channel that
// doesn't need an HTTP client capable of reading a chunked SSE body. SSE
// remains the primary transport (spec §4.9/§6); this is additive.
// Grounded on handlers/websocket_handler.go's upgrade/register/defer-
// cleanup/read-loop shape, narrowed from one global client set to one
// Subscription per connection, scoped by the same configHash the SSE
// endpoint keys listeners on.
type WebSocketChannel struct {
	bus      *Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketChannel builds a companion channel over bus.
func NewWebSocketChannel(bus *Bus, logger *zap.Logger) *WebSocketChannel {
	return &WebSocketChannel{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection upgrades the request and relays bus events for
// configHash until the client disconnects or a write fails. When the
// channel is already at capacity it answers 503 with a retryAfter hint and
// does not upgrade.
func (w *WebSocketChannel) HandleConnection(c *gin.Context) {
	configHash := c.Query("configHash")

	sub, err := w.bus.Subscribe(configHash)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "channel at capacity", "retryAfter": RetryAfterSeconds})
		return
	}

	conn, err := w.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		if w.logger != nil {
			w.logger.Warn("stream: websocket upgrade failed", zap.Error(err))
		}
		return
	}
	defer func() {
		sub.Close()
		conn.Close()
	}()

	done := make(chan struct{})
	go w.readLoop(conn, done)

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// readLoop drains and discards inbound control frames (ping/pong keepalive
// from the client) so the connection stays alive; this channel has no
// subscribe/unsubscribe protocol of its own since the configHash is fixed
// for the lifetime of the connection.
func (w *WebSocketChannel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
