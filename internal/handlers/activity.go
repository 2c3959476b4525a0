package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"submaker/internal/metrics"
	"submaker/internal/stream"
	"submaker/utils"
)

// StreamActivity handles GET /activity?config=<hash>, an SSE stream
// carrying ready|episode|partial|complete|ping events for one config hash.
// Grounded on the teacher's websocket_handler.go connection-registration
// shape, reframed as text/event-stream per spec §6's exact SSE framing
// ("event: <name>\ndata: <json>\n\n", one leading "retry: 5000\n\n",
// X-Accel-Buffering: no, Cache-Control: no-store, Content-Encoding: identity).
// @Summary Subscribe to live search/translation activity for a config hash
// @Tags stream
// @Produce text/event-stream
// @Param config query string true "config hash"
// @Success 200 {string} string "text/event-stream"
// @Failure 204 "channel at listener capacity"
// @Router /activity [get]
func (h *Handlers) StreamActivity(c *gin.Context) {
	configHash := c.Query("config")
	if configHash == "" {
		utils.SendErrorResponse(c, h.logger, http.StatusBadRequest, "config is required", nil)
		return
	}

	sub, err := h.bus.Subscribe(configHash)
	if err != nil {
		c.Header("Retry-After", fmt.Sprint(stream.RetryAfterSeconds))
		c.Status(http.StatusNoContent)
		return
	}
	defer sub.Close()

	metrics.StreamListenersActive.Inc()
	defer metrics.StreamListenersActive.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-store")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Encoding", "identity")
	c.Writer.WriteHeader(http.StatusOK)
	fmt.Fprint(c.Writer, "retry: 5000\n\n")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				if h.logger != nil {
					h.logger.Warn("handlers: failed to marshal stream event", zap.Error(err))
				}
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, data)
			c.Writer.Flush()
		}
	}
}
