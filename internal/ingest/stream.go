package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/event"
	"github.com/breakpointhq/breakpoint/internal/logging"
)

const sseKeepaliveInterval = 20 * time.Second

// Stream handles GET /api/v1/events/stream: a Server-Sent Events feed of
// every insert/claim the event store observes (§4.H). A disconnected or
// slow consumer is dropped by the store's own lag threshold (§4.B); this
// handler only needs to stop writing when the subscriber channel closes.
func (h *Handler) Stream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	ctx := c.Request.Context()
	updates := h.store.Subscribe(ctx, "sse")

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSSEEvent(c.Writer, u); err != nil {
				logging.Warn(ctx, "sse write failed, closing stream", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, u event.Update) error {
	name := "alert"
	if u.Kind == event.UpdateClaimed {
		name = "alert_claimed"
	}

	body, err := json.Marshal(fromEvent(u.Event))
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", name, u.Event.ID, body); err != nil {
		return err
	}
	return nil
}
