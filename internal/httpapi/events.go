package httpapi

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// drainInterval matches the cadence the one UI collaborator polls the
// Event Bus at: roughly 3 Hz.
const drainInterval = 300 * time.Millisecond

// sseEnvelope is the wire shape of one Server-Sent-Event payload: the raw
// domain Event plus a per-delivery ID so a reconnecting client can dedupe.
type sseEnvelope struct {
	ID    string      `json:"id"`
	Event interface{} `json:"event"`
}

// eventStream drains the Event Bus on a ticker and writes each pending
// event as one SSE "message" frame. The bus itself guarantees per-host
// ordering and drop-oldest overflow; this handler serializes and forwards
// what Drain hands back, skipping events for hosts no longer in the fleet.
func (h *handler) eventStream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events := h.bus.Drain()
			sent := 0
			for _, evt := range events {
				if name := evt.HostNameOf(); name != "" {
					if _, ok := h.manager.Get(name); !ok {
						// Host was deleted after this event was queued; don't
						// resurrect it in a client that never saw the delete.
						continue
					}
				}
				payload, err := json.Marshal(sseEnvelope{ID: uuid.New().String(), Event: evt})
				if err != nil {
					h.log.Warn("marshal event for sse stream", zap.Error(err))
					continue
				}
				c.SSEvent("message", string(payload))
				sent++
			}
			if sent > 0 {
				c.Writer.Flush()
			}
		}
	}
}
