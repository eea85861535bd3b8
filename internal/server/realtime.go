package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	RealtimeEventStoreChanged = "store-change"
	RealtimeEventTick         = "tick"
	realtimeEventHeartbeat    = "heartbeat"
	realtimeSourceBackend     = "ehrflow-backend"

	opStoreEvents = "server.store_events"
	opSheetEvents = "server.sheet_events"
)

// RealtimeMessage is the data of one server-sent event.
type RealtimeMessage struct {
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Revision  uint64    `json:"revision"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

func newRealtimeMessage(change store.Change) RealtimeMessage {
	return RealtimeMessage{
		Path:      change.Path,
		Kind:      string(change.Kind),
		Revision:  change.Revision,
		Timestamp: change.Timestamp,
		Source:    realtimeSourceBackend,
	}
}

func eventType(change store.Change) string {
	if change.Kind == store.ChangeKindTick {
		return RealtimeEventTick
	}
	return RealtimeEventStoreChanged
}

// handleStoreEvents streams changes overlapping the path query parameter.
func (h *httpHandler) handleStoreEvents(c *gin.Context) {
	path, err := store.ParsePath(c.Query("path"))
	if err != nil {
		h.writeError(c, opStoreEvents, err)
		return
	}
	changes, cleanup := h.database.Store().Subscribe(c.Request.Context(), path)
	defer cleanup()
	h.streamChanges(c, changes)
}

// handleSheetEvents mounts the sheet so its clock runs, then streams writes and ticks of the encounter records.
func (h *httpHandler) handleSheetEvents(c *gin.Context) {
	sheet, ok := h.openSheet(c, opSheetEvents)
	if !ok {
		return
	}
	changes, cleanup := sheet.Records().Subscribe(c.Request.Context())
	defer cleanup()
	h.streamChanges(c, changes)
}

func (h *httpHandler) streamChanges(c *gin.Context, changes <-chan store.Change) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			c.SSEvent(eventType(change), newRealtimeMessage(change))
			c.Writer.Flush()
		case at := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": at.UTC(), "source": realtimeSourceBackend})
			c.Writer.Flush()
			h.logger.Debug("realtime heartbeat", zap.String("path", c.FullPath()))
		}
	}
}
