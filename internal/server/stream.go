package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	StreamEventPostChanged = "post-change"
	streamEventHeartbeat   = "heartbeat"
	streamSource           = "sustainhub-api"
)

type heartbeatPayload struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// handleStream serves committed post changes as server-sent events until the client disconnects.
func (h *httpHandler) handleStream(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	views, cleanup, err := h.forum.Subscribe(ctx, sessionEmail(c))
	if err != nil {
		h.logger.Error("stream subscription failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream_unavailable"})
		return
	}
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(streamEventHeartbeat, heartbeatPayload{Source: streamSource, Timestamp: time.Now().UTC()})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case view, ok := <-views:
			if !ok {
				return false
			}
			c.SSEvent(StreamEventPostChanged, view)
			return true
		case now := <-ticker.C:
			c.SSEvent(streamEventHeartbeat, heartbeatPayload{Source: streamSource, Timestamp: now.UTC()})
			return true
		}
	})
}
