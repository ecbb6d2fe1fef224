package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type fileChangeEventPayload struct {
	FileIDs   []string  `json:"fileIds"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

type heartbeatEventPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// handleFileEvents streams file-change events for the caller until the client disconnects.
func (h *httpHandler) handleFileEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventHeartbeat, heartbeatEventPayload{Timestamp: time.Now().UTC(), Source: realtimeSourceBackend})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, fileChangeEventPayload{
				FileIDs:   message.FileIDs,
				Action:    message.Action,
				Timestamp: message.Timestamp,
				Source:    realtimeSourceBackend,
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatEventPayload{Timestamp: tick.UTC(), Source: realtimeSourceBackend})
			return true
		}
	})
}
