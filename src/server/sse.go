package server

import (
	"fmt"
	"net/http"
	"time"

	"coinwatch/src/logger"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// SSE Transport
// -----------------------------------------------------------------------------

// handleStream serves the server-sent-events feed. The per-IP connection slot
// is reserved before the hub subscription so a rejected client never consumes
// hub capacity.
func (s *CoinwatchServer) handleStream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	ip := c.ClientIP()
	if !s.Limiter.AcquireConn(ip) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "connection limit reached"})
		return
	}
	defer s.Limiter.ReleaseConn(ip)

	sub, err := s.Hub.Subscribe(ip)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscriber capacity reached"})
		return
	}
	defer s.Hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(time.Duration(s.Config.Limits.HeartbeatSeconds) * time.Second)
	defer heartbeat.Stop()

	// Every connection is closed after the TTL regardless of activity.
	ttl := time.NewTimer(time.Duration(s.Config.Limits.ConnectionTTLMinutes) * time.Minute)
	defer ttl.Stop()

	for {
		select {
		case data, open := <-sub.Events():
			if !open {
				// Hub dropped us (slow consumer or shutdown).
				return
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			// Comment line, ignored by EventSource clients.
			if _, err := fmt.Fprint(c.Writer, ":ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-ttl.C:
			s.Logger.WithFields(logger.Fields{"id": sub.ID, "ip": ip}).
				Info("connection TTL reached, closing stream")
			return

		case <-c.Request.Context().Done():
			return
		}
	}
}
