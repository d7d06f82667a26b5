package server

import (
	"net/http"
	"time"

	"coinwatch/src/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------
// WebSocket Transport
// -----------------------------------------------------------------------------
// The websocket feed carries the same events as the SSE stream. Each
// connection shares the hub subscriber machinery, so capacity and per-IP
// limits apply identically to both transports.

func (s *CoinwatchServer) handleWebSocket(c *gin.Context) {
	ip := c.ClientIP()
	if !s.Limiter.AcquireConn(ip) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "connection limit reached"})
		return
	}

	sub, err := s.Hub.Subscribe(ip)
	if err != nil {
		s.Limiter.ReleaseConn(ip)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscriber capacity reached"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Hub.Unsubscribe(sub)
		s.Limiter.ReleaseConn(ip)
		s.Logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{
		server: s,
		sub:    sub,
		conn:   conn,
		ip:     ip,
	}

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------

type wsClient struct {
	server *CoinwatchServer
	sub    *Subscriber
	conn   *websocket.Conn
	ip     string
}

// -----------------------------------------------------------------------------
// readPump - watchdog for the connection
// -----------------------------------------------------------------------------

// The feed is one-way; inbound frames are only read to service pongs and
// detect disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.server.Hub.Unsubscribe(c.sub)
		c.server.Limiter.ReleaseConn(c.ip)
		c.conn.Close()
		c.server.Logger.WithFields(logger.Fields{"id": c.sub.ID}).Info("websocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.Logger.WithError(err).Info("websocket read error")
			}
			break
		}
	}
}

// -----------------------------------------------------------------------------
// writePump - sends events to the client
// -----------------------------------------------------------------------------

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	// Same TTL policy as the SSE stream.
	ttl := time.NewTimer(time.Duration(c.server.Config.Limits.ConnectionTTLMinutes) * time.Minute)

	defer func() {
		ticker.Stop()
		ttl.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ttl.C:
			c.server.Logger.WithFields(logger.Fields{"id": c.sub.ID, "ip": c.ip}).
				Info("connection TTL reached, closing websocket")
			return
		}
	}
}
