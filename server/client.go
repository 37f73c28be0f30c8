package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/notify"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// The stream is server-to-client; peers only send control frames
	maxMessageSize = 512
)

// Client is one live notification stream
type Client struct {
	server *Server
	conn   *websocket.Conn
	send   chan notify.Notification
	userID string
	id     string
}

func newClient(s *Server, conn *websocket.Conn, userID string) *Client {
	return &Client{
		server: s,
		conn:   conn,
		send:   make(chan notify.Notification, MaxClientMessageQueueSize),
		userID: userID,
		id:     uuid.NewString(),
	}
}

// deliver is the broker callback. It must not block the publisher, so a
// client that has fallen a full queue behind loses the notification; it
// remains readable through GET /api/notifications.
func (c *Client) deliver(n notify.Notification) {
	select {
	case c.send <- n:
	default:
		c.server.logger.Warnw("Client queue full, notification dropped",
			"client", c.id,
			logger.FieldUserID, c.userID,
			"notification", n.ID,
		)
	}
}

// readPump drains control frames until the peer goes away
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debugw("Notification stream closed unexpectedly",
					"client", c.id,
					logger.FieldError, err,
				)
			}
			return
		}
	}
}

// writePump sends queued notifications and keepalive pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case n, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(n); err != nil {
				c.server.logger.Debugw("Notification write failed",
					"client", c.id,
					logger.FieldError, err,
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
