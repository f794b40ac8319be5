package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtime-service/internal/domain"
)

const (
	sendBufferSize = 256
	// backlog replay leaves this much of the buffer free for live events
	backlogHeadroom = 32
	backlogPoll     = 10 * time.Millisecond
)

// Client is one live socket. The write side is owned by writePump; anything
// else hands frames over through trySend.
type Client struct {
	id       string
	conn     *websocket.Conn
	identity domain.Identity
	token    string
	send     chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(id string, conn *websocket.Conn, identity domain.Identity, token string) *Client {
	return &Client{
		id:       id,
		conn:     conn,
		identity: identity,
		token:    token,
		send:     make(chan []byte, sendBufferSize),
	}
}

func (c *Client) UserID() string {
	return c.identity.UserID
}

// trySend queues a frame without blocking. A client whose buffer is full is
// too slow to keep: its send channel is closed, which ends the connection.
func (c *Client) trySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

// sendBacklog queues a replayed frame, waiting up to timeout while the
// buffer is above the headroom mark. Unlike trySend it never cuts the
// client off; false means the frame was not queued.
func (c *Client) sendBacklog(msg []byte, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		if len(c.send) < cap(c.send)-backlogHeadroom {
			c.send <- msg
			c.mu.Unlock()
			return true
		}
		c.mu.Unlock()

		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(backlogPoll)
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

type pumpConfig struct {
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

// readPump reads frames until the socket fails, handing each to handle.
func (c *Client) readPump(cfg pumpConfig, logger *zap.Logger, handle func(*Client, []byte)) {
	c.conn.SetReadLimit(cfg.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read error",
					zap.String("socket_id", c.id),
					zap.String("user_id", c.identity.UserID),
					zap.Error(err),
				)
			}
			return
		}
		handle(c, message)
	}
}

func (c *Client) writePump(cfg pumpConfig) {
	ticker := time.NewTicker(cfg.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
