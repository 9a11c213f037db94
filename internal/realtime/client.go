package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"snapclone/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Client owns one websocket connection. The transport layer is the sole owner
// of the underlying conn; the rest of the system refers to it only by id.
type Client struct {
	id       string
	identity Identity
	gateway  *Gateway
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}

	closeOnce sync.Once
}

func (c *Client) ReadPump() {
	defer func() {
		c.gateway.disconnect(c)
		c.conn.Close()
	}()

	// Ping/pong keeps half-dead connections from lingering.
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			break
		}

		if err := c.gateway.dispatcher.Dispatch(c.id, message); err != nil {
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				// Malformed input goes back to the producer only; the
				// connection stays open.
				c.sendError(vErr)
				continue
			}
			logger.Error("Dispatch error for user %s: %v", c.identity.Username, err)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// enqueue hands a marshaled event to the write pump. A full buffer means a
// slow client; the event is dropped rather than blocking the router.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		logger.Warn("Send buffer full for user %s, dropping event", c.identity.Username)
	}
}

func (c *Client) sendError(vErr *ValidationError) {
	ev := NewOutbound(EventError, ErrorData{
		Event:   vErr.Event,
		Message: vErr.Reason,
	})
	if data, err := json.Marshal(ev); err == nil {
		c.enqueue(data)
	}
}
