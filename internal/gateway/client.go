package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/DavidFlores79/wadesk/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	sendBufferSize = 64
)

// Client is one connected dashboard WebSocket. Events are fanned out
// through a buffered send channel; a client that cannot keep up drops
// events rather than blocking the broadcaster.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan bus.Event
	done chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan bus.Event, sendBufferSize),
		done: make(chan struct{}),
	}
}

// SendEvent queues an event for delivery. Non-blocking.
func (c *Client) SendEvent(event bus.Event) {
	select {
	case c.send <- event:
	default:
		slog.Debug("dropping event for slow websocket client", "id", c.id, "event", event.Name)
	}
}

// Run pumps events to the connection and reads (discarding) inbound
// frames so pings and close frames are processed. Returns when the
// client disconnects or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.writePump(ctx)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				slog.Debug("websocket write failed", "id", c.id, "error", err)
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

// Close tears down the connection.
func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.conn.Close()
}
