package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/omnidesk-io/omnidesk/pkg/protocol"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// Client is one agent WebSocket connection. It implements presence.Conn:
// events are queued on a buffered channel and written by a single pump so
// SendEvent never blocks the pipeline.
type Client struct {
	id      string
	agentID string
	conn    *websocket.Conn

	send      chan *protocol.EventFrame
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection for an authenticated agent.
func NewClient(agentID string, conn *websocket.Conn) *Client {
	return &Client{
		id:      uuid.Must(uuid.NewV7()).String(),
		agentID: agentID,
		conn:    conn,
		send:    make(chan *protocol.EventFrame, sendBuffer),
		done:    make(chan struct{}),
	}
}

// SendEvent queues an event for delivery. A connection that cannot keep up
// has its oldest backlog dropped rather than stalling the sender.
func (c *Client) SendEvent(name string, payload interface{}) {
	frame := protocol.NewEvent(name, payload)
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		slog.Warn("agent connection backlog full, dropping event",
			"agent_id", c.agentID, "event", name)
	}
}

// Run services the connection until it closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()

	// Reads only service control frames; agents talk to the CRUD API over
	// HTTP, the socket is a one-way event stream.
	c.conn.SetPongHandler(func(string) error { return nil })
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				slog.Debug("agent write failed", "agent_id", c.agentID, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
