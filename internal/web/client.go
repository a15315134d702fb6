package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/herdctl/internal/bus"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 64
)

// client is one dashboard connection: a read loop for control frames and a
// write pump serializing outbound frames.
type client struct {
	id   string
	conn *websocket.Conn
	out  chan protocol.ServerFrame
	sub  *bus.Subscription

	mu     sync.Mutex
	agents map[string]bool // nil = all agents

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan protocol.ServerFrame, sendBuffer),
		done: make(chan struct{}),
	}
}

// wants reports whether this client's agent filter admits an event. Events
// without an agent (fleet:status) always pass.
func (c *client) wants(agent string) bool {
	if agent == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agents == nil || c.agents[agent]
}

// send enqueues a frame, dropping it if the client's buffer is full. A slow
// dashboard never blocks the bus delivery goroutine.
func (c *client) send(frame protocol.ServerFrame) {
	select {
	case <-c.done:
	case c.out <- frame:
	default:
		slog.Debug("web.client_send_dropped", "client", c.id, "type", frame.Type)
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// run drives the read loop; the write pump runs alongside until close.
func (c *client) run(ctx context.Context) {
	go c.writePump()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("web.client_read_error", "client", c.id, "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.ClientSubscribe:
		c.mu.Lock()
		if msg.AgentName == "" {
			c.agents = nil // widen back to all
		} else {
			if c.agents == nil {
				c.agents = make(map[string]bool)
			}
			c.agents[msg.AgentName] = true
		}
		c.mu.Unlock()
	case protocol.ClientUnsubscribe:
		c.mu.Lock()
		if msg.AgentName != "" && c.agents != nil {
			delete(c.agents, msg.AgentName)
		}
		c.mu.Unlock()
	case protocol.ClientPing:
		c.send(protocol.ServerFrame{Type: protocol.ServerPong})
	default:
		slog.Debug("web.client_unknown_message", "client", c.id, "type", msg.Type)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
