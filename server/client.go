package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/lwp001/mixlab/engine"
	"github.com/lwp001/mixlab/errors"
	"github.com/lwp001/mixlab/protocol"
	"github.com/lwp001/mixlab/sym"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// sendBufferDepth bounds the per-client outbound queue
	sendBufferDepth = 64
)

// Client is one websocket connection bridged to an engine session.
type Client struct {
	server  *Server
	conn    *websocket.Conn
	session *engine.Session
	events  *engine.Subscription
	send    chan ServerMessage
	limiter *rate.Limiter
	id      string

	closeOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn, session *engine.Session, events *engine.Subscription) *Client {
	return &Client{
		server:  s,
		conn:    conn,
		session: session,
		events:  events,
		send:    make(chan ServerMessage, sendBufferDepth),
		limiter: rate.NewLimiter(s.cfg.CommandRate, s.cfg.CommandBurst),
		id:      uuid.NewString(),
	}
}

// enqueue queues a message, blocking until there is buffer space.
func (c *Client) enqueue(msg ServerMessage) {
	c.send <- msg
}

// tryEnqueue queues a message if the buffer has space.
func (c *Client) tryEnqueue(msg ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close tears the connection down once: the engine subscription, the client
// registry entry, and the socket.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.events.Close()
		c.server.removeClient(c)
		c.conn.Close()

		c.server.logger.Infow(sym.Session+" Client disconnected",
			"client_id", c.id,
			"session", c.session.ID(),
		)
	})
}

// readPump decodes client messages and forwards them to the engine. A full
// engine queue is reported back as a busy error; the command is never
// silently dropped.
func (c *Client) readPump() {
	defer c.server.wg.Done()
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debugw(sym.Session+" Read error", "client_id", c.id, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.tryEnqueue(ServerMessage{Type: MessageError, Error: ErrorRateLimited})
			continue
		}

		switch err := c.session.Update(msg); {
		case err == nil:
		case errors.Is(err, engine.ErrBusy):
			c.tryEnqueue(ServerMessage{Type: MessageError, Error: ErrorBusy})
		case errors.Is(err, engine.ErrStopped):
			c.server.logger.Warnw(sym.Session+" Engine stopped, dropping client", "client_id", c.id)
			return
		}
	}
}

// writePump relays queued messages and engine events to the socket. When the
// engine subscription closes (the client fell too far behind), the
// connection is dropped so the client reconnects and re-snapshots.
func (c *Client) writePump() {
	defer c.server.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debugw(sym.Session+" Write error", "client_id", c.id, "error", err)
				return
			}

		case ev, ok := <-c.events.C:
			if !ok {
				c.server.logger.Warnw(sym.Session+" Event subscription lapsed, dropping client",
					"client_id", c.id,
					"session", c.session.ID(),
				)
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ServerMessage{Type: MessageEvent, Event: &ev}); err != nil {
				c.server.logger.Debugw(sym.Session+" Write error", "client_id", c.id, "error", err)
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
