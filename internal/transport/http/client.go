package http

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mathquest-live/internal/app"
	"mathquest-live/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// client is one websocket connection. Every frame goes through send so only
// the writer goroutine touches the connection for writes.
type client struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool

	// rooms is guarded by the hub lock.
	rooms map[app.Room]struct{}

	// participantOf lists sessions this socket joined as a player; only the
	// reader goroutine touches it.
	participantOf map[string]struct{}
	// replays maps a tournament code to the key of this socket's solo replay.
	replays map[string]string
}

func newClient(id string, identity auth.Identity, conn *websocket.Conn) *client {
	return &client{
		id:            id,
		identity:      identity,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		rooms:         make(map[app.Room]struct{}),
		participantOf: make(map[string]struct{}),
		replays:       make(map[string]string),
	}
}

// sessionFor resolves the session a player event addresses: the socket's
// replay of code if it started one, otherwise code itself.
func (c *client) sessionFor(code string) string {
	if key, ok := c.replays[code]; ok {
		return key
	}
	return code
}

// enqueue queues frame for writing. A client whose buffer is full is closed
// rather than skipped, so no one silently misses part of the stream.
func (c *client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
