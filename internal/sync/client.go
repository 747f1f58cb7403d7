package sync

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client wraps one websocket connection to a room. Writes are serialized
// through the client's mutex because gorilla connections allow only one
// concurrent writer.
type Client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
	kick chan struct{}
}

// NewClient constructs a client around an upgraded connection.
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		id:   id,
		conn: conn,
		kick: make(chan struct{}, 1),
	}
}

// ID returns the ephemeral identifier assigned to this connection.
func (c *Client) ID() string {
	return c.id
}

// WriteBinary sends one binary frame.
func (c *Client) WriteBinary(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// WriteJSON sends one text frame carrying a JSON envelope.
func (c *Client) WriteJSON(envelope any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(envelope)
}

// Kick wakes the client's sync pump without blocking; a pending kick is
// collapsed into the one already queued.
func (c *Client) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}
