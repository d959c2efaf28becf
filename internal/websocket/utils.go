package websocket

import (
	"sync"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/session"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Conn serializes writes to a WebSocket. The update forwarder and the read
// loop both write, and gorilla allows one concurrent writer.
type Conn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConn wraps an upgraded connection.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(resp ErrorResponse) error {
	resp.Event = EventError
	return c.WriteTyped(resp)
}

// WriteUpdate forwards a controller update.
func (c *Conn) WriteUpdate(u session.Update) error {
	return c.WriteTyped(UpdateResponse{Event: Event(u.Kind), Update: u})
}

// ReadMessage reads the next frame. It sets a read deadline.
// Only the read loop may call it.
func (c *Conn) ReadMessage() (int, []byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	return c.conn.ReadMessage()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
