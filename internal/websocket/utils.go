package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// ErrConnClosed is returned by writes after Close.
var ErrConnClosed = errors.New("websocket: connection closed")

// Conn serializes writes to a gorilla connection. The proctor notifies from
// its own goroutines while the read loop answers actions, and gorilla allows
// only one concurrent writer.
type Conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewConn wraps a websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func (c *Conn) ReadJSON(v interface{}) error {
	c.ws.SetReadDeadline(time.Now().Add(readWait))
	return c.ws.ReadJSON(v)
}

// Close closes the underlying connection. Later writes fail with ErrConnClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}
