package signal

import (
	"errors"
	"sync"
	"time"

	"github.com/conveycall/convey/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// wsSignalConn is the adapter-owned transport endpoint. The bounded send
// channel gives every sender->recipient pair FIFO delivery; a full channel
// drops the frame and reports backpressure.
//
// The send channel is never closed: a relay from another participant's
// goroutine may race Close, and TrySend must stay safe after it. The write
// pump drains until its context is cancelled instead.
type wsSignalConn struct {
	conn WSConn
	send chan core.Frame

	mu     sync.Mutex
	closed bool
}

func newSignalConn(conn WSConn) *wsSignalConn {
	return &wsSignalConn{
		conn: conn,
		send: make(chan core.Frame, 32),
	}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
