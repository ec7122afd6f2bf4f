package signal

import (
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/gorilla/websocket"
)

const sendQueueSize = 32

// WsSignalConn is the outbound side of one WebSocket. Frames are queued
// without blocking and written by a single write pump, which keeps
// per-connection ordering.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, queue int) *WsSignalConn {
	if queue <= 0 {
		queue = sendQueueSize
	}
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, queue)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
