// Package signal is the client side of the signaling WebSocket.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 256
)

var ErrClosed = errors.New("signal channel closed")

// Client manages the WebSocket connection to the signaling server. Frames
// are handed out raw; decoding is up to the caller.
type Client struct {
	conn     *websocket.Conn
	incoming chan []byte
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
}

// Dial connects to serverURL, a ws:// or wss:// address of the signal endpoint.
func Dial(ctx context.Context, serverURL string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return newClient(conn), nil
}

func newClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn:     conn,
		incoming: make(chan []byte, queueSize),
		outgoing: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		_ = c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("module", "client.signal").Msg("read")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case c.incoming <- data:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Warn().Err(err).Str("module", "client.signal").Msg("write")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes v and queues it. It blocks only while the outbound queue is full.
func (c *Client) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- b:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming is closed when the connection ends. Send fails with ErrClosed from
// then on.
func (c *Client) Incoming() <-chan []byte {
	return c.incoming
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}
