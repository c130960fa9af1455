package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/crankworker/internal/message"
)

// WebSocketConfig configures DialWebSocket.
type WebSocketConfig struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// WebSocketClient carries one envelope per binary WebSocket frame.
type WebSocketClient struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closed       atomic.Bool
	lost         atomic.Pointer[error] // first failed read; gorilla connections do not recover
	counters     Counters
}

// DialWebSocket connects to a master gateway at cfg.URL.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocketClient, error) {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 16 * 1024 * 1024
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(cfg.MaxMessageSize)

	c := &WebSocketClient{conn: conn, writeTimeout: cfg.WriteTimeout}
	c.counters.markConnected()
	return c, nil
}

// Recv reads the next binary frame. Text frames are rejected. A failed read
// ends the connection: that call and every later one return an error
// wrapping ErrConnectionLost.
func (c *WebSocketClient) Recv(ctx context.Context) (message.Envelope, error) {
	if c.closed.Load() {
		return message.Envelope{}, ErrClosed
	}
	if lost := c.lost.Load(); lost != nil {
		return message.Envelope{}, *lost
	}
	if err := ctx.Err(); err != nil {
		return message.Envelope{}, err
	}
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return message.Envelope{}, ErrClosed
		}
		c.counters.failed()
		lost := fmt.Errorf("read message: %w: %w", ErrConnectionLost, err)
		c.lost.Store(&lost)
		return message.Envelope{}, lost
	}
	if msgType != websocket.BinaryMessage {
		c.counters.failed()
		return message.Envelope{}, fmt.Errorf("read message: unexpected frame type %d", msgType)
	}
	c.counters.received(len(data))
	return message.Decode(data)
}

// Send writes env as a binary frame.
func (c *WebSocketClient) Send(ctx context.Context, env message.Envelope) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := message.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.counters.failed()
		return fmt.Errorf("write message: %w", err)
	}
	c.counters.sent(len(data))
	return nil
}

// Close sends a close frame and closes the connection.
func (c *WebSocketClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)
	c.writeMu.Unlock()

	closeErr := c.conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}

// Counters returns connection statistics.
func (c *WebSocketClient) Counters() Snapshot {
	return c.counters.Snapshot()
}
