// Package transport carries encoded envelopes between the worker and the
// master.
//
// The runner only depends on the [Client] contract. Two implementations are
// provided: a ZeroMQ DEALER socket speaking directly to a Locust master's
// ROUTER socket, and a WebSocket client for masters reachable through a
// WebSocket gateway. [Dial] picks one from the master URL scheme.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/torosent/crankworker/internal/message"
)

// ErrClosed is returned by Recv and Send once the client has been closed.
var ErrClosed = errors.New("transport: client closed")

// ErrConnectionLost wraps the read error of a connection that cannot be
// used again. Every later Recv returns the same error.
var ErrConnectionLost = errors.New("transport: connection lost")

// Client exchanges envelopes with the master.
//
// Recv blocks until a message arrives. Send may be called concurrently with
// Recv; implementations serialize concurrent Sends.
type Client interface {
	Recv(ctx context.Context) (message.Envelope, error)
	Send(ctx context.Context, env message.Envelope) error
	Close() error
}

// Options configure Dial.
type Options struct {
	URL              string        // tcp://host:port, ws://host/path or wss://host/path
	NodeID           string        // ZeroMQ socket identity
	Headers          http.Header   // WebSocket handshake headers
	HandshakeTimeout time.Duration // WebSocket handshake timeout (default 30s)
	MaxMessageSize   int64         // WebSocket read limit (default 16MB)
}

// Dial connects to the master at opt.URL.
func Dial(ctx context.Context, opt Options) (Client, error) {
	u, err := url.Parse(opt.URL)
	if err != nil {
		return nil, fmt.Errorf("master url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "tcp":
		return DialZMQ(ctx, opt.URL, opt.NodeID)
	case "ws", "wss":
		return DialWebSocket(ctx, WebSocketConfig{
			URL:              opt.URL,
			Headers:          opt.Headers,
			HandshakeTimeout: opt.HandshakeTimeout,
			MaxMessageSize:   opt.MaxMessageSize,
		})
	default:
		return nil, fmt.Errorf("unsupported master url scheme %q: use tcp, ws or wss", u.Scheme)
	}
}

// MasterURL builds the ZeroMQ endpoint for a Locust master.
func MasterURL(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", host, port)
}
