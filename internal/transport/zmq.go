package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"

	"github.com/torosent/crankworker/internal/message"
)

// ZMQClient talks to a Locust master over a ZeroMQ DEALER socket. The
// socket identity is the worker's node ID, which the master's ROUTER uses
// to address replies.
type ZMQClient struct {
	sock     zmq4.Socket
	cancel   context.CancelFunc
	sendMu   sync.Mutex
	closed   atomic.Bool
	counters Counters
}

// DialZMQ connects a DEALER socket to endpoint (tcp://host:port).
func DialZMQ(ctx context.Context, endpoint, nodeID string) (*ZMQClient, error) {
	sockCtx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewDealer(sockCtx, zmq4.WithID(zmq4.SocketIdentity(nodeID)))

	dialed := make(chan error, 1)
	go func() { dialed <- sock.Dial(endpoint) }()
	select {
	case err := <-dialed:
		if err != nil {
			cancel()
			_ = sock.Close()
			return nil, fmt.Errorf("zmq dial %s: %w", endpoint, err)
		}
	case <-ctx.Done():
		cancel()
		_ = sock.Close()
		return nil, ctx.Err()
	}

	c := &ZMQClient{sock: sock, cancel: cancel}
	c.counters.markConnected()
	return c, nil
}

// Recv blocks until the master sends a message. The socket read itself is
// not interruptible by ctx; Close unblocks it.
func (c *ZMQClient) Recv(ctx context.Context) (message.Envelope, error) {
	if c.closed.Load() {
		return message.Envelope{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return message.Envelope{}, err
	}
	msg, err := c.sock.Recv()
	if err != nil {
		if c.closed.Load() {
			return message.Envelope{}, ErrClosed
		}
		c.counters.failed()
		return message.Envelope{}, fmt.Errorf("zmq recv: %w", err)
	}
	if len(msg.Frames) == 0 {
		c.counters.failed()
		return message.Envelope{}, fmt.Errorf("zmq recv: empty message")
	}
	frame := msg.Frames[len(msg.Frames)-1]
	c.counters.received(len(frame))
	return message.Decode(frame)
}

// Send encodes env and writes it as a single frame.
func (c *ZMQClient) Send(ctx context.Context, env message.Envelope) error {
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

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.sock.Send(zmq4.NewMsg(data)); err != nil {
		c.counters.failed()
		return fmt.Errorf("zmq send: %w", err)
	}
	c.counters.sent(len(data))
	return nil
}

// Close shuts the socket down. It is safe to call more than once.
func (c *ZMQClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	return c.sock.Close()
}

// Counters returns connection statistics.
func (c *ZMQClient) Counters() Snapshot {
	return c.counters.Snapshot()
}
