package transport

import (
	"sync/atomic"
	"time"
)

// Counters accumulates per-connection traffic. The zero value is ready to
// use and safe for concurrent senders and receivers.
type Counters struct {
	since     atomic.Int64 // unix nanos of the first successful dial
	sentMsgs  atomic.Int64
	recvMsgs  atomic.Int64
	sentBytes atomic.Int64
	recvBytes atomic.Int64
	errs      atomic.Int64
}

// Snapshot is a copy of Counters at one instant.
type Snapshot struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// CounterProvider is a client that reports its traffic.
type CounterProvider interface {
	Counters() Snapshot
}

func (c *Counters) markConnected() {
	c.since.CompareAndSwap(0, time.Now().UnixNano())
}

func (c *Counters) sent(n int) {
	c.sentMsgs.Add(1)
	c.sentBytes.Add(int64(n))
}

func (c *Counters) received(n int) {
	c.recvMsgs.Add(1)
	c.recvBytes.Add(int64(n))
}

func (c *Counters) failed() { c.errs.Add(1) }

func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		MessagesSent:     c.sentMsgs.Load(),
		MessagesReceived: c.recvMsgs.Load(),
		BytesSent:        c.sentBytes.Load(),
		BytesReceived:    c.recvBytes.Load(),
		Errors:           c.errs.Load(),
	}
	if since := c.since.Load(); since != 0 {
		s.ConnectionDuration = time.Since(time.Unix(0, since))
	}
	return s
}
