// Package ratelimit throttles how often worker loops may execute their task.
//
// Every limiter implements [RateLimiter]. Workers call Acquire before each
// iteration; a true result means the call was throttled and the caller
// should skip its unit of work for this iteration.
//
//	lim := ratelimit.NewStable(100, time.Second)
//	lim.Start()
//	defer lim.Stop()
//
//	if blocked := lim.Acquire(ctx); !blocked {
//		task.Execute(ctx)
//	}
//
// Limiters are restartable: Stop followed by Start resumes admission from a
// fresh bucket, which is how the runner handles a stop followed by a new
// spawn.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
)

// RateLimiter admits or throttles units of work. Acquire is safe for
// concurrent use by many workers.
type RateLimiter interface {
	Start()
	Acquire(ctx context.Context) (blocked bool)
	Stop()
	IsStopped() bool
}

// waker is a broadcast primitive: every goroutine holding the current
// channel is released when broadcast closes it.
type waker struct {
	mu sync.Mutex
	ch chan struct{}
}

func newWaker() *waker {
	return &waker{ch: make(chan struct{})}
}

func (w *waker) wait() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch
}

func (w *waker) broadcast() {
	w.mu.Lock()
	close(w.ch)
	w.ch = make(chan struct{})
	w.mu.Unlock()
}

// lifecycle tracks the background goroutines of a running limiter.
type lifecycle struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// begin returns a context for the periodic goroutines, or false if the
// limiter is already running.
func (l *lifecycle) begin() (context.Context, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		return nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.stopped = false
	return ctx, true
}

func (l *lifecycle) goPeriodic(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// end cancels and joins the periodic goroutines. It reports whether the
// limiter was running.
func (l *lifecycle) end() bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.stopped = true
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
	return true
}

func (l *lifecycle) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// bucket is the shared admission logic of the stable and ramp-up limiters.
type bucket struct {
	tokens atomic.Int64
	wake   *waker
	life   lifecycle

	testHookStopChecked func() // runs after the stopped check, tests only
}

func (b *bucket) acquire(ctx context.Context) bool {
	// Take the wake channel before looking at the stopped flag and the
	// tokens: a refill or stop after this point closes wakeCh, and a stop
	// before it is seen by isStopped.
	wakeCh := b.wake.wait()
	if b.life.isStopped() {
		return true
	}
	if b.testHookStopChecked != nil {
		b.testHookStopChecked()
	}
	if b.tokens.Add(-1) >= 0 {
		return false
	}
	select {
	case <-wakeCh:
	case <-ctx.Done():
	}
	return true
}

func (b *bucket) refill(n int64) {
	b.tokens.Store(n)
	b.wake.broadcast()
}

// stop halts the periodic goroutines and releases every waiter.
func (b *bucket) stop() {
	b.life.end()
	b.wake.broadcast()
}
