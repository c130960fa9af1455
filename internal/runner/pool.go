package runner

import (
	"context"
	"sync"
	"time"
)

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// WorkerPool tracks live workers per task name, oldest first, so that a
// precise number of them can be cancelled without disturbing the rest.
type WorkerPool struct {
	mu   sync.Mutex
	live map[string][]*worker
}

// NewWorkerPool creates an empty pool.
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{live: make(map[string][]*worker)}
}

// Spawn starts run in a new goroutine registered under name. The context
// passed to run is cancelled when the worker is shrunk away or the pool is
// stopped.
func (p *WorkerPool) Spawn(parent context.Context, name string, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	w := &worker{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	p.live[name] = append(p.live[name], w)
	p.mu.Unlock()

	go func() {
		defer close(w.done)
		defer p.remove(name, w)
		defer cancel()
		run(ctx)
	}()
}

// remove drops w from the registry if it is still there. Workers that end
// on their own (fatal error, panic) are cleaned up this way.
func (p *WorkerPool) remove(name string, w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.live[name]
	for i, candidate := range list {
		if candidate == w {
			p.live[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(p.live[name]) == 0 {
		delete(p.live, name)
	}
}

// Live returns the number of registered workers for name.
func (p *WorkerPool) Live(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live[name])
}

// Total returns the number of registered workers across all names.
func (p *WorkerPool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, list := range p.live {
		n += len(list)
	}
	return n
}

// Shrink cancels the n oldest workers registered under name and returns how
// many were cancelled. It does not wait for them to exit.
func (p *WorkerPool) Shrink(name string, n int) int {
	if n <= 0 {
		return 0
	}
	p.mu.Lock()
	list := p.live[name]
	if n > len(list) {
		n = len(list)
	}
	victims := list[:n:n]
	p.live[name] = list[n:]
	if len(p.live[name]) == 0 {
		delete(p.live, name)
	}
	p.mu.Unlock()

	for _, w := range victims {
		w.cancel()
	}
	return n
}

// StopAll cancels every worker and waits up to timeout for them to exit.
// It reports whether all of them did.
func (p *WorkerPool) StopAll(timeout time.Duration) bool {
	p.mu.Lock()
	var all []*worker
	for _, list := range p.live {
		all = append(all, list...)
	}
	p.live = make(map[string][]*worker)
	p.mu.Unlock()

	for _, w := range all {
		w.cancel()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, w := range all {
		select {
		case <-w.done:
		case <-deadline.C:
			return false
		}
	}
	return true
}
