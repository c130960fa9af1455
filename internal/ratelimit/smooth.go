package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Smooth spaces admissions evenly at rps per second instead of releasing a
// whole bucket at each refill. Callers wait for their slot, so Acquire only
// reports blocked when the limiter is stopped or ctx ends.
type Smooth struct {
	limiter *rate.Limiter

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
}

// NewSmooth creates a smooth limiter. rps <= 0 disables throttling.
func NewSmooth(rps float64) *Smooth {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Smooth{limiter: rate.NewLimiter(limit, 1)}
}

// Start enables admission.
func (s *Smooth) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(context.Background())
}

// Acquire waits for the next evenly spaced slot.
func (s *Smooth) Acquire(ctx context.Context) bool {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		return true
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(runCtx, cancel)
	defer release()

	return s.limiter.Wait(waitCtx) != nil
}

// Stop disables admission and releases every waiter.
func (s *Smooth) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.runCtx, s.cancel = nil, nil
}

// IsStopped reports whether the limiter is not running.
func (s *Smooth) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx == nil
}

// SetRate changes the admission rate while running.
func (s *Smooth) SetRate(rps float64) {
	if rps <= 0 {
		s.limiter.SetLimit(rate.Inf)
		return
	}
	s.limiter.SetLimit(rate.Limit(rps))
}
