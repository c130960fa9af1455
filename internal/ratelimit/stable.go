package ratelimit

import (
	"context"
	"time"
)

// Stable is a fixed-rate token bucket: at most maxThreshold admissions per
// period.
type Stable struct {
	maxThreshold int64
	period       time.Duration
	bucket
}

// NewStable creates a limiter admitting maxThreshold calls every period.
// A non-positive period defaults to one second.
func NewStable(maxThreshold int64, period time.Duration) *Stable {
	if period <= 0 {
		period = time.Second
	}
	s := &Stable{
		maxThreshold: maxThreshold,
		period:       period,
		bucket:       bucket{wake: newWaker(), life: lifecycle{stopped: true}},
	}
	s.tokens.Store(maxThreshold)
	return s
}

// Start fills the bucket and begins periodic refills.
func (s *Stable) Start() {
	ctx, ok := s.life.begin()
	if !ok {
		return
	}
	s.refill(s.maxThreshold)
	s.life.goPeriodic(func() {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refill(s.maxThreshold)
			}
		}
	})
}

// Acquire takes a token. When the bucket is empty it waits for the next
// refill, stop or ctx cancellation and returns true.
func (s *Stable) Acquire(ctx context.Context) bool {
	return s.acquire(ctx)
}

// Stop cancels refills and wakes all waiters.
func (s *Stable) Stop() {
	s.stop()
}

// IsStopped reports whether the limiter is not running.
func (s *Stable) IsStopped() bool {
	return s.life.isStopped()
}

// MaxThreshold returns the bucket size.
func (s *Stable) MaxThreshold() int64 {
	return s.maxThreshold
}
