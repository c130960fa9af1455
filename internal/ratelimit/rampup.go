package ratelimit

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// RampUp raises its admission threshold by step every rampPeriod until it
// reaches maxThreshold. The live bucket is refilled from the current
// threshold every refillPeriod.
type RampUp struct {
	maxThreshold int64
	step         int64
	rampPeriod   time.Duration
	refillPeriod time.Duration

	next atomic.Int64
	bucket
}

// NewRampUp creates a ramp-up limiter. Non-positive periods default to one
// second.
func NewRampUp(maxThreshold, step int64, rampPeriod, refillPeriod time.Duration) *RampUp {
	if rampPeriod <= 0 {
		rampPeriod = time.Second
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Second
	}
	return &RampUp{
		maxThreshold: maxThreshold,
		step:         step,
		rampPeriod:   rampPeriod,
		refillPeriod: refillPeriod,
		bucket:       bucket{wake: newWaker(), life: lifecycle{stopped: true}},
	}
}

// Start resets the threshold to zero, applies the first ramp step and
// begins the two periodic tasks.
func (r *RampUp) Start() {
	ctx, ok := r.life.begin()
	if !ok {
		return
	}
	r.next.Store(0)
	r.advance()
	r.refill(r.next.Load())

	r.life.goPeriodic(func() {
		ticker := time.NewTicker(r.rampPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.advance()
			}
		}
	})
	r.life.goPeriodic(func() {
		ticker := time.NewTicker(r.refillPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.refill(r.next.Load())
			}
		}
	})
}

// advance applies one ramp step, saturating at maxThreshold.
func (r *RampUp) advance() {
	r.next.Store(nextThreshold(r.next.Load(), r.step, r.maxThreshold))
}

func nextThreshold(current, step, max int64) int64 {
	next := current + step
	if step > 0 && next < current {
		next = math.MaxInt64
	}
	if next > max {
		next = max
	}
	return next
}

// Acquire takes a token from the live bucket, waiting for the next refill
// when it is empty.
func (r *RampUp) Acquire(ctx context.Context) bool {
	return r.acquire(ctx)
}

// Stop cancels both periodic tasks and wakes all waiters.
func (r *RampUp) Stop() {
	r.stop()
}

// IsStopped reports whether the limiter is not running.
func (r *RampUp) IsStopped() bool {
	return r.life.isStopped()
}

// Threshold returns the ramped threshold that the next refill will use.
func (r *RampUp) Threshold() int64 {
	return r.next.Load()
}
