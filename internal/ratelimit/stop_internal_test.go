package ratelimit

import (
	"context"
	"testing"
	"time"
)

// A Stop that lands after a caller saw the limiter running, but before the
// caller blocks, must still release it.
func TestStopReleasesCallerAfterStopCheck(t *testing.T) {
	stable := NewStable(0, time.Hour)
	rampUp := NewRampUp(0, 0, time.Hour, time.Hour)
	tests := []struct {
		name    string
		limiter RateLimiter
		bucket  *bucket
	}{
		{"stable", stable, &stable.bucket},
		{"rampup", rampUp, &rampUp.bucket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.limiter.Start()
			tt.bucket.testHookStopChecked = tt.limiter.Stop

			done := make(chan bool, 1)
			go func() { done <- tt.limiter.Acquire(context.Background()) }()
			select {
			case blocked := <-done:
				if !blocked {
					t.Error("Acquire on an empty bucket reported not blocked")
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Acquire still waiting after Stop")
			}
			if !tt.limiter.IsStopped() {
				t.Error("limiter not stopped")
			}
		})
	}
}
