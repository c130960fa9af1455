package scenario

import (
	"context"
	"time"

	"github.com/torosent/crankworker/internal/runner"
)

// Demo returns two synthetic tasks that need no target: one always records
// a success, the other always records a failure.
func Demo() []runner.Task {
	return []runner.Task{
		runner.NewTask("success", 20, func(ctx context.Context, u *runner.UserContext) error {
			u.Stats.RecordSuccess("http", "success", 100, 1)
			return pause(ctx, 10*time.Millisecond)
		}),
		runner.NewTask("fail", 10, func(ctx context.Context, u *runner.UserContext) error {
			u.Stats.RecordFailure("http", "failure", 1000, "timeout")
			return pause(ctx, 100*time.Millisecond)
		}),
	}
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
