package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPError is a request that completed with an unexpected status. Body is
// kept for logging; Error leaves it out so failures group by status in the
// master's error table.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if text := http.StatusText(e.StatusCode); text != "" {
		return fmt.Sprintf("HTTP %d %s", e.StatusCode, text)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// FailureLogger receives every failed execution of a wrapped task.
type FailureLogger interface {
	LogFailure(task string, err error)
}

// RetryPolicy configures WithRetry.
type RetryPolicy struct {
	MaxAttempts int                                        // including the first execution
	Delay       time.Duration                              // used when DelayFunc is nil
	ShouldRetry func(error) bool                           // nil retries everything except a FatalError
	DelayFunc   func(attempt int, err error) time.Duration // attempt counts from 1
}

// Exponential returns a DelayFunc that doubles base after every attempt,
// capped at max when max > 0.
func Exponential(base, max time.Duration) func(int, error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		return d
	}
}

func (p RetryPolicy) backoff(attempt int, err error) time.Duration {
	if p.DelayFunc != nil {
		return p.DelayFunc(attempt, err)
	}
	return p.Delay
}

func (p RetryPolicy) retries(err error) bool {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}
	return p.ShouldRetry == nil || p.ShouldRetry(err)
}

type retryTask struct {
	Task
	policy RetryPolicy
}

// WithRetry re-executes task while it fails, up to policy.MaxAttempts
// times in total.
func WithRetry(task Task, policy RetryPolicy) Task {
	if policy.MaxAttempts <= 1 {
		return task
	}
	return &retryTask{Task: task, policy: policy}
}

func (r *retryTask) Unwrap() Task { return r.Task }

func (r *retryTask) Execute(ctx context.Context, u *UserContext) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.Task.Execute(ctx, u)
		if err == nil || attempt >= r.policy.MaxAttempts || !r.policy.retries(err) {
			return err
		}
		if err := sleep(ctx, r.policy.backoff(attempt, err)); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type loggingTask struct {
	Task
	logger FailureLogger
}

// WithLogging reports failures of task to logger. A nil logger returns
// task unchanged.
func WithLogging(task Task, logger FailureLogger) Task {
	if logger == nil {
		return task
	}
	return &loggingTask{Task: task, logger: logger}
}

func (l *loggingTask) Unwrap() Task { return l.Task }

func (l *loggingTask) Execute(ctx context.Context, u *UserContext) error {
	err := l.Task.Execute(ctx, u)
	if err != nil {
		l.logger.LogFailure(l.Name(), err)
	}
	return err
}
