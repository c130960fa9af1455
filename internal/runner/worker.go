package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// runWorker is the loop of one virtual user. It returns when ctx is
// cancelled, when the task reports a FatalError or when the task panics.
func (r *Runner) runWorker(ctx context.Context, task Task) {
	u := &UserContext{
		ID:     ulid.Make().String(),
		Task:   task.Name(),
		Values: make(map[string]any),
		Stats:  r.recorder,
		Params: r,
	}
	log := r.logger.With(zap.String("task", u.Task), zap.String("user", u.ID))

	defer func() {
		if p := recover(); p != nil {
			log.Error("worker panicked, stopping this user", zap.Any("panic", p))
			r.recorder.RecordFailure("unknown", "error", 0, fmt.Sprint(p))
		}
	}()

	if s, ok := findHook[Starter](task); ok {
		if err := s.OnStart(ctx, u); err != nil {
			log.Error("task start failed", zap.Error(err))
			r.recorder.RecordFailure("unknown", "error", 0, err.Error())
			return
		}
	}
	if s, ok := findHook[Stopper](task); ok {
		defer s.OnStop(u)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if r.limiter != nil && r.limiter.Acquire(ctx) {
			continue
		}
		err := task.Execute(ctx, u)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		var fatal *FatalError
		if errors.As(err, &fatal) {
			log.Error("fatal task error, stopping this user", zap.Error(err))
			return
		}
		log.Debug("task failed", zap.Error(err))
		r.recorder.RecordFailure("unknown", "error", 0, err.Error())
	}
}

// findHook looks for an optional interface on task or on any task it wraps.
func findHook[T any](task Task) (T, bool) {
	for task != nil {
		if h, ok := task.(T); ok {
			return h, true
		}
		w, ok := task.(interface{ Unwrap() Task })
		if !ok {
			break
		}
		task = w.Unwrap()
	}
	var zero T
	return zero, false
}
