package runner

import (
	"context"
	"fmt"
)

// Task is one kind of virtual user behaviour.
type Task interface {
	Name() string
	Weight() int
	Execute(ctx context.Context, u *UserContext) error
}

// Starter is implemented by tasks that need per-user setup. An OnStart error
// ends that worker before its first iteration.
type Starter interface {
	OnStart(ctx context.Context, u *UserContext) error
}

// Stopper is implemented by tasks that need per-user teardown.
type Stopper interface {
	OnStop(u *UserContext)
}

// Recorder receives request outcomes. *stats.Engine implements it.
type Recorder interface {
	RecordSuccess(method, name string, responseTime, contentLength int64)
	RecordFailure(method, name string, responseTime int64, errText string)
}

// ParamReader exposes parameters pushed by the master with a spawn command.
type ParamReader interface {
	RemoteParam(key string) (any, bool)
}

// UserContext is the state of one virtual user. It is created when a worker
// starts and lives until that worker ends.
type UserContext struct {
	ID     string
	Task   string
	Values map[string]any
	Stats  Recorder
	Params ParamReader
}

// FatalError ends the worker that returned it instead of being recorded as
// an ordinary failure.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err in a FatalError.
func Fatal(err error) error {
	return &FatalError{Err: err}
}

type funcTask struct {
	name   string
	weight int
	fn     func(ctx context.Context, u *UserContext) error
}

// NewTask builds a Task from a function.
func NewTask(name string, weight int, fn func(ctx context.Context, u *UserContext) error) Task {
	return &funcTask{name: name, weight: weight, fn: fn}
}

func (t *funcTask) Name() string { return t.name }
func (t *funcTask) Weight() int  { return t.weight }

func (t *funcTask) Execute(ctx context.Context, u *UserContext) error {
	return t.fn(ctx, u)
}
