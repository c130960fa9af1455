package runner

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/crankworker/internal/tracing"
)

type tracedTask struct {
	Task
	tracer trace.Tracer
}

// WithTracing wraps every execution of task in a span. A nil tracer
// returns task unchanged.
func WithTracing(task Task, tracer trace.Tracer) Task {
	if tracer == nil {
		return task
	}
	return &tracedTask{Task: task, tracer: tracer}
}

func (t *tracedTask) Unwrap() Task { return t.Task }

func (t *tracedTask) Execute(ctx context.Context, u *UserContext) error {
	ctx, span := tracing.StartTaskSpan(ctx, t.tracer, t.Name(), u.ID)
	err := t.Task.Execute(ctx, u)
	tracing.EndSpan(span, err, tracing.WeightKey.Int(t.Weight()))
	return err
}
