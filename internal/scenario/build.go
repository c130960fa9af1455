package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/crankworker/internal/runner"
)

// Options control how scenario tasks execute.
type Options struct {
	Client    *http.Client // default NewClient(DefaultTimeout)
	Tracer    trace.Tracer // optional; adds task and request spans
	Propagate bool         // inject trace context into requests
	Logger    *zap.Logger  // optional; failures are logged at debug
}

// Build converts f into runner tasks. Every request records its own outcome,
// so the returned tasks only surface fatal errors to the runner.
func Build(f *File, opt Options) ([]runner.Task, error) {
	if f == nil {
		return nil, errors.New("scenario: nil file")
	}
	if opt.Client == nil {
		opt.Client = NewClient(DefaultTimeout)
	}

	tasks := make([]runner.Task, 0, len(f.Tasks))
	for _, ts := range f.Tasks {
		task, err := buildTask(f, ts, opt)
		if err != nil {
			return nil, fmt.Errorf("scenario: task %s: %w", ts.Name, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func buildTask(f *File, ts TaskSpec, opt Options) (runner.Task, error) {
	switch ts.Set {
	case SetWeighted:
		set := runner.NewWeighingTaskSet(ts.Name, ts.weight())
		for _, child := range ts.Tasks {
			task, err := buildTask(f, child, opt)
			if err != nil {
				return nil, err
			}
			if !set.Add(task) {
				return nil, fmt.Errorf("member %s needs weight > 0", child.Name)
			}
		}
		return set, nil
	case SetOrdered:
		set := runner.NewOrderedTaskSet(ts.Name, ts.weight())
		for _, child := range ts.Tasks {
			task, err := buildTask(f, child, opt)
			if err != nil {
				return nil, err
			}
			set.Add(task)
		}
		set.Distribute()
		return set, nil
	}

	ht, err := newHTTPTask(f, ts, opt)
	if err != nil {
		return nil, err
	}
	var task runner.Task = ht
	if opt.Tracer != nil {
		task = runner.WithTracing(task, opt.Tracer)
	}
	if ts.Retry != nil && ts.Retry.MaxAttempts > 1 {
		task = runner.WithRetry(task, ts.Retry.policy())
	}
	if opt.Logger != nil {
		task = runner.WithLogging(task, failureLogger{opt.Logger})
	}
	return settled{task}, nil
}

func newHTTPTask(f *File, ts TaskSpec, opt Options) (*httpTask, error) {
	body, err := loadPayload(ts)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header, len(ts.Headers))
	for key, value := range ts.Headers {
		headers.Set(http.CanonicalHeaderKey(strings.TrimSpace(key)), value)
	}

	checks := make([]check, 0, len(ts.Checks))
	for _, cs := range ts.Checks {
		c, err := newCheck(cs)
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}

	method := strings.ToUpper(strings.TrimSpace(ts.Method))
	if method == "" {
		method = http.MethodGet
	}
	target := ts.URL
	if target == "" {
		target = ts.Path
	}

	var template string
	if hasPlaceholders(ts.Body) {
		template = ts.Body
	}

	return &httpTask{
		name:      ts.Name,
		weight:    ts.weight(),
		method:    method,
		target:    target,
		host:      strings.TrimSpace(f.Host),
		headers:   headers,
		payload:   body,
		template:  template,
		timeout:   ts.Timeout,
		expect:    ts.ExpectStatus,
		checks:    checks,
		client:    opt.Client,
		tracer:    opt.Tracer,
		propagate: opt.Propagate,
	}, nil
}

func (r RetrySpec) policy() runner.RetryPolicy {
	p := runner.RetryPolicy{MaxAttempts: r.MaxAttempts, Delay: r.Delay, ShouldRetry: retryable}
	if strings.EqualFold(r.Backoff, "exponential") {
		p.DelayFunc = runner.Exponential(r.Delay, r.MaxDelay)
	}
	return p
}

// settled swallows errors that were already recorded as failures.
type settled struct {
	runner.Task
}

func (s settled) Unwrap() runner.Task { return s.Task }

func (s settled) Execute(ctx context.Context, u *runner.UserContext) error {
	err := s.Task.Execute(ctx, u)
	if err == nil || ctx.Err() != nil {
		return err
	}
	var fatal *runner.FatalError
	if errors.As(err, &fatal) {
		return err
	}
	return nil
}

type failureLogger struct {
	logger *zap.Logger
}

func (l failureLogger) LogFailure(task string, err error) {
	fields := []zap.Field{zap.String("task", task), zap.Error(err)}
	var httpErr *runner.HTTPError
	if errors.As(err, &httpErr) && httpErr.Body != "" {
		fields = append(fields, zap.String("body", httpErr.Body))
	}
	l.logger.Debug("request failed", fields...)
}
