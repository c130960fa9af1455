package tracing

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes set by this package.
const (
	TaskKey   = attribute.Key("crankworker.task")
	UserKey   = attribute.Key("crankworker.user")
	WeightKey = attribute.Key("crankworker.task.weight")
)

// StartTaskSpan starts the span covering one task execution by one user.
func StartTaskSpan(ctx context.Context, tracer trace.Tracer, task, userID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "task "+task,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(TaskKey.String(task), UserKey.String(userID)),
	)
}

// StartRequestSpan starts a client span for an outbound scenario request.
// name is the request's stats name.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, method+" "+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(semconv.HTTPRequestMethodKey.String(method), TaskKey.String(name)),
	)
}

// EndSpan ends span with an error status when err is set. A cancelled
// context means the user was stopped and leaves the status unset.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, context.Canceled):
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// InjectHTTPHeaders writes the W3C trace context of ctx into headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
