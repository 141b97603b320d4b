package observe

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the ReMemory tracer.
const tracerName = "github.com/MrWong99/rememory"

type operationKey struct{}

// Tracer returns the package-level [trace.Tracer] for ReMemory. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartOperation starts the root span of an entry-point call and tags it and
// the returned context with a fresh operation ID. Log lines written through
// [Logger] carry the ID as "op".
func StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	id := uuid.NewString()
	ctx = context.WithValue(ctx, operationKey{}, id)
	attrs = append(attrs, attribute.String("rememory.operation_id", id))
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// OperationID returns the ID assigned by [StartOperation], or "".
func OperationID(ctx context.Context) string {
	id, _ := ctx.Value(operationKey{}).(string)
	return id
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id, span_id and the
// operation ID found in ctx. Without any of them the default logger is
// returned unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := OperationID(ctx); id != "" {
		l = l.With(slog.String("op", id))
	}
	return l
}
