package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for escrow tracing.
const tracerName = "github.com/xraph/escrow"

// Tracing returns middleware that wraps each step in an OpenTelemetry span
// using the global TracerProvider. Without a configured provider the noop
// tracer makes this a pass-through.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, s Step, next Handler) error {
		ctx, span := tracer.Start(ctx, "escrow.step.execute",
			trace.WithAttributes(
				attribute.String("escrow.execution.id", s.ExecutionID),
				attribute.String("escrow.workflow", s.Workflow),
				attribute.String("escrow.step", s.Name),
				attribute.Int("escrow.attempt", s.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
