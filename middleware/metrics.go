package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for escrow metrics.
const meterName = "github.com/xraph/escrow"

// Metrics returns middleware that records per-step metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - escrow.step.duration (Float64Histogram): step body time in seconds,
//     with attributes workflow and status ("ok" or "error")
//   - escrow.step.executions (Int64Counter): executed step bodies, with
//     the same attributes
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API hands back noop instruments on error.
	duration, _ := meter.Float64Histogram(
		"escrow.step.duration",
		metric.WithDescription("Duration of durable step execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"escrow.step.executions",
		metric.WithDescription("Total number of executed durable steps"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, s Step, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("workflow", s.Workflow),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
