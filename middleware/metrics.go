package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
)

const meterName = "github.com/xraph/saga"

// Metrics records per-target invocation metrics with the global
// MeterProvider.
//
// Instruments:
//   - saga.activity.duration (Float64Histogram, seconds)
//   - saga.activity.invocations (Int64Counter)
//
// Both carry service, operation and status ("ok" or the error kind).
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics with an explicit meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, _ := meter.Float64Histogram(
		"saga.activity.duration",
		metric.WithDescription("Duration of activity invocations in seconds"),
		metric.WithUnit("s"),
	)
	invocations, _ := meter.Int64Counter(
		"saga.activity.invocations",
		metric.WithDescription("Total number of activity invocations"),
		metric.WithUnit("{invocation}"),
	)

	return func(ctx context.Context, inv *activity.Invocation, next Handler) ([]byte, error) {
		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = string(saga.KindOf(err))
		}
		attrs := metric.WithAttributes(
			attribute.String("service", inv.Service),
			attribute.String("operation", inv.Operation),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		invocations.Add(ctx, 1, attrs)
		return out, err
	}
}
