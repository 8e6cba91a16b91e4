package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
)

const tracerName = "github.com/xraph/saga"

// Tracing wraps every invocation in a client span using the global
// TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an explicit tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) ([]byte, error) {
		ctx, span := tracer.Start(ctx, "saga.activity "+inv.Target(),
			trace.WithAttributes(
				attribute.String("saga.service", inv.Service),
				attribute.String("saga.operation", inv.Operation),
				attribute.String("saga.execution_id", inv.ExecutionID),
				attribute.String("saga.step", inv.Step),
				attribute.Int("saga.attempt", inv.Attempt),
				attribute.String("saga.tenant_id", inv.Scope.TenantID),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		out, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("saga.error_kind", string(saga.KindOf(err))))
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return out, err
	}
}
