package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/ext"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/workflow"
)

const meterName = "github.com/xraph/saga/observability"

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.ExecutionSubmitted  = (*MetricsExtension)(nil)
	_ ext.ExecutionStarted    = (*MetricsExtension)(nil)
	_ ext.ExecutionCompleted  = (*MetricsExtension)(nil)
	_ ext.ExecutionFailed     = (*MetricsExtension)(nil)
	_ ext.ExecutionRolledBack = (*MetricsExtension)(nil)
	_ ext.Compensating        = (*MetricsExtension)(nil)
	_ ext.StepCompleted       = (*MetricsExtension)(nil)
	_ ext.StepFailed          = (*MetricsExtension)(nil)
	_ ext.StepRetrying        = (*MetricsExtension)(nil)
	_ ext.SecurityViolation   = (*MetricsExtension)(nil)
	_ ext.HealthIssueDetected = (*MetricsExtension)(nil)
	_ ext.WorkerReaped        = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics.
//
// Instruments:
//   - saga.execution.submitted / started / completed / failed / rolled_back (Int64Counter)
//   - saga.execution.duration (Float64Histogram, seconds)
//   - saga.compensation.started (Int64Counter)
//   - saga.step.completed / failed / retried (Int64Counter)
//   - saga.step.duration (Float64Histogram, seconds)
//   - saga.security.violations (Int64Counter)
//   - saga.health.issues (Int64Counter, by severity)
//   - saga.worker.reaped (Int64Counter)
type MetricsExtension struct {
	ExecutionSubmitted  metric.Int64Counter
	ExecutionStarted    metric.Int64Counter
	ExecutionCompleted  metric.Int64Counter
	ExecutionFailed     metric.Int64Counter
	ExecutionRolledBack metric.Int64Counter
	ExecutionDuration   metric.Float64Histogram
	Compensations       metric.Int64Counter
	StepCompleted       metric.Int64Counter
	StepFailed          metric.Int64Counter
	StepRetried         metric.Int64Counter
	StepDuration        metric.Float64Histogram
	SecurityViolations  metric.Int64Counter
	HealthIssues        metric.Int64Counter
	WorkersReaped       metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Instrument creation errors fall back to no-op instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		h, _ := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		return h
	}
	return &MetricsExtension{
		ExecutionSubmitted:  counter("saga.execution.submitted", "Executions submitted"),
		ExecutionStarted:    counter("saga.execution.started", "Executions picked up by a driver"),
		ExecutionCompleted:  counter("saga.execution.completed", "Executions completed"),
		ExecutionFailed:     counter("saga.execution.failed", "Executions that reached failed or timed_out"),
		ExecutionRolledBack: counter("saga.execution.rolled_back", "Executions fully compensated"),
		ExecutionDuration:   histogram("saga.execution.duration", "Wall time of completed executions"),
		Compensations:       counter("saga.compensation.started", "Compensation phases entered"),
		StepCompleted:       counter("saga.step.completed", "Steps completed"),
		StepFailed:          counter("saga.step.failed", "Steps that exhausted their retries"),
		StepRetried:         counter("saga.step.retried", "Step retry attempts scheduled"),
		StepDuration:        histogram("saga.step.duration", "Wall time of completed steps"),
		SecurityViolations:  counter("saga.security.violations", "Scope violations detected in steps"),
		HealthIssues:        counter("saga.health.issues", "Health issues reported by the sweep"),
		WorkersReaped:       counter("saga.worker.reaped", "Workers marked dead"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func byType(x *workflow.Execution) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("workflow_type", x.Type))
}

// ── Execution hooks ─────────────────────────────────

// OnExecutionSubmitted implements ext.ExecutionSubmitted.
func (m *MetricsExtension) OnExecutionSubmitted(ctx context.Context, x *workflow.Execution) error {
	m.ExecutionSubmitted.Add(ctx, 1, byType(x))
	return nil
}

// OnExecutionStarted implements ext.ExecutionStarted.
func (m *MetricsExtension) OnExecutionStarted(ctx context.Context, x *workflow.Execution) error {
	m.ExecutionStarted.Add(ctx, 1, byType(x))
	return nil
}

// OnExecutionCompleted implements ext.ExecutionCompleted.
func (m *MetricsExtension) OnExecutionCompleted(ctx context.Context, x *workflow.Execution, elapsed time.Duration) error {
	m.ExecutionCompleted.Add(ctx, 1, byType(x))
	m.ExecutionDuration.Record(ctx, elapsed.Seconds(), byType(x))
	return nil
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (m *MetricsExtension) OnExecutionFailed(ctx context.Context, x *workflow.Execution, err error) error {
	m.ExecutionFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_type", x.Type),
		attribute.String("status", string(x.Status)),
		attribute.String("error_kind", string(saga.KindOf(err))),
	))
	return nil
}

// OnExecutionRolledBack implements ext.ExecutionRolledBack.
func (m *MetricsExtension) OnExecutionRolledBack(ctx context.Context, x *workflow.Execution) error {
	m.ExecutionRolledBack.Add(ctx, 1, byType(x))
	return nil
}

// OnCompensating implements ext.Compensating.
func (m *MetricsExtension) OnCompensating(ctx context.Context, x *workflow.Execution, _ error) error {
	m.Compensations.Add(ctx, 1, byType(x))
	return nil
}

// ── Step hooks ──────────────────────────────────────

func byStep(x *workflow.Execution, step string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("workflow_type", x.Type),
		attribute.String("step", step),
	)
}

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, x *workflow.Execution, r *workflow.StepRecord, elapsed time.Duration) error {
	m.StepCompleted.Add(ctx, 1, byStep(x, r.Name))
	m.StepDuration.Record(ctx, elapsed.Seconds(), byStep(x, r.Name))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, x *workflow.Execution, r *workflow.StepRecord, _ error) error {
	m.StepFailed.Add(ctx, 1, byStep(x, r.Name))
	return nil
}

// OnStepRetrying implements ext.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, x *workflow.Execution, step string, _ int, _ error, _ time.Duration) error {
	m.StepRetried.Add(ctx, 1, byStep(x, step))
	return nil
}

// OnSecurityViolation implements ext.SecurityViolation.
func (m *MetricsExtension) OnSecurityViolation(ctx context.Context, x *workflow.Execution, step string, _ error) error {
	m.SecurityViolations.Add(ctx, 1, byStep(x, step))
	return nil
}

// ── Fleet hooks ─────────────────────────────────────

// OnHealthIssue implements ext.HealthIssueDetected.
func (m *MetricsExtension) OnHealthIssue(ctx context.Context, issue monitor.HealthIssue) error {
	m.HealthIssues.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_type", issue.Type),
		attribute.String("severity", string(issue.Severity)),
	))
	return nil
}

// OnWorkerReaped implements ext.WorkerReaped.
func (m *MetricsExtension) OnWorkerReaped(ctx context.Context, _ *cluster.Worker) error {
	m.WorkersReaped.Add(ctx, 1)
	return nil
}
