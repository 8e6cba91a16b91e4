package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/ext"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/observability"
	"github.com/xraph/saga/workflow"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newExecution(typ string) *workflow.Execution {
	return &workflow.Execution{ID: id.NewExecutionID(), Type: typ, Status: workflow.StatusRunning}
}

// collect returns the summed value of every counter, keyed by instrument
// name, plus histogram sample counts.
func collect(t *testing.T, reader *sdkmetric.ManualReader) (map[string]int64, map[string]uint64) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	sums := map[string]int64{}
	hists := map[string]uint64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[md.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					hists[md.Name] += dp.Count
				}
			}
		}
	}
	return sums, hists
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("Name() = %q, want %q", e.Name(), "observability-metrics")
	}
}

func TestExecutionLifecycle(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	x := newExecution("user_onboarding")

	_ = e.OnExecutionSubmitted(ctx, x)
	_ = e.OnExecutionStarted(ctx, x)
	_ = e.OnExecutionCompleted(ctx, x, 2*time.Second)
	_ = e.OnExecutionSubmitted(ctx, x)
	_ = e.OnExecutionFailed(ctx, x, saga.ErrRetriesExhausted)

	sums, hists := collect(t, reader)
	tests := map[string]int64{
		"saga.execution.submitted": 2,
		"saga.execution.started":   1,
		"saga.execution.completed": 1,
		"saga.execution.failed":    1,
	}
	for name, want := range tests {
		if got := sums[name]; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
	if hists["saga.execution.duration"] != 1 {
		t.Errorf("saga.execution.duration samples = %d, want 1", hists["saga.execution.duration"])
	}
}

func TestFailedCarriesErrorKind(t *testing.T) {
	e, reader := newTestExtension()
	_ = e.OnExecutionFailed(context.Background(), newExecution("bulk_operation"), saga.ErrWorkflowDeadline)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := string(saga.KindOf(saga.ErrWorkflowDeadline))
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "saga.execution.failed" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value("error_kind"); ok && v.AsString() == want {
					found = true
				}
			}
		}
	}
	if !found {
		t.Errorf("error_kind=%q attribute missing", want)
	}
}

func TestStepAndCompensation(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	x := newExecution("compliance_deletion")
	r := &workflow.StepRecord{Name: "delete_files"}

	_ = e.OnStepRetrying(ctx, x, r.Name, 1, errors.New("timeout"), time.Millisecond)
	_ = e.OnStepRetrying(ctx, x, r.Name, 2, errors.New("timeout"), time.Millisecond)
	_ = e.OnStepFailed(ctx, x, r, errors.New("timeout"))
	_ = e.OnCompensating(ctx, x, errors.New("timeout"))
	_ = e.OnExecutionRolledBack(ctx, x)
	_ = e.OnStepCompleted(ctx, x, &workflow.StepRecord{Name: "backup"}, time.Second)

	sums, hists := collect(t, reader)
	if sums["saga.step.retried"] != 2 {
		t.Errorf("saga.step.retried = %d, want 2", sums["saga.step.retried"])
	}
	if sums["saga.step.failed"] != 1 {
		t.Errorf("saga.step.failed = %d, want 1", sums["saga.step.failed"])
	}
	if sums["saga.compensation.started"] != 1 {
		t.Errorf("saga.compensation.started = %d, want 1", sums["saga.compensation.started"])
	}
	if sums["saga.execution.rolled_back"] != 1 {
		t.Errorf("saga.execution.rolled_back = %d, want 1", sums["saga.execution.rolled_back"])
	}
	if hists["saga.step.duration"] != 1 {
		t.Errorf("saga.step.duration samples = %d, want 1", hists["saga.step.duration"])
	}
}

func TestViaRegistry(t *testing.T) {
	e, reader := newTestExtension()
	reg := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg.Register(e)

	ctx := context.Background()
	x := newExecution("tenant_switching")
	reg.EmitSecurityViolation(ctx, x, "validate_access", saga.ErrSecurityViolation)
	reg.EmitHealthIssue(ctx, monitor.HealthIssue{ExecutionID: x.ID, Type: x.Type, Severity: monitor.SeverityCritical})
	reg.EmitWorkerReaped(ctx, &cluster.Worker{ID: id.NewWorkerID()})

	sums, _ := collect(t, reader)
	for _, name := range []string{"saga.security.violations", "saga.health.issues", "saga.worker.reaped"} {
		if sums[name] != 1 {
			t.Errorf("%s = %d, want 1", name, sums[name])
		}
	}
}
