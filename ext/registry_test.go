package ext_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/ext"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/workflow"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// recorder implements every lifecycle hook.
type recorder struct {
	name  string
	calls []string
}

func (e *recorder) Name() string { return e.name }

func (e *recorder) record(hook string) error {
	e.calls = append(e.calls, hook)
	return nil
}

func (e *recorder) OnExecutionSubmitted(context.Context, *workflow.Execution) error {
	return e.record("OnExecutionSubmitted")
}

func (e *recorder) OnExecutionStarted(context.Context, *workflow.Execution) error {
	return e.record("OnExecutionStarted")
}

func (e *recorder) OnExecutionCompleted(context.Context, *workflow.Execution, time.Duration) error {
	return e.record("OnExecutionCompleted")
}

func (e *recorder) OnExecutionFailed(context.Context, *workflow.Execution, error) error {
	return e.record("OnExecutionFailed")
}

func (e *recorder) OnExecutionRolledBack(context.Context, *workflow.Execution) error {
	return e.record("OnExecutionRolledBack")
}

func (e *recorder) OnCompensating(context.Context, *workflow.Execution, error) error {
	return e.record("OnCompensating")
}

func (e *recorder) OnStepCompleted(context.Context, *workflow.Execution, *workflow.StepRecord, time.Duration) error {
	return e.record("OnStepCompleted")
}

func (e *recorder) OnStepFailed(context.Context, *workflow.Execution, *workflow.StepRecord, error) error {
	return e.record("OnStepFailed")
}

func (e *recorder) OnStepRetrying(context.Context, *workflow.Execution, string, int, error, time.Duration) error {
	return e.record("OnStepRetrying")
}

func (e *recorder) OnSecurityViolation(context.Context, *workflow.Execution, string, error) error {
	return e.record("OnSecurityViolation")
}

func (e *recorder) OnHealthIssue(context.Context, monitor.HealthIssue) error {
	return e.record("OnHealthIssue")
}

func (e *recorder) OnWorkerReaped(context.Context, *cluster.Worker) error {
	return e.record("OnWorkerReaped")
}

func (e *recorder) OnShutdown(context.Context) error { return e.record("OnShutdown") }

// completionOnly implements a single hook.
type completionOnly struct{ calls int }

func (e *completionOnly) Name() string { return "completion-only" }

func (e *completionOnly) OnExecutionCompleted(context.Context, *workflow.Execution, time.Duration) error {
	e.calls++
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (failingExt) Name() string { return "failing" }

func (failingExt) OnExecutionStarted(context.Context, *workflow.Execution) error {
	return errors.New("boom")
}

func silent() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_AllHooksFireInOrder(t *testing.T) {
	r := ext.NewRegistry(silent())
	all := &recorder{name: "all"}
	r.Register(all)

	ctx := context.Background()
	e := &workflow.Execution{Type: "user_onboarding"}
	rec := &workflow.StepRecord{Name: "create_account"}
	cause := errors.New("x")

	r.EmitExecutionSubmitted(ctx, e)
	r.EmitExecutionStarted(ctx, e)
	r.EmitStepRetrying(ctx, e, "create_account", 1, cause, time.Millisecond)
	r.EmitStepCompleted(ctx, e, rec, time.Second)
	r.EmitStepFailed(ctx, e, rec, cause)
	r.EmitSecurityViolation(ctx, e, "validate_access", cause)
	r.EmitCompensating(ctx, e, cause)
	r.EmitExecutionRolledBack(ctx, e)
	r.EmitExecutionCompleted(ctx, e, time.Second)
	r.EmitExecutionFailed(ctx, e, cause)
	r.EmitHealthIssue(ctx, monitor.HealthIssue{Severity: monitor.SeverityWarning})
	r.EmitWorkerReaped(ctx, &cluster.Worker{})
	r.EmitShutdown(ctx)

	want := []string{
		"OnExecutionSubmitted", "OnExecutionStarted", "OnStepRetrying",
		"OnStepCompleted", "OnStepFailed", "OnSecurityViolation",
		"OnCompensating", "OnExecutionRolledBack", "OnExecutionCompleted",
		"OnExecutionFailed", "OnHealthIssue", "OnWorkerReaped", "OnShutdown",
	}
	if len(all.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", all.calls, want)
	}
	for i := range want {
		if all.calls[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want[i])
		}
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(silent())
	all := &recorder{name: "all"}
	one := &completionOnly{}
	r.Register(all)
	r.Register(one)

	ctx := context.Background()
	e := &workflow.Execution{}
	r.EmitExecutionStarted(ctx, e)
	r.EmitExecutionCompleted(ctx, e, time.Second)

	if len(all.calls) != 2 {
		t.Errorf("all calls = %v, want 2", all.calls)
	}
	if one.calls != 1 {
		t.Errorf("completion-only calls = %d, want 1", one.calls)
	}
	if got := len(r.Extensions()); got != 2 {
		t.Errorf("Extensions() = %d, want 2", got)
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	all := &recorder{name: "all"}
	r.Register(failingExt{})
	r.Register(all)

	r.EmitExecutionStarted(context.Background(), &workflow.Execution{})

	if len(all.calls) != 1 {
		t.Fatalf("all calls = %v, want [OnExecutionStarted]", all.calls)
	}
	out := buf.String()
	if !strings.Contains(out, "extension hook error") || !strings.Contains(out, "extension=failing") {
		t.Errorf("log = %q, want hook error for failing", out)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(silent())
	ctx := context.Background()
	e := &workflow.Execution{}

	r.EmitExecutionSubmitted(ctx, e)
	r.EmitExecutionStarted(ctx, e)
	r.EmitStepCompleted(ctx, e, &workflow.StepRecord{}, time.Second)
	r.EmitExecutionFailed(ctx, e, errors.New("x"))
	r.EmitHealthIssue(ctx, monitor.HealthIssue{})
	r.EmitShutdown(ctx)
}

func TestRegistry_IsWorkflowEmitter(_ *testing.T) {
	var _ workflow.Emitter = ext.NewRegistry(silent())
}
