package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/saga/audit_hook"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/ext"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/scope"
	"github.com/xraph/saga/workflow"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newExecution() *workflow.Execution {
	return &workflow.Execution{
		ID:     id.NewExecutionID(),
		RunID:  id.NewRunID(),
		Type:   "tenant_provisioning",
		Status: workflow.StatusRunning,
		Scope: scope.Scope{
			TenantID:  "t-1",
			UserID:    "u-1",
			SessionID: "s-1",
		},
		CorrelationID:   "corr-1",
		CurrentStepName: "create_tenant",
	}
}

func newRecord(x *workflow.Execution) *workflow.StepRecord {
	return &workflow.StepRecord{
		ExecutionID: x.ID,
		Name:        "create_tenant",
		Kind:        workflow.KindActivity,
		Status:      workflow.StepCompleted,
		Attempts:    2,
	}
}

func quiet() ah.Option {
	return ah.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ── Execution hooks ──────────────────────────────────

func TestExecutionCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, quiet())
	x := newExecution()

	if err := e.OnExecutionCompleted(context.Background(), x, 1500*time.Millisecond); err != nil {
		t.Fatalf("OnExecutionCompleted: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionExecutionCompleted {
		t.Errorf("Action = %q, want %q", evt.Action, ah.ActionExecutionCompleted)
	}
	if evt.Category != ah.CategoryExecution {
		t.Errorf("Category = %q, want %q", evt.Category, ah.CategoryExecution)
	}
	if evt.Resource != ah.ResourceExecution {
		t.Errorf("Resource = %q, want %q", evt.Resource, ah.ResourceExecution)
	}
	if evt.ResourceID != x.ID.String() {
		t.Errorf("ResourceID = %q, want %q", evt.ResourceID, x.ID.String())
	}
	if evt.TenantID != "t-1" || evt.UserID != "u-1" {
		t.Errorf("scope = %q/%q, want t-1/u-1", evt.TenantID, evt.UserID)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity = %q, want %q", evt.Severity, ah.SeverityInfo)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome = %q, want %q", evt.Outcome, ah.OutcomeSuccess)
	}
	if got := evt.Metadata["elapsed_ms"]; got != int64(1500) {
		t.Errorf("elapsed_ms = %v, want 1500", got)
	}
	if got := evt.Metadata["correlation_id"]; got != "corr-1" {
		t.Errorf("correlation_id = %v, want corr-1", got)
	}
}

func TestExecutionFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, quiet())
	x := newExecution()
	x.Status = workflow.StatusFailed

	if err := e.OnExecutionFailed(context.Background(), x, errors.New("tenant store down")); err != nil {
		t.Fatalf("OnExecutionFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity = %q, want %q", evt.Severity, ah.SeverityCritical)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome = %q, want %q", evt.Outcome, ah.OutcomeFailure)
	}
	if evt.Reason != "tenant store down" {
		t.Errorf("Reason = %q, want %q", evt.Reason, "tenant store down")
	}
	if got := evt.Metadata["status"]; got != "failed" {
		t.Errorf("status = %v, want failed", got)
	}
}

func TestCompensatingIsWarning(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, quiet())

	if err := e.OnCompensating(context.Background(), newExecution(), errors.New("boom")); err != nil {
		t.Fatalf("OnCompensating: %v", err)
	}
	evt := rec.last()
	if evt.Action != ah.ActionCompensating {
		t.Errorf("Action = %q, want %q", evt.Action, ah.ActionCompensating)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity = %q, want %q", evt.Severity, ah.SeverityWarning)
	}
	if got := evt.Metadata["failed_step"]; got != "create_tenant" {
		t.Errorf("failed_step = %v, want create_tenant", got)
	}
}

// ── Step hooks ───────────────────────────────────────

func TestStepRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, quiet())
	x := newExecution()

	if err := e.OnStepRetrying(context.Background(), x, "send_welcome", 2, errors.New("smtp 451"), 250*time.Millisecond); err != nil {
		t.Fatalf("OnStepRetrying: %v", err)
	}
	evt := rec.last()
	if evt.Category != ah.CategoryStep {
		t.Errorf("Category = %q, want %q", evt.Category, ah.CategoryStep)
	}
	if got := evt.Metadata["step"]; got != "send_welcome" {
		t.Errorf("step = %v, want send_welcome", got)
	}
	if got := evt.Metadata["attempt"]; got != 2 {
		t.Errorf("attempt = %v, want 2", got)
	}
	if got := evt.Metadata["delay_ms"]; got != int64(250) {
		t.Errorf("delay_ms = %v, want 250", got)
	}
}

func TestStepCompletedCarriesAttempts(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, quiet())
	x := newExecution()

	if err := e.OnStepCompleted(context.Background(), x, newRecord(x), time.Second); err != nil {
		t.Fatalf("OnStepCompleted: %v", err)
	}
	evt := rec.last()
	if got := evt.Metadata["attempts"]; got != 2 {
		t.Errorf("attempts = %v, want 2", got)
	}
	if got := evt.Metadata["kind"]; got != "activity" {
		t.Errorf("kind = %v, want activity", got)
	}
}

// ── Security ─────────────────────────────────────────

func TestSecurityViolationAlwaysRecorded(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, quiet(), ah.WithActions(ah.ActionExecutionCompleted))

	err := e.OnSecurityViolation(context.Background(), newExecution(), "switch_tenant", errors.New("tenant mismatch"))
	if err != nil {
		t.Fatalf("OnSecurityViolation: %v", err)
	}
	evt := rec.last()
	if evt == nil {
		t.Fatal("security violation was filtered out")
	}
	if evt.Category != ah.CategorySecurity {
		t.Errorf("Category = %q, want %q", evt.Category, ah.CategorySecurity)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity = %q, want %q", evt.Severity, ah.SeverityCritical)
	}
	if got := evt.Metadata["session_id"]; got != "s-1" {
		t.Errorf("session_id = %v, want s-1", got)
	}
}

// ── Fleet hooks ──────────────────────────────────────

func TestHealthIssueSeverity(t *testing.T) {
	tests := []struct {
		in   monitor.Severity
		want string
	}{
		{monitor.SeverityInfo, ah.SeverityInfo},
		{monitor.SeverityWarning, ah.SeverityWarning},
		{monitor.SeverityCritical, ah.SeverityCritical},
	}
	for _, tt := range tests {
		rec := &mockRecorder{}
		e := ah.New(rec, quiet())
		issue := monitor.HealthIssue{
			ExecutionID: id.NewExecutionID(),
			Type:        "bulk_operation",
			Status:      workflow.StatusRunning,
			Severity:    tt.in,
			Reason:      "long running",
			RunningFor:  10 * time.Minute,
		}
		if err := e.OnHealthIssue(context.Background(), issue); err != nil {
			t.Fatalf("OnHealthIssue: %v", err)
		}
		evt := rec.last()
		if evt.Severity != tt.want {
			t.Errorf("severity for %v = %q, want %q", tt.in, evt.Severity, tt.want)
		}
		if evt.ResourceID != issue.ExecutionID.String() {
			t.Errorf("ResourceID = %q, want %q", evt.ResourceID, issue.ExecutionID.String())
		}
	}
}

func TestWorkerReaped(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, quiet())
	w := &cluster.Worker{ID: id.NewWorkerID(), Hostname: "node-a", LastSeen: time.Now()}

	if err := e.OnWorkerReaped(context.Background(), w); err != nil {
		t.Fatalf("OnWorkerReaped: %v", err)
	}
	evt := rec.last()
	if evt.Resource != ah.ResourceWorker {
		t.Errorf("Resource = %q, want %q", evt.Resource, ah.ResourceWorker)
	}
	if evt.Category != ah.CategoryFleet {
		t.Errorf("Category = %q, want %q", evt.Category, ah.CategoryFleet)
	}
	if got := evt.Metadata["hostname"]; got != "node-a" {
		t.Errorf("hostname = %v, want node-a", got)
	}
}

// ── Filtering & recorder errors ──────────────────────

func TestWithActionsFiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, quiet(), ah.WithActions(ah.ActionExecutionFailed))
	ctx := context.Background()
	x := newExecution()

	_ = e.OnExecutionStarted(ctx, x)
	if rec.count() != 0 {
		t.Errorf("count = %d, want 0 (started disabled)", rec.count())
	}
	_ = e.OnExecutionFailed(ctx, x, errors.New("boom"))
	if rec.count() != 1 {
		t.Errorf("count = %d, want 1", rec.count())
	}
}

func TestRecorderErrorDoesNotPropagate(t *testing.T) {
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})
	e := ah.New(failing, quiet())

	if err := e.OnExecutionSubmitted(context.Background(), newExecution()); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

// ── Registry integration ─────────────────────────────

func TestViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg.Register(ah.New(rec, quiet()))

	ctx := context.Background()
	x := newExecution()
	r := newRecord(x)

	reg.EmitExecutionSubmitted(ctx, x)
	reg.EmitExecutionStarted(ctx, x)
	reg.EmitExecutionCompleted(ctx, x, time.Second)
	reg.EmitExecutionFailed(ctx, x, errors.New("fail"))
	reg.EmitExecutionRolledBack(ctx, x)
	reg.EmitCompensating(ctx, x, errors.New("fail"))
	reg.EmitStepCompleted(ctx, x, r, time.Second)
	reg.EmitStepFailed(ctx, x, r, errors.New("bad"))
	reg.EmitStepRetrying(ctx, x, r.Name, 1, errors.New("bad"), time.Millisecond)
	reg.EmitSecurityViolation(ctx, x, r.Name, errors.New("mismatch"))
	reg.EmitHealthIssue(ctx, monitor.HealthIssue{ExecutionID: x.ID, Severity: monitor.SeverityWarning})
	reg.EmitWorkerReaped(ctx, &cluster.Worker{ID: id.NewWorkerID()})

	actions := ah.AllActions()
	if rec.count() != len(actions) {
		t.Fatalf("count = %d, want %d", rec.count(), len(actions))
	}
	for _, a := range actions {
		if rec.findByAction(a) == nil {
			t.Errorf("missing event for action %q", a)
		}
	}
}
