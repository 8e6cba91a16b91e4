package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/ext"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.ExecutionSubmitted  = (*Extension)(nil)
	_ ext.ExecutionStarted    = (*Extension)(nil)
	_ ext.ExecutionCompleted  = (*Extension)(nil)
	_ ext.ExecutionFailed     = (*Extension)(nil)
	_ ext.ExecutionRolledBack = (*Extension)(nil)
	_ ext.Compensating        = (*Extension)(nil)
	_ ext.StepCompleted       = (*Extension)(nil)
	_ ext.StepFailed          = (*Extension)(nil)
	_ ext.StepRetrying        = (*Extension)(nil)
	_ ext.SecurityViolation   = (*Extension)(nil)
	_ ext.HealthIssueDetected = (*Extension)(nil)
	_ ext.WorkerReaped        = (*Extension)(nil)
)

// Recorder is the interface audit backends implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges saga lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Execution hooks ─────────────────────────────────

// OnExecutionSubmitted implements ext.ExecutionSubmitted.
func (e *Extension) OnExecutionSubmitted(ctx context.Context, x *workflow.Execution) error {
	return e.recordExecution(ctx, ActionExecutionSubmitted, SeverityInfo, OutcomeSuccess, x, nil,
		"version", x.Version,
		"run_id", x.RunID.String(),
	)
}

// OnExecutionStarted implements ext.ExecutionStarted.
func (e *Extension) OnExecutionStarted(ctx context.Context, x *workflow.Execution) error {
	return e.recordExecution(ctx, ActionExecutionStarted, SeverityInfo, OutcomeSuccess, x, nil,
		"run_id", x.RunID.String(),
	)
}

// OnExecutionCompleted implements ext.ExecutionCompleted.
func (e *Extension) OnExecutionCompleted(ctx context.Context, x *workflow.Execution, elapsed time.Duration) error {
	return e.recordExecution(ctx, ActionExecutionCompleted, SeverityInfo, OutcomeSuccess, x, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (e *Extension) OnExecutionFailed(ctx context.Context, x *workflow.Execution, err error) error {
	return e.recordExecution(ctx, ActionExecutionFailed, SeverityCritical, OutcomeFailure, x, err,
		"status", string(x.Status),
		"error_kind", string(x.ErrorKind),
		"step", x.CurrentStepName,
	)
}

// OnExecutionRolledBack implements ext.ExecutionRolledBack.
func (e *Extension) OnExecutionRolledBack(ctx context.Context, x *workflow.Execution) error {
	return e.recordExecution(ctx, ActionExecutionRolledBack, SeverityWarning, OutcomeFailure, x, nil,
		"cause", x.Error,
	)
}

// OnCompensating implements ext.Compensating.
func (e *Extension) OnCompensating(ctx context.Context, x *workflow.Execution, cause error) error {
	return e.recordExecution(ctx, ActionCompensating, SeverityWarning, OutcomeFailure, x, cause,
		"failed_step", x.CurrentStepName,
	)
}

// ── Step hooks ──────────────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (e *Extension) OnStepCompleted(ctx context.Context, x *workflow.Execution, r *workflow.StepRecord, elapsed time.Duration) error {
	return e.recordStep(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess, x, r.Name, nil,
		"kind", string(r.Kind),
		"attempts", r.Attempts,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, x *workflow.Execution, r *workflow.StepRecord, err error) error {
	return e.recordStep(ctx, ActionStepFailed, SeverityWarning, OutcomeFailure, x, r.Name, err,
		"kind", string(r.Kind),
		"attempts", r.Attempts,
		"error_kind", string(r.ErrorKind),
	)
}

// OnStepRetrying implements ext.StepRetrying.
func (e *Extension) OnStepRetrying(ctx context.Context, x *workflow.Execution, step string, attempt int, err error, delay time.Duration) error {
	return e.recordStep(ctx, ActionStepRetrying, SeverityWarning, OutcomeFailure, x, step, err,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
}

// OnSecurityViolation implements ext.SecurityViolation. It is recorded even
// when WithActions excludes it.
func (e *Extension) OnSecurityViolation(ctx context.Context, x *workflow.Execution, step string, err error) error {
	return e.record(ctx, ActionSecurityViolation, SeverityCritical, OutcomeFailure,
		ResourceExecution, x.ID.String(), CategorySecurity, x, err,
		"workflow_type", x.Type,
		"step", step,
		"session_id", x.Scope.SessionID,
		"correlation_id", x.CorrelationID,
	)
}

// ── Fleet hooks ─────────────────────────────────────

// OnHealthIssue implements ext.HealthIssueDetected.
func (e *Extension) OnHealthIssue(ctx context.Context, issue monitor.HealthIssue) error {
	sev := SeverityInfo
	switch issue.Severity {
	case monitor.SeverityCritical:
		sev = SeverityCritical
	case monitor.SeverityWarning:
		sev = SeverityWarning
	}
	return e.record(ctx, ActionHealthIssue, sev, OutcomeFailure,
		ResourceExecution, issue.ExecutionID.String(), CategoryFleet, nil, nil,
		"workflow_type", issue.Type,
		"status", string(issue.Status),
		"issue", issue.Reason,
		"running_for_ms", issue.RunningFor.Milliseconds(),
	)
}

// OnWorkerReaped implements ext.WorkerReaped.
func (e *Extension) OnWorkerReaped(ctx context.Context, w *cluster.Worker) error {
	return e.record(ctx, ActionWorkerReaped, SeverityWarning, OutcomeFailure,
		ResourceWorker, w.ID.String(), CategoryFleet, nil, nil,
		"hostname", w.Hostname,
		"last_seen", w.LastSeen.Format(time.RFC3339),
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) recordExecution(ctx context.Context, action, severity, outcome string, x *workflow.Execution, err error, kv ...any) error {
	kv = append([]any{"workflow_type", x.Type, "correlation_id", x.CorrelationID}, kv...)
	return e.record(ctx, action, severity, outcome,
		ResourceExecution, x.ID.String(), CategoryExecution, x, err, kv...)
}

func (e *Extension) recordStep(ctx context.Context, action, severity, outcome string, x *workflow.Execution, step string, err error, kv ...any) error {
	kv = append([]any{"workflow_type", x.Type, "step", step}, kv...)
	return e.record(ctx, action, severity, outcome,
		ResourceExecution, x.ID.String(), CategoryStep, x, err, kv...)
}

// record builds and sends an audit event if the action is enabled.
// kvPairs is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	x *workflow.Execution,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] && action != ActionSecurityViolation {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
	if x != nil {
		evt.TenantID = x.Scope.TenantID
		evt.UserID = x.Scope.UserID
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
