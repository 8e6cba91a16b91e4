package ext

import (
	"context"
	"time"

	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Execution lifecycle hooks
// ──────────────────────────────────────────────────

// ExecutionSubmitted is called after an execution is persisted as pending.
type ExecutionSubmitted interface {
	OnExecutionSubmitted(ctx context.Context, e *workflow.Execution) error
}

// ExecutionStarted is called when a driver acquires an execution and
// begins (or resumes) stepping it.
type ExecutionStarted interface {
	OnExecutionStarted(ctx context.Context, e *workflow.Execution) error
}

// ExecutionCompleted is called after an execution finishes successfully.
type ExecutionCompleted interface {
	OnExecutionCompleted(ctx context.Context, e *workflow.Execution, elapsed time.Duration) error
}

// ExecutionFailed is called when an execution ends failed or timed out.
type ExecutionFailed interface {
	OnExecutionFailed(ctx context.Context, e *workflow.Execution, err error) error
}

// ExecutionRolledBack is called when every compensation of a failed
// execution has succeeded.
type ExecutionRolledBack interface {
	OnExecutionRolledBack(ctx context.Context, e *workflow.Execution) error
}

// Compensating is called when an execution starts unwinding.
type Compensating interface {
	OnCompensating(ctx context.Context, e *workflow.Execution, cause error) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepCompleted is called after a step record is finalized as completed.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, e *workflow.Execution, r *workflow.StepRecord, elapsed time.Duration) error
}

// StepFailed is called after a step record is finalized as failed.
type StepFailed interface {
	OnStepFailed(ctx context.Context, e *workflow.Execution, r *workflow.StepRecord, err error) error
}

// StepRetrying is called before the retry policy sleeps between attempts.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, e *workflow.Execution, step string, attempt int, err error, delay time.Duration) error
}

// SecurityViolation is called when a step fails with a security error.
type SecurityViolation interface {
	OnSecurityViolation(ctx context.Context, e *workflow.Execution, step string, err error) error
}

// ──────────────────────────────────────────────────
// Fleet hooks
// ──────────────────────────────────────────────────

// HealthIssueDetected is called by the periodic sweep for every issue it
// finds.
type HealthIssueDetected interface {
	OnHealthIssue(ctx context.Context, issue monitor.HealthIssue) error
}

// WorkerReaped is called when a silent worker is marked dead.
type WorkerReaped interface {
	OnWorkerReaped(ctx context.Context, w *cluster.Worker) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
