package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/workflow"
)

// Registry is the Runner's event sink.
var _ workflow.Emitter = (*Registry)(nil)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	submitted    []entry[ExecutionSubmitted]
	started      []entry[ExecutionStarted]
	completed    []entry[ExecutionCompleted]
	failed       []entry[ExecutionFailed]
	rolledBack   []entry[ExecutionRolledBack]
	compensating []entry[Compensating]
	stepDone     []entry[StepCompleted]
	stepFailed   []entry[StepFailed]
	stepRetrying []entry[StepRetrying]
	security     []entry[SecurityViolation]
	healthIssue  []entry[HealthIssueDetected]
	workerReaped []entry[WorkerReaped]
	shutdown     []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ExecutionSubmitted); ok {
		r.submitted = append(r.submitted, entry[ExecutionSubmitted]{name, h})
	}
	if h, ok := e.(ExecutionStarted); ok {
		r.started = append(r.started, entry[ExecutionStarted]{name, h})
	}
	if h, ok := e.(ExecutionCompleted); ok {
		r.completed = append(r.completed, entry[ExecutionCompleted]{name, h})
	}
	if h, ok := e.(ExecutionFailed); ok {
		r.failed = append(r.failed, entry[ExecutionFailed]{name, h})
	}
	if h, ok := e.(ExecutionRolledBack); ok {
		r.rolledBack = append(r.rolledBack, entry[ExecutionRolledBack]{name, h})
	}
	if h, ok := e.(Compensating); ok {
		r.compensating = append(r.compensating, entry[Compensating]{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepDone = append(r.stepDone, entry[StepCompleted]{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, entry[StepFailed]{name, h})
	}
	if h, ok := e.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, entry[StepRetrying]{name, h})
	}
	if h, ok := e.(SecurityViolation); ok {
		r.security = append(r.security, entry[SecurityViolation]{name, h})
	}
	if h, ok := e.(HealthIssueDetected); ok {
		r.healthIssue = append(r.healthIssue, entry[HealthIssueDetected]{name, h})
	}
	if h, ok := e.(WorkerReaped); ok {
		r.workerReaped = append(r.workerReaped, entry[WorkerReaped]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Execution event emitters
// ──────────────────────────────────────────────────

// EmitExecutionSubmitted notifies all extensions that implement ExecutionSubmitted.
func (r *Registry) EmitExecutionSubmitted(ctx context.Context, e *workflow.Execution) {
	for _, x := range r.submitted {
		if err := x.hook.OnExecutionSubmitted(ctx, e); err != nil {
			r.logHookError("OnExecutionSubmitted", x.name, err)
		}
	}
}

// EmitExecutionStarted notifies all extensions that implement ExecutionStarted.
func (r *Registry) EmitExecutionStarted(ctx context.Context, e *workflow.Execution) {
	for _, x := range r.started {
		if err := x.hook.OnExecutionStarted(ctx, e); err != nil {
			r.logHookError("OnExecutionStarted", x.name, err)
		}
	}
}

// EmitExecutionCompleted notifies all extensions that implement ExecutionCompleted.
func (r *Registry) EmitExecutionCompleted(ctx context.Context, e *workflow.Execution, elapsed time.Duration) {
	for _, x := range r.completed {
		if err := x.hook.OnExecutionCompleted(ctx, e, elapsed); err != nil {
			r.logHookError("OnExecutionCompleted", x.name, err)
		}
	}
}

// EmitExecutionFailed notifies all extensions that implement ExecutionFailed.
func (r *Registry) EmitExecutionFailed(ctx context.Context, e *workflow.Execution, execErr error) {
	for _, x := range r.failed {
		if err := x.hook.OnExecutionFailed(ctx, e, execErr); err != nil {
			r.logHookError("OnExecutionFailed", x.name, err)
		}
	}
}

// EmitExecutionRolledBack notifies all extensions that implement ExecutionRolledBack.
func (r *Registry) EmitExecutionRolledBack(ctx context.Context, e *workflow.Execution) {
	for _, x := range r.rolledBack {
		if err := x.hook.OnExecutionRolledBack(ctx, e); err != nil {
			r.logHookError("OnExecutionRolledBack", x.name, err)
		}
	}
}

// EmitCompensating notifies all extensions that implement Compensating.
func (r *Registry) EmitCompensating(ctx context.Context, e *workflow.Execution, cause error) {
	for _, x := range r.compensating {
		if err := x.hook.OnCompensating(ctx, e, cause); err != nil {
			r.logHookError("OnCompensating", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, e *workflow.Execution, rec *workflow.StepRecord, elapsed time.Duration) {
	for _, x := range r.stepDone {
		if err := x.hook.OnStepCompleted(ctx, e, rec, elapsed); err != nil {
			r.logHookError("OnStepCompleted", x.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, e *workflow.Execution, rec *workflow.StepRecord, stepErr error) {
	for _, x := range r.stepFailed {
		if err := x.hook.OnStepFailed(ctx, e, rec, stepErr); err != nil {
			r.logHookError("OnStepFailed", x.name, err)
		}
	}
}

// EmitStepRetrying notifies all extensions that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, e *workflow.Execution, step string, attempt int, stepErr error, delay time.Duration) {
	for _, x := range r.stepRetrying {
		if err := x.hook.OnStepRetrying(ctx, e, step, attempt, stepErr, delay); err != nil {
			r.logHookError("OnStepRetrying", x.name, err)
		}
	}
}

// EmitSecurityViolation notifies all extensions that implement SecurityViolation.
func (r *Registry) EmitSecurityViolation(ctx context.Context, e *workflow.Execution, step string, violation error) {
	for _, x := range r.security {
		if err := x.hook.OnSecurityViolation(ctx, e, step, violation); err != nil {
			r.logHookError("OnSecurityViolation", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Fleet event emitters
// ──────────────────────────────────────────────────

// EmitHealthIssue notifies all extensions that implement HealthIssueDetected.
func (r *Registry) EmitHealthIssue(ctx context.Context, issue monitor.HealthIssue) {
	for _, x := range r.healthIssue {
		if err := x.hook.OnHealthIssue(ctx, issue); err != nil {
			r.logHookError("OnHealthIssue", x.name, err)
		}
	}
}

// EmitWorkerReaped notifies all extensions that implement WorkerReaped.
func (r *Registry) EmitWorkerReaped(ctx context.Context, w *cluster.Worker) {
	for _, x := range r.workerReaped {
		if err := x.hook.OnWorkerReaped(ctx, w); err != nil {
			r.logHookError("OnWorkerReaped", x.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, x := range r.shutdown {
		if err := x.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", x.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors never propagate into the driver.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
