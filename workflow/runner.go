package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/retry"
	"github.com/xraph/saga/scope"
)

// Runner creates, drives, cancels and retries executions.
type Runner struct {
	registry *Registry
	store    Store
	leases   cluster.LeaseStore
	client   activity.Client
	emitter  Emitter
	logger   *slog.Logger

	owner           string
	leaseTTL        time.Duration
	defaultRetry    retry.Policy
	workflowTimeout time.Duration
	asyncDrive      bool

	// drives numbers Drive calls so each holds the lease under its own
	// name, even when they share an owner.
	drives atomic.Uint64

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEmitter sets the lifecycle event sink.
func WithEmitter(e Emitter) RunnerOption { return func(r *Runner) { r.emitter = e } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption { return func(r *Runner) { r.logger = l } }

// WithOwner sets the identity used for leases, normally the worker id.
func WithOwner(owner string) RunnerOption { return func(r *Runner) { r.owner = owner } }

// WithLeaseTTL sets the execution lease duration.
func WithLeaseTTL(d time.Duration) RunnerOption { return func(r *Runner) { r.leaseTTL = d } }

// WithDefaultRetry sets the policy for steps that declare none.
func WithDefaultRetry(p retry.Policy) RunnerOption { return func(r *Runner) { r.defaultRetry = p } }

// WithWorkflowTimeout sets the deadline for definitions that declare none.
func WithWorkflowTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.workflowTimeout = d }
}

// WithAsyncDrive controls whether Submit and Retry start driving in a
// background goroutine. When false, executions wait for a worker pool.
func WithAsyncDrive(enabled bool) RunnerOption { return func(r *Runner) { r.asyncDrive = enabled } }

// NewRunner creates a runner over the given registry, stores and client.
func NewRunner(registry *Registry, store Store, leases cluster.LeaseStore, client activity.Client, opts ...RunnerOption) *Runner {
	cfg := saga.DefaultConfig()
	r := &Runner{
		registry:        registry,
		store:           store,
		leases:          leases,
		client:          client,
		emitter:         NopEmitter{},
		logger:          slog.Default(),
		owner:           id.NewWorkerID().String(),
		leaseTTL:        cfg.LeaseTTL,
		defaultRetry:    retry.FromConfig(cfg),
		workflowTimeout: cfg.WorkflowTimeout,
		asyncDrive:      true,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.base, r.cancel = context.WithCancel(context.Background())
	return r
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Owner returns the lease owner identity. Leases are held as
// "<owner>/<n>", one n per Drive call.
func (r *Runner) Owner() string { return r.owner }

func (r *Runner) holder() string {
	return r.owner + "/" + strconv.FormatUint(r.drives.Add(1), 10)
}

// Start marshals input to JSON and submits it.
func Start[T any](ctx context.Context, r *Runner, typ string, input T, sc scope.Scope) (*Execution, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, saga.NewValidationError("input", err.Error())
	}
	return r.Submit(ctx, typ, data, sc)
}

// Submit creates a pending execution of the latest version of typ and
// returns immediately. The execution is driven in the background, or by a
// worker pool when async driving is disabled.
func (r *Runner) Submit(ctx context.Context, typ string, input []byte, sc scope.Scope) (*Execution, error) {
	e, err := r.create(ctx, typ, input, sc)
	if err != nil {
		return nil, err
	}
	if r.asyncDrive {
		r.spawn(e.ID)
	}
	return e, nil
}

// Execute creates an execution and drives it to a terminal or interrupted
// state before returning. The outcome is in the returned execution's
// Status; the error reports only infrastructure problems.
func (r *Runner) Execute(ctx context.Context, typ string, input []byte, sc scope.Scope) (*Execution, error) {
	e, err := r.create(ctx, typ, input, sc)
	if err != nil {
		return nil, err
	}
	return r.Drive(ctx, e.ID)
}

func (r *Runner) create(ctx context.Context, typ string, input []byte, sc scope.Scope) (*Execution, error) {
	def, ok := r.registry.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %q", saga.ErrWorkflowNotFound, typ)
	}
	if len(input) == 0 {
		input = []byte("{}")
	}
	if !json.Valid(input) {
		return nil, saga.NewValidationError("input", "not valid JSON")
	}
	if def.Validate != nil {
		if err := def.Validate(input); err != nil {
			if errors.Is(err, saga.ErrValidation) {
				return nil, err
			}
			return nil, saga.NewValidationError("input", err.Error())
		}
	}

	now := time.Now().UTC()
	e := &Execution{
		ID:            id.NewExecutionID(),
		RunID:         id.NewRunID(),
		Type:          def.Name,
		Version:       def.Version,
		Status:        StatusPending,
		Input:         input,
		Scope:         sc,
		CorrelationID: sc.CorrelationID,
		TotalSteps:    len(def.Steps),
		Deadline:      now.Add(r.deadlineOf(def)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if e.CorrelationID == "" {
		e.CorrelationID = e.ID.String()
		e.Scope.CorrelationID = e.CorrelationID
	}

	if err := r.store.CreateExecution(ctx, e); err != nil {
		return nil, fmt.Errorf("create execution of %q: %w", typ, err)
	}
	r.emitter.EmitExecutionSubmitted(ctx, e)
	r.logger.Info("execution submitted",
		slog.String("execution_id", e.ID.String()),
		slog.String("type", e.Type),
		slog.Int("version", e.Version),
		slog.String("tenant_id", e.Scope.TenantID),
	)
	return e, nil
}

func (r *Runner) deadlineOf(def *Definition) time.Duration {
	if def.Deadline > 0 {
		return def.Deadline
	}
	return r.workflowTimeout
}

func (r *Runner) spawn(executionID id.ExecutionID) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Drive(r.base, executionID); err != nil && !isBenign(err) {
			r.logger.Error("background drive failed",
				slog.String("execution_id", executionID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func isBenign(err error) bool {
	return errors.Is(err, saga.ErrLeaseConflict) ||
		errors.Is(err, saga.ErrLeaseLost) ||
		errors.Is(err, context.Canceled)
}

// Drive acquires the execution's lease, replays its history and advances
// it until it reaches a terminal state or the context ends. A second
// concurrent driver, including one started by this same runner, gets
// saga.ErrLeaseConflict; a driver whose lease is taken over mid-run stops
// and returns saga.ErrLeaseLost.
func (r *Runner) Drive(ctx context.Context, executionID id.ExecutionID) (*Execution, error) {
	key := cluster.ExecutionLeaseKey(executionID)
	holder := r.holder()
	if _, err := r.leases.AcquireLease(ctx, key, holder, r.leaseTTL); err != nil {
		return nil, err
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	keeper := cluster.StartKeeper(r.leases, key, holder, r.leaseTTL, func(err error) { cancel(err) }, r.logger)
	defer func() {
		keeper.Stop()
		cancel(nil)
		if err := r.leases.ReleaseLease(context.WithoutCancel(ctx), key, holder); err != nil {
			r.logger.Warn("release lease failed",
				slog.String("execution_id", executionID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()

	e, err := r.store.GetExecution(leaseCtx, executionID)
	if err != nil {
		return nil, err
	}
	if e.Status.IsTerminal() {
		return e, nil
	}
	def, ok := r.registry.GetVersion(e.Type, e.Version)
	if !ok {
		return e, fmt.Errorf("%w: %s version %d", saga.ErrWorkflowNotFound, e.Type, e.Version)
	}
	records, err := r.store.ListSteps(leaseCtx, executionID)
	if err != nil {
		return e, fmt.Errorf("list steps of %s: %w", executionID, err)
	}

	d := &driver{
		r:        r,
		exec:     e,
		def:      def,
		hist:     newHistory(e, records),
		state:    newState(e),
		leaseCtx: leaseCtx,
	}
	err = d.run()
	if errors.Is(context.Cause(leaseCtx), saga.ErrLeaseLost) {
		return e, saga.ErrLeaseLost
	}
	return e, err
}

// Cancel asks the driver of a running execution to stop between steps.
// It returns immediately; an in-flight activity call finishes first.
func (r *Runner) Cancel(ctx context.Context, executionID id.ExecutionID) error {
	e, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: execution %s is %s", saga.ErrInvalidState, executionID, e.Status)
	}
	if err := r.store.SetCancelRequested(ctx, executionID, true); err != nil {
		return fmt.Errorf("request cancel of %s: %w", executionID, err)
	}
	r.logger.Info("execution cancel requested", slog.String("execution_id", executionID.String()))
	return nil
}

// Resume drives a non-terminal execution, typically after a crash.
// Executions keep the definition version they were stamped with.
func (r *Runner) Resume(ctx context.Context, executionID id.ExecutionID) (*Execution, error) {
	e, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if e.Status.IsTerminal() {
		return e, fmt.Errorf("%w: execution %s is %s", saga.ErrInvalidState, executionID, e.Status)
	}
	return r.Drive(ctx, executionID)
}

// ResumeAll drives every non-terminal execution that no live driver holds.
// It returns how many were driven.
func (r *Runner) ResumeAll(ctx context.Context) (int, error) {
	execs, err := r.store.ListExecutions(ctx, ListOpts{
		Statuses: []Status{StatusPending, StatusRunning, StatusCompensating},
	})
	if err != nil {
		return 0, fmt.Errorf("list active executions: %w", err)
	}

	resumed := 0
	for _, e := range execs {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		r.logger.Info("resuming execution",
			slog.String("execution_id", e.ID.String()),
			slog.String("type", e.Type),
			slog.String("status", string(e.Status)),
		)
		if _, err := r.Drive(ctx, e.ID); err != nil {
			if errors.Is(err, saga.ErrLeaseConflict) {
				continue
			}
			r.logger.Error("resume failed",
				slog.String("execution_id", e.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		resumed++
	}
	return resumed, nil
}

// Retry re-opens a failed or timed-out execution that was not compensated.
// Completed steps are kept; failed steps run again under a new run id and
// idempotency generation.
func (r *Runner) Retry(ctx context.Context, executionID id.ExecutionID) (*Execution, error) {
	e, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusFailed && e.Status != StatusTimedOut {
		return nil, fmt.Errorf("%w: execution %s is %s", saga.ErrInvalidState, executionID, e.Status)
	}
	records, err := r.store.ListSteps(ctx, executionID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Kind == KindCompensation && rec.Generation == e.Generation {
			return nil, fmt.Errorf("%w: execution %s was compensated", saga.ErrInvalidState, executionID)
		}
	}
	def, ok := r.registry.GetVersion(e.Type, e.Version)
	if !ok {
		return nil, fmt.Errorf("%w: %s version %d", saga.ErrWorkflowNotFound, e.Type, e.Version)
	}

	now := time.Now().UTC()
	e.Generation++
	e.RunID = id.NewRunID()
	e.Status = StatusPending
	e.Error = ""
	e.ErrorKind = saga.KindNone
	e.Output = nil
	e.CompletedAt = nil
	e.Deadline = now.Add(r.deadlineOf(def))
	e.UpdatedAt = now
	if err := r.store.UpdateExecution(ctx, e); err != nil {
		return nil, fmt.Errorf("reset execution %s: %w", executionID, err)
	}
	if err := r.store.SetCancelRequested(ctx, executionID, false); err != nil {
		return nil, err
	}
	e.CancelRequested = false

	r.logger.Info("execution retried",
		slog.String("execution_id", e.ID.String()),
		slog.String("run_id", e.RunID.String()),
		slog.Int("generation", e.Generation),
	)
	r.emitter.EmitExecutionSubmitted(ctx, e)
	if r.asyncDrive {
		r.spawn(e.ID)
	}
	return e, nil
}

// Close stops background drives and waits for them to return. Interrupted
// executions keep their state and are resumed by the next driver.
func (r *Runner) Close(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
