package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/batch"
	"github.com/xraph/saga/retry"
)

// driver advances one execution while its lease is held.
type driver struct {
	r     *Runner
	exec  *Execution
	def   *Definition
	hist  *history
	state *State

	// leaseCtx ends when the lease is lost or the caller gives up. Step
	// calls additionally run under the workflow deadline.
	leaseCtx context.Context
}

func (d *driver) now() time.Time { return time.Now().UTC() }

func (d *driver) log() *slog.Logger {
	return d.r.logger.With(
		slog.String("execution_id", d.exec.ID.String()),
		slog.String("type", d.exec.Type),
	)
}

func (d *driver) run() error {
	ctx := d.leaseCtx
	e := d.exec

	if e.Status == StatusPending {
		if err := e.transition(StatusRunning); err != nil {
			return err
		}
		now := d.now()
		e.StartedAt = &now
		if err := d.persist(ctx); err != nil {
			return err
		}
		d.r.emitter.EmitExecutionStarted(ctx, e)
		d.log().Info("execution started", slog.String("run_id", e.RunID.String()))
	} else {
		d.log().Info("execution resumed", slog.String("status", string(e.Status)))
	}

	for i := range d.def.Steps {
		if r := d.hist.settled(i); r != nil {
			d.state.apply(r)
		}
	}

	if e.Status == StatusCompensating {
		return d.compensate(e.CurrentStep, errors.New(e.Error))
	}

	var (
		stepCtx context.Context
		cancel  context.CancelFunc
	)
	if e.Deadline.IsZero() {
		stepCtx, cancel = context.WithCancel(ctx)
	} else {
		stepCtx, cancel = context.WithDeadline(ctx, e.Deadline)
	}
	defer cancel()

	for i := range d.def.Steps {
		step := &d.def.Steps[i]
		if r := d.hist.settled(i); r != nil {
			d.log().Debug("step replayed", slog.String("step", step.Name), slog.String("status", string(r.Status)))
			continue
		}

		if stop, err := d.interrupted(i, step); stop {
			return err
		}

		e.CurrentStep = i
		e.CurrentStepName = step.Name
		if err := d.persist(ctx); err != nil {
			return err
		}

		failure, err := d.runStep(stepCtx, i, step)
		if err != nil {
			return err
		}
		if failure == nil {
			continue
		}
		if errors.Is(failure, saga.ErrWorkflowDeadline) {
			return d.finish(StatusTimedOut, failure)
		}
		switch step.OnFailure {
		case ContinueWithError:
			continue
		case Compensate:
			return d.compensate(i, failure)
		default:
			return d.finish(StatusFailed, failure)
		}
	}
	return d.complete()
}

// interrupted checks for cancellation and the workflow deadline between
// steps. When it returns stop, the execution has been finalized or err
// reports why it could not be.
func (d *driver) interrupted(i int, step *Step) (stop bool, err error) {
	ctx := d.leaseCtx
	fresh, err := d.r.store.GetExecution(ctx, d.exec.ID)
	if err != nil {
		return true, err
	}
	if fresh.CancelRequested {
		d.exec.CancelRequested = true
		d.log().Info("execution cancelled", slog.String("before_step", step.Name))
		if step.OnFailure == Compensate {
			return true, d.compensate(i, saga.ErrCancelled)
		}
		return true, d.finish(StatusFailed, saga.ErrCancelled)
	}
	if !d.exec.Deadline.IsZero() && !d.now().Before(d.exec.Deadline) {
		return true, d.finish(StatusTimedOut, fmt.Errorf("%w: before step %q", saga.ErrWorkflowDeadline, step.Name))
	}
	return false, nil
}

// runStep runs one forward step. failure is the step's own failure, already
// recorded; err is an infrastructure or interruption error that leaves the
// step to be resumed.
func (d *driver) runStep(stepCtx context.Context, i int, step *Step) (failure, err error) {
	e := d.exec
	rec := d.hist.inflight(i)
	if rec == nil {
		rec = &StepRecord{
			ExecutionID: e.ID,
			Index:       d.hist.nextIndex(),
			StepIndex:   i,
			Name:        step.Name,
			Kind:        step.Kind,
			Generation:  e.Generation,
			Status:      StepRunning,
			StartedAt:   d.now(),
		}
		if step.Kind == KindActivity {
			rec.IdempotencyKey = activity.IdempotencyKey(e.ID.String(), i, e.Generation)
		}
	} else {
		d.log().Info("re-running in-flight step",
			slog.String("step", step.Name),
			slog.String("idempotency_key", rec.IdempotencyKey),
		)
	}
	start := time.Now()

	if step.When != nil && !step.When(d.state) {
		now := d.now()
		rec.Status = StepSkipped
		rec.CompletedAt = &now
		if err := d.save(rec); err != nil {
			return nil, err
		}
		d.state.setSkipped(step.Name)
		d.log().Debug("step skipped", slog.String("step", step.Name))
		return nil, nil
	}

	var out json.RawMessage
	switch step.Kind {
	case KindActivity:
		if step.ForEach != nil {
			out, failure = d.fanOut(stepCtx, rec, step)
			break
		}
		req, buildErr := buildRequest(step.Request, d.state)
		if buildErr != nil {
			failure = buildErr
			break
		}
		rec.Input = req
		if err := d.save(rec); err != nil {
			return nil, err
		}
		out, failure = d.invoke(stepCtx, rec, step.Service, step.Operation, req, d.policy(step.Retry, step.Timeout))

	case KindDecision:
		if err := d.save(rec); err != nil {
			return nil, err
		}
		rec.Attempts = 1
		var v any
		v, failure = step.Decide(stepCtx, d.state)
		if failure == nil {
			out, failure = encodeResult(step.Name, v)
		}
	}

	return d.settle(stepCtx, rec, start, out, failure)
}

// settle finalizes a record. A failure caused by the lease ending is not
// recorded, so the next driver re-runs the step with the same key.
func (d *driver) settle(stepCtx context.Context, rec *StepRecord, start time.Time, out json.RawMessage, failure error) (recorded, err error) {
	if d.leaseCtx.Err() != nil {
		return nil, context.Cause(d.leaseCtx)
	}
	forward := rec.Kind != KindCompensation
	now := d.now()
	rec.CompletedAt = &now

	if failure == nil {
		rec.Status = StepCompleted
		rec.Output = out
		rec.Error = ""
		rec.ErrorKind = saga.KindNone
		if err := d.save(rec); err != nil {
			return nil, err
		}
		if forward {
			d.state.setResult(rec.Name, out)
		}
		elapsed := time.Since(start)
		d.r.emitter.EmitStepCompleted(d.leaseCtx, d.exec, rec, elapsed)
		d.log().Info("step completed",
			slog.String("step", rec.Name),
			slog.Int("attempts", rec.Attempts),
			slog.Duration("elapsed", elapsed),
		)
		return nil, nil
	}

	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		failure = fmt.Errorf("%w: step %q: %v", saga.ErrWorkflowDeadline, rec.Name, failure)
	}
	rec.Status = StepFailed
	rec.Error = failure.Error()
	rec.ErrorKind = saga.KindOf(failure)
	if err := d.save(rec); err != nil {
		return nil, err
	}
	if forward {
		d.state.setFailure(StepFailure{Step: rec.Name, Error: rec.Error, ErrorKind: rec.ErrorKind})
	}

	if errors.Is(failure, saga.ErrSecurityViolation) {
		d.log().Error("security violation",
			slog.String("step", rec.Name),
			slog.String("tenant_id", d.exec.Scope.TenantID),
			slog.String("user_id", d.exec.Scope.UserID),
			slog.String("error", rec.Error),
		)
		d.r.emitter.EmitSecurityViolation(d.leaseCtx, d.exec, rec.Name, failure)
	} else if errors.Is(failure, saga.ErrInternal) {
		d.log().Error("step failed with internal error", slog.String("step", rec.Name), slog.String("error", rec.Error))
	} else {
		d.log().Warn("step failed",
			slog.String("step", rec.Name),
			slog.String("error_kind", string(rec.ErrorKind)),
			slog.Int("attempts", rec.Attempts),
			slog.String("error", rec.Error),
		)
	}
	d.r.emitter.EmitStepFailed(d.leaseCtx, d.exec, rec, failure)
	return failure, nil
}

// invoke runs one activity call through the retry policy.
func (d *driver) invoke(ctx context.Context, rec *StepRecord, service, operation string, req json.RawMessage, p retry.Policy) (json.RawMessage, error) {
	e := d.exec
	base := rec.Attempts
	prev := p.OnRetry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		if prev != nil {
			prev(attempt, err, delay)
		}
		d.log().Warn("activity attempt failed, retrying",
			slog.String("step", rec.Name),
			slog.Int("attempt", base+attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if saveErr := d.save(rec); saveErr != nil {
			d.log().Warn("save attempt count failed", slog.String("error", saveErr.Error()))
		}
		d.r.emitter.EmitStepRetrying(d.leaseCtx, e, rec.Name, base+attempt, err, delay)
	}

	target := service + "." + operation
	return retry.Do(ctx, p, func(actx context.Context, attempt int) (json.RawMessage, error) {
		rec.Attempts = base + attempt
		inv := &activity.Invocation{
			Service:        service,
			Operation:      operation,
			Request:        req,
			Scope:          e.Scope,
			CorrelationID:  e.CorrelationID,
			Timeout:        p.AttemptTimeout,
			IdempotencyKey: rec.IdempotencyKey,
			Attempt:        base + attempt,
			ExecutionID:    e.ID.String(),
			Step:           rec.Name,
		}
		raw, err := d.r.client.Invoke(actx, inv)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(raw) {
			return nil, &activity.DecodeError{Target: target, Err: errors.New("response is not valid JSON")}
		}
		return raw, nil
	})
}

// fanOut runs a ForEach step. Every entity gets its own idempotency key
// derived from the step's key and its index.
func (d *driver) fanOut(ctx context.Context, rec *StepRecord, step *Step) (json.RawMessage, error) {
	e := d.exec
	items, err := step.ForEach.Items(d.state)
	if err != nil {
		return nil, err
	}
	reqs := make([]json.RawMessage, len(items))
	for i, it := range items {
		raw, err := json.Marshal(it)
		if err != nil {
			return nil, saga.NewValidationError(fmt.Sprintf("item %d", i), err.Error())
		}
		reqs[i] = raw
	}
	input, err := json.Marshal(reqs)
	if err != nil {
		return nil, saga.NewInternalError("encode items", err)
	}
	rec.Input = input
	if err := d.save(rec); err != nil {
		return nil, err
	}

	p := d.policy(step.Retry, step.Timeout)
	opts := step.ForEach.Options
	opts.Retry = nil
	outputs := make([]json.RawMessage, len(reqs))
	attempts := make([]int, len(reqs))

	res := batch.Run(ctx, reqs, opts, func(ctx context.Context, i int, req json.RawMessage) error {
		key := rec.IdempotencyKey + ":" + strconv.Itoa(i)
		raw, err := retry.Do(ctx, p, func(actx context.Context, attempt int) (json.RawMessage, error) {
			attempts[i] = attempt
			return d.r.client.Invoke(actx, &activity.Invocation{
				Service:        step.Service,
				Operation:      step.Operation,
				Request:        req,
				Scope:          e.Scope,
				CorrelationID:  e.CorrelationID,
				Timeout:        p.AttemptTimeout,
				IdempotencyKey: key,
				Attempt:        attempt,
				ExecutionID:    e.ID.String(),
				Step:           rec.Name,
			})
		})
		if err != nil {
			d.log().Debug("entity failed",
				slog.String("step", rec.Name),
				slog.Int("entity", i),
				slog.String("error", err.Error()),
			)
			return err
		}
		if len(raw) == 0 || !json.Valid(raw) {
			raw = json.RawMessage("null")
		}
		outputs[i] = raw
		return nil
	})

	for k := range res.Errors {
		i := res.Errors[k].Index
		res.Errors[k].Attempts = attempts[i]
		if kr, ok := items[i].(batch.Keyer); ok {
			res.Errors[k].Key = kr.BatchKey()
		} else {
			res.Errors[k].Key = string(reqs[i])
		}
	}
	rec.Attempts = 0
	for _, n := range attempts {
		rec.Attempts += n
	}
	d.log().Info("fan-out finished",
		slog.String("step", rec.Name),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Int("batches", res.Batches),
	)

	if res.Err != nil || (res.Failed > 0 && !opts.ContinueOnError) {
		return nil, &batch.FailureError{Result: &res}
	}
	return encodeResult(rec.Name, ForEachOutput{Result: res, Outputs: outputs})
}

func (d *driver) policy(override *retry.Policy, timeout time.Duration) retry.Policy {
	p := d.r.defaultRetry
	if override != nil {
		p = *override
	}
	if timeout > 0 {
		p.AttemptTimeout = timeout
	}
	return p
}

// compensate undoes completed steps before failedAt in strict reverse
// order and ends the execution rolled back, or failed if a compensation
// itself fails.
func (d *driver) compensate(failedAt int, cause error) error {
	ctx := d.leaseCtx
	e := d.exec

	if e.Status != StatusCompensating {
		if err := e.transition(StatusCompensating); err != nil {
			return err
		}
		e.CurrentStep = failedAt
		if failedAt < len(d.def.Steps) {
			e.CurrentStepName = d.def.Steps[failedAt].Name
		}
		e.Error = cause.Error()
		e.ErrorKind = saga.KindOf(cause)
		if err := d.persist(ctx); err != nil {
			return err
		}
		d.r.emitter.EmitCompensating(ctx, e, cause)
		d.log().Info("compensating", slog.String("failed_step", e.CurrentStepName), slog.String("cause", e.Error))
	}

	for i := failedAt - 1; i >= 0; i-- {
		step := &d.def.Steps[i]
		if step.Compensation == nil {
			continue
		}
		if fwd := d.hist.forward[i]; fwd == nil || fwd.Status != StepCompleted {
			continue
		}
		if done := d.hist.compensate[i]; done != nil && done.Status == StepCompleted {
			continue
		}

		failure, err := d.runCompensation(i, step)
		if err != nil {
			return err
		}
		if failure != nil {
			return d.finish(StatusFailed, fmt.Errorf("compensation of step %q failed: %w", step.Name, failure))
		}
	}

	if err := e.transition(StatusRolledBack); err != nil {
		return err
	}
	now := d.now()
	e.CompletedAt = &now
	if err := d.persist(ctx); err != nil {
		return err
	}
	d.r.emitter.EmitExecutionRolledBack(ctx, e)
	d.log().Info("execution rolled back", slog.String("cause", e.Error))
	return nil
}

func (d *driver) runCompensation(i int, step *Step) (failure, err error) {
	e := d.exec
	c := step.Compensation
	rec := d.hist.inflightCompensation(i)
	if rec == nil {
		rec = &StepRecord{
			ExecutionID:    e.ID,
			Index:          d.hist.nextIndex(),
			StepIndex:      i,
			Name:           "compensate_" + step.Name,
			Kind:           KindCompensation,
			Generation:     e.Generation,
			Status:         StepRunning,
			IdempotencyKey: activity.IdempotencyKey(e.ID.String(), i, e.Generation) + ":compensate",
			StartedAt:      d.now(),
		}
	}
	start := time.Now()

	req, buildErr := buildRequest(c.Request, d.state)
	if buildErr != nil {
		return d.settle(d.leaseCtx, rec, start, nil, buildErr)
	}
	rec.Input = req
	if err := d.save(rec); err != nil {
		return nil, err
	}
	// Compensations run past the workflow deadline; only the lease bounds them.
	out, failure := d.invoke(d.leaseCtx, rec, c.Service, c.Operation, req, d.policy(c.Retry, c.Timeout))
	return d.settle(d.leaseCtx, rec, start, out, failure)
}

func (d *driver) complete() error {
	e := d.exec
	out, err := d.output()
	if err != nil {
		return d.finish(StatusFailed, err)
	}
	if err := e.transition(StatusCompleted); err != nil {
		return err
	}
	now := d.now()
	e.Output = out
	e.CompletedAt = &now
	e.CurrentStep = len(d.def.Steps)
	e.CurrentStepName = ""
	if err := d.persist(d.leaseCtx); err != nil {
		return err
	}

	var elapsed time.Duration
	if e.StartedAt != nil {
		elapsed = now.Sub(*e.StartedAt)
	}
	d.r.emitter.EmitExecutionCompleted(d.leaseCtx, e, elapsed)
	d.log().Info("execution completed",
		slog.Duration("elapsed", elapsed),
		slog.Int("partial_failures", len(d.state.failures)),
	)
	return nil
}

func (d *driver) output() (json.RawMessage, error) {
	if d.def.Output != nil {
		v, err := d.def.Output(d.state)
		if err != nil {
			return nil, err
		}
		return encodeResult("output", v)
	}
	doc := make(map[string]any, len(d.state.results)+1)
	for name, raw := range d.state.results {
		doc[name] = raw
	}
	if f := d.state.Failures(); len(f) > 0 {
		doc["partial_failures"] = f
	}
	return encodeResult("output", doc)
}

// finish moves the execution to a terminal failure status.
func (d *driver) finish(status Status, cause error) error {
	e := d.exec
	if err := e.transition(status); err != nil {
		return err
	}
	now := d.now()
	e.Error = cause.Error()
	e.ErrorKind = saga.KindOf(cause)
	e.CompletedAt = &now
	if err := d.persist(d.leaseCtx); err != nil {
		return err
	}
	d.r.emitter.EmitExecutionFailed(d.leaseCtx, e, cause)

	level := slog.LevelWarn
	if e.ErrorKind == saga.KindInternal || e.ErrorKind == saga.KindSecurity {
		level = slog.LevelError
	}
	d.log().Log(d.leaseCtx, level, "execution "+string(status),
		slog.String("error_kind", string(e.ErrorKind)),
		slog.String("error", e.Error),
	)
	return nil
}

func (d *driver) persist(ctx context.Context) error {
	d.exec.UpdatedAt = d.now()
	if err := d.r.store.UpdateExecution(ctx, d.exec); err != nil {
		return fmt.Errorf("update execution %s: %w", d.exec.ID, err)
	}
	return nil
}

func (d *driver) save(rec *StepRecord) error {
	if err := d.r.store.SaveStep(d.leaseCtx, rec); err != nil {
		return fmt.Errorf("save step %q of %s: %w", rec.Name, d.exec.ID, err)
	}
	d.hist.append(rec)
	return nil
}

func buildRequest(fn RequestFunc, s *State) (json.RawMessage, error) {
	if fn == nil {
		return json.RawMessage("{}"), nil
	}
	v, err := fn(s)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, saga.NewValidationError("request", err.Error())
	}
	return raw, nil
}

func encodeResult(name string, v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, saga.NewInternalError("encode "+name, err)
	}
	return raw, nil
}
