package workflow_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/backoff"
	"github.com/xraph/saga/retry"
	"github.com/xraph/saga/scope"
	"github.com/xraph/saga/store/memory"
	"github.com/xraph/saga/workflow"
)

type harness struct {
	store    *memory.Store
	local    *activity.Local
	registry *workflow.Registry
	runner   *workflow.Runner
	events   *recordingEmitter
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:    attempts,
		Backoff:        backoff.NewConstant(time.Millisecond),
		AttemptTimeout: time.Second,
		Deadline:       10 * time.Second,
	}
}

func newHarness(t *testing.T, opts ...workflow.RunnerOption) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		local:    activity.NewLocal(),
		registry: workflow.NewRegistry(),
		events:   &recordingEmitter{},
	}
	base := []workflow.RunnerOption{
		workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		workflow.WithEmitter(h.events),
		workflow.WithDefaultRetry(fastPolicy(3)),
		workflow.WithLeaseTTL(time.Second),
		workflow.WithAsyncDrive(false),
	}
	h.runner = workflow.NewRunner(h.registry, h.store, h.store, h.local, append(base, opts...)...)
	t.Cleanup(func() { _ = h.runner.Close(context.Background()) })
	return h
}

func (h *harness) register(t *testing.T, def *workflow.Definition) {
	t.Helper()
	if err := h.registry.Register(def); err != nil {
		t.Fatalf("Register(%s): %v", def.Name, err)
	}
}

func (h *harness) execute(t *testing.T, typ, input string) *workflow.Execution {
	t.Helper()
	e, err := h.runner.Execute(context.Background(), typ, []byte(input), scopeFixture())
	if err != nil {
		t.Fatalf("Execute(%s): %v", typ, err)
	}
	return e
}

func (h *harness) steps(t *testing.T, e *workflow.Execution) []*workflow.StepRecord {
	t.Helper()
	recs, err := h.store.ListSteps(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	return recs
}

func scopeFixture() scope.Scope {
	return scope.Scope{TenantID: "t-1", UserID: "u-1", SessionID: "s-1"}
}

// journal records the order of activity calls.
type journal struct {
	mu    sync.Mutex
	calls []string
	keys  map[string][]string
}

func (j *journal) handler(name string, resp any, err error) activity.LocalHandler {
	return func(_ context.Context, inv *activity.Invocation) ([]byte, error) {
		j.mu.Lock()
		j.calls = append(j.calls, name)
		if j.keys == nil {
			j.keys = make(map[string][]string)
		}
		j.keys[name] = append(j.keys[name], inv.IdempotencyKey)
		j.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}

func (j *journal) order() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

func (j *journal) count(name string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, c := range j.calls {
		if c == name {
			n++
		}
	}
	return n
}

func activityStep(name, service, op string, policy workflow.FailurePolicy) workflow.Step {
	return workflow.Step{
		Name:      name,
		Kind:      workflow.KindActivity,
		Service:   service,
		Operation: op,
		OnFailure: policy,
	}
}

// recordingEmitter captures lifecycle event names.
type recordingEmitter struct {
	workflow.NopEmitter
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) add(name string) {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
}

func (r *recordingEmitter) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == name {
			return true
		}
	}
	return false
}

func (r *recordingEmitter) EmitExecutionSubmitted(context.Context, *workflow.Execution) {
	r.add("submitted")
}

func (r *recordingEmitter) EmitExecutionStarted(context.Context, *workflow.Execution) {
	r.add("started")
}

func (r *recordingEmitter) EmitStepCompleted(context.Context, *workflow.Execution, *workflow.StepRecord, time.Duration) {
	r.add("step_completed")
}

func (r *recordingEmitter) EmitStepFailed(context.Context, *workflow.Execution, *workflow.StepRecord, error) {
	r.add("step_failed")
}

func (r *recordingEmitter) EmitStepRetrying(context.Context, *workflow.Execution, string, int, error, time.Duration) {
	r.add("step_retrying")
}

func (r *recordingEmitter) EmitCompensating(context.Context, *workflow.Execution, error) {
	r.add("compensating")
}

func (r *recordingEmitter) EmitExecutionCompleted(context.Context, *workflow.Execution, time.Duration) {
	r.add("completed")
}

func (r *recordingEmitter) EmitExecutionFailed(context.Context, *workflow.Execution, error) {
	r.add("failed")
}

func (r *recordingEmitter) EmitExecutionRolledBack(context.Context, *workflow.Execution) {
	r.add("rolled_back")
}

func (r *recordingEmitter) EmitSecurityViolation(context.Context, *workflow.Execution, string, error) {
	r.add("security_violation")
}
