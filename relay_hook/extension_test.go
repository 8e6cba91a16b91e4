package relayhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/ext"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/monitor"
	rh "github.com/xraph/saga/relay_hook"
	"github.com/xraph/saga/scope"
	"github.com/xraph/saga/workflow"
)

// ── Helpers ─────────────────────────────────────────

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NewSlogLogger(discard))
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func subscribe(t *testing.T, ps *gochannel.GoChannel, topic string) <-chan *message.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := ps.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("Subscribe(%s): %v", topic, err)
	}
	return ch
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func newExecution() *workflow.Execution {
	return &workflow.Execution{
		ID:            id.NewExecutionID(),
		RunID:         id.NewRunID(),
		Type:          "user_onboarding",
		Version:       1,
		Status:        workflow.StatusCompleted,
		Scope:         scope.Scope{TenantID: "t-1", UserID: "u-1"},
		CorrelationID: "corr-1",
		TotalSteps:    6,
		CurrentStep:   6,
		Output:        json.RawMessage(`{"user_id":"u-1"}`),
	}
}

// ── Tests ───────────────────────────────────────────

func TestRelayHook_Name(t *testing.T) {
	if got := rh.New(newPubSub(t)).Name(); got != "relay-hook" {
		t.Errorf("Name() = %q, want %q", got, "relay-hook")
	}
}

func TestExecutionCompletedPublished(t *testing.T) {
	ps := newPubSub(t)
	ch := subscribe(t, ps, rh.EventExecutionCompleted)
	h := rh.New(ps, rh.WithLogger(discard))
	x := newExecution()

	if err := h.OnExecutionCompleted(context.Background(), x, 1200*time.Millisecond); err != nil {
		t.Fatalf("OnExecutionCompleted: %v", err)
	}

	msg := receive(t, ch)
	if got := msg.Metadata.Get("event_type"); got != rh.EventExecutionCompleted {
		t.Errorf("event_type = %q, want %q", got, rh.EventExecutionCompleted)
	}
	if got := msg.Metadata.Get("execution_id"); got != x.ID.String() {
		t.Errorf("execution_id = %q, want %q", got, x.ID.String())
	}
	if got := msg.Metadata.Get("tenant_id"); got != "t-1" {
		t.Errorf("tenant_id = %q, want t-1", got)
	}

	var body struct {
		ExecutionID  string          `json:"execution_id"`
		WorkflowType string          `json:"workflow_type"`
		Status       string          `json:"status"`
		ElapsedMs    int64           `json:"elapsed_ms"`
		Output       json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body.WorkflowType != "user_onboarding" || body.Status != "completed" {
		t.Errorf("payload = %+v", body)
	}
	if body.ElapsedMs != 1200 {
		t.Errorf("elapsed_ms = %d, want 1200", body.ElapsedMs)
	}
	if string(body.Output) != `{"user_id":"u-1"}` {
		t.Errorf("output = %s", body.Output)
	}
}

func TestStepFailedPayload(t *testing.T) {
	ps := newPubSub(t)
	ch := subscribe(t, ps, rh.EventStepFailed)
	h := rh.New(ps, rh.WithLogger(discard))
	x := newExecution()
	r := &workflow.StepRecord{Name: "send_welcome", StepIndex: 4, Attempts: 3}

	if err := h.OnStepFailed(context.Background(), x, r, errors.New("smtp down")); err != nil {
		t.Fatalf("OnStepFailed: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(receive(t, ch).Payload, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["step_name"] != "send_welcome" {
		t.Errorf("step_name = %v, want send_welcome", body["step_name"])
	}
	if body["attempts"] != float64(3) {
		t.Errorf("attempts = %v, want 3", body["attempts"])
	}
	if body["step_error"] != "smtp down" {
		t.Errorf("step_error = %v, want smtp down", body["step_error"])
	}
}

func TestWithEventsFiltersDisabled(t *testing.T) {
	ps := newPubSub(t)
	started := subscribe(t, ps, rh.EventExecutionStarted)
	failed := subscribe(t, ps, rh.EventExecutionFailed)
	h := rh.New(ps, rh.WithLogger(discard), rh.WithEvents(rh.EventExecutionFailed))
	ctx := context.Background()
	x := newExecution()

	if err := h.OnExecutionStarted(ctx, x); err != nil {
		t.Fatalf("OnExecutionStarted: %v", err)
	}
	if err := h.OnExecutionFailed(ctx, x, errors.New("boom")); err != nil {
		t.Fatalf("OnExecutionFailed: %v", err)
	}

	receive(t, failed)
	select {
	case msg := <-started:
		t.Errorf("unexpected started message %s", msg.UUID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWithPayloadFunc(t *testing.T) {
	ps := newPubSub(t)
	ch := subscribe(t, ps, rh.EventExecutionSubmitted)
	h := rh.New(ps, rh.WithLogger(discard), rh.WithPayloadFunc(rh.EventExecutionSubmitted, func(any) (any, error) {
		return map[string]string{"custom": "yes"}, nil
	}))

	if err := h.OnExecutionSubmitted(context.Background(), newExecution()); err != nil {
		t.Fatalf("OnExecutionSubmitted: %v", err)
	}
	if got := string(receive(t, ch).Payload); got != `{"custom":"yes"}` {
		t.Errorf("payload = %s, want {\"custom\":\"yes\"}", got)
	}
}

func TestViaRegistrySingleTopic(t *testing.T) {
	ps := newPubSub(t)
	ch := subscribe(t, ps, "saga.events")
	reg := ext.NewRegistry(discard)
	reg.Register(rh.New(ps, rh.WithLogger(discard), rh.WithTopic("saga.events")))

	ctx := context.Background()
	x := newExecution()
	r := &workflow.StepRecord{Name: "create_profile"}

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
	reg.EmitWorkerReaped(ctx, &cluster.Worker{ID: id.NewWorkerID(), Hostname: "node-a"})

	seen := map[string]bool{}
	for range rh.AllDefinitions() {
		seen[receive(t, ch).Metadata.Get("event_type")] = true
	}
	for _, def := range rh.AllDefinitions() {
		if !seen[def.Name] {
			t.Errorf("missing %s", def.Name)
		}
	}
}
