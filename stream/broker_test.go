package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/scope"
	"github.com/xraph/saga/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newExecution(tenant string) *workflow.Execution {
	return &workflow.Execution{
		ID:          id.NewExecutionID(),
		Type:        "tenant_provisioning",
		Status:      workflow.StatusRunning,
		Scope:       scope.Scope{TenantID: tenant},
		CurrentStep: 2,
		TotalSteps:  4,
	}
}

func next(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func none(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected event %s on %s", evt.Type, sub.ID())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStepCompletedReachesExecutionTopic(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	x := newExecution("t-1")
	sub := b.Subscribe("ws-1", ExecutionTopic(x.ID.String()))

	r := &workflow.StepRecord{Name: "create_tenant", Attempts: 2}
	if err := b.OnStepCompleted(context.Background(), x, r, 150*time.Millisecond); err != nil {
		t.Fatalf("OnStepCompleted: %v", err)
	}

	evt := next(t, sub)
	if evt.Type != EventStepCompleted {
		t.Errorf("Type = %q, want %q", evt.Type, EventStepCompleted)
	}
	if evt.Seq != 1 {
		t.Errorf("Seq = %d, want 1", evt.Seq)
	}
	var d ProgressData
	if err := json.Unmarshal(evt.Data, &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.StepName != "create_tenant" || d.Attempt != 2 || d.ElapsedMs != 150 {
		t.Errorf("data = %+v", d)
	}
	if d.Percent != 50 {
		t.Errorf("Percent = %v, want 50", d.Percent)
	}

	// Another execution's events stay off this topic.
	_ = b.OnExecutionStarted(context.Background(), newExecution("t-1"))
	none(t, sub)
}

func TestGlobalTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	firehose := b.Subscribe("fh", TopicFirehose)
	executions := b.Subscribe("ex", TopicExecutions)
	fleet := b.Subscribe("fl", TopicFleet)

	ctx := context.Background()
	_ = b.OnExecutionCompleted(ctx, newExecution("t-1"), time.Second)
	_ = b.OnWorkerReaped(ctx, &cluster.Worker{ID: id.NewWorkerID()})

	if evt := next(t, firehose); evt.Type != EventExecutionCompleted {
		t.Errorf("firehose[0] = %q, want %q", evt.Type, EventExecutionCompleted)
	}
	if evt := next(t, firehose); evt.Type != EventWorkerReaped {
		t.Errorf("firehose[1] = %q, want %q", evt.Type, EventWorkerReaped)
	}
	if evt := next(t, executions); !evt.Type.Terminal() {
		t.Errorf("executions got %q, want terminal event", evt.Type)
	}
	none(t, executions)
	if evt := next(t, fleet); evt.Type != EventWorkerReaped {
		t.Errorf("fleet got %q", evt.Type)
	}
}

func TestTenantBoundSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.SubscribeFiltered("ws-t1", "t-1", TopicFirehose)

	ctx := context.Background()
	_ = b.OnExecutionFailed(ctx, newExecution("t-2"), errors.New("boom"))
	_ = b.OnHealthIssue(ctx, monitor.HealthIssue{ExecutionID: id.NewExecutionID(), Severity: monitor.SeverityWarning})
	none(t, sub)

	_ = b.OnExecutionFailed(ctx, newExecution("t-1"), errors.New("boom"))
	if evt := next(t, sub); evt.TenantID != "t-1" {
		t.Errorf("TenantID = %q, want t-1", evt.TenantID)
	}
}

func TestTenantTopic(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("tenant-feed", TenantTopic("t-9"))

	_ = b.OnCompensating(context.Background(), newExecution("t-9"), errors.New("step failed"))
	evt := next(t, sub)
	if evt.Type != EventCompensating {
		t.Errorf("Type = %q, want %q", evt.Type, EventCompensating)
	}
}

func TestRemoveSubscriberClosesChannel(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub-rm", TopicFirehose)
	b.RemoveSubscriber("sub-rm")

	_ = b.OnExecutionSubmitted(context.Background(), newExecution("t-1"))

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after RemoveSubscriber")
	}
	if b.Topics().TopicCount() != 0 {
		t.Errorf("TopicCount = %d, want 0", b.Topics().TopicCount())
	}
}

func TestResubscribeReplacesPrevious(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	first := b.Subscribe("dup", TopicFirehose)
	second := b.Subscribe("dup", TopicFleet)

	if _, ok := <-first.C(); ok {
		t.Fatal("first subscriber should be closed")
	}
	if got := b.Topics().SubscriberCount(TopicFirehose); got != 0 {
		t.Errorf("firehose subscribers = %d, want 0", got)
	}
	_ = b.OnWorkerReaped(context.Background(), &cluster.Worker{ID: id.NewWorkerID()})
	next(t, second)
}

func TestShutdownClosesAll(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	s1 := b.Subscribe("s1", TopicFirehose)
	s2 := b.Subscribe("s2", TopicSteps)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}
	for _, s := range []*Subscriber{s1, s2} {
		if _, ok := <-s.C(); ok {
			t.Errorf("%s still open", s.ID())
		}
	}
	if st := b.Stats(); st.SubscriberCount != 0 {
		t.Errorf("SubscriberCount = %d, want 0", st.SubscriberCount)
	}
}

func TestSubscriberCredits(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("credit-sub", 10, 2)
	evt := &Event{Type: EventStepCompleted, Data: json.RawMessage(`{}`)}

	if !sub.send(evt) || !sub.send(evt) {
		t.Fatal("first two sends should succeed")
	}
	if sub.send(evt) {
		t.Fatal("third send should fail (no credits)")
	}
	if sub.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", sub.Dropped())
	}

	sub.AddCredits(5)
	if sub.Credits() != 5 {
		t.Errorf("Credits = %d, want 5", sub.Credits())
	}
	if !sub.send(evt) {
		t.Fatal("send after credit replenishment should succeed")
	}
}

func TestSubscriberFullBufferRestoresCredit(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("tiny", 1, 10)
	evt := &Event{Type: EventStepFailed}

	if !sub.send(evt) {
		t.Fatal("first send should succeed")
	}
	if sub.send(evt) {
		t.Fatal("second send should fail (buffer full)")
	}
	if sub.Credits() != 9 {
		t.Errorf("Credits = %d, want 9", sub.Credits())
	}
}

func TestSubscriberFilter(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("filter-sub", 10, 100)
	sub.SetFilter(func(e *Event) bool { return e.Type.Terminal() })

	if sub.send(&Event{Type: EventStepCompleted}) {
		t.Fatal("step event should be filtered out")
	}
	if !sub.send(&Event{Type: EventExecutionRolledBack}) {
		t.Fatal("rolled_back event should pass filter")
	}
	if sub.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0 (filtered is not dropped)", sub.Dropped())
	}
}

func TestSendAfterCloseIsSafe(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("closed", 4, 100)
	sub.Close()
	sub.Close()
	if sub.send(&Event{Type: EventStepCompleted}) {
		t.Fatal("send on closed subscriber should fail")
	}
}

func TestTopicValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic string
		valid bool
	}{
		{TopicExecutions, true},
		{TopicSteps, true},
		{TopicFleet, true},
		{TopicFirehose, true},
		{"execution:exec_123", true},
		{"tenant:t-1", true},
		{"job:123", false},
		{"execution:", false},
		{"invalid", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopic(tt.topic)
			if tt.valid && err != nil {
				t.Errorf("ValidateTopic(%q) = %v, want nil", tt.topic, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateTopic(%q) = nil, want error", tt.topic)
			}
		})
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("dedup-sub", 10, 100)
	tr.Subscribe("topic-x", sub)
	tr.Subscribe("topic-y", sub)

	if delivered := tr.Broadcast([]string{"topic-x", "topic-y"}, &Event{}); delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		evt  *Event
		want []string
	}{
		{
			evt:  &Event{Type: EventExecutionStarted, Topic: "execution:e1", TenantID: "t1"},
			want: []string{TopicFirehose, TopicExecutions, "execution:e1", "tenant:t1"},
		},
		{
			evt:  &Event{Type: EventStepRetrying, Topic: "execution:e1"},
			want: []string{TopicFirehose, TopicSteps, "execution:e1"},
		},
		{
			evt:  &Event{Type: EventHealthIssue},
			want: []string{TopicFirehose, TopicFleet},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.evt.Type), func(t *testing.T) {
			got := resolveTopics(tt.evt)
			if len(got) != len(tt.want) {
				t.Fatalf("topics = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("topic[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
