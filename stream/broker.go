package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/ext"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Broker)(nil)
	_ ext.ExecutionSubmitted  = (*Broker)(nil)
	_ ext.ExecutionStarted    = (*Broker)(nil)
	_ ext.ExecutionCompleted  = (*Broker)(nil)
	_ ext.ExecutionFailed     = (*Broker)(nil)
	_ ext.ExecutionRolledBack = (*Broker)(nil)
	_ ext.Compensating        = (*Broker)(nil)
	_ ext.StepCompleted       = (*Broker)(nil)
	_ ext.StepFailed          = (*Broker)(nil)
	_ ext.StepRetrying        = (*Broker)(nil)
	_ ext.SecurityViolation   = (*Broker)(nil)
	_ ext.HealthIssueDetected = (*Broker)(nil)
	_ ext.WorkerReaped        = (*Broker)(nil)
	_ ext.Shutdown            = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker fans saga lifecycle events out to subscribers.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriber id → *Subscriber

	seq            atomic.Uint64
	totalPublished atomic.Int64

	bufferSize     int
	defaultCredits int64
	now            func() time.Time
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber on topics. An existing subscriber with
// the same id is replaced and closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	return b.SubscribeFiltered(subscriberID, "", topics...)
}

// SubscribeFiltered is Subscribe with delivery bound to one tenant. An
// empty tenantID delivers every event.
func (b *Broker) SubscribeFiltered(subscriberID, tenantID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	sub.BindTenant(tenantID)
	if prev, loaded := b.subscribers.Swap(subscriberID, sub); loaded {
		b.topics.UnsubscribeAll(subscriberID)
		prev.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to more topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from every topic and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by id.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int    `json:"topic_count"`
	SubscriberCount int    `json:"subscriber_count"`
	LastSeq         uint64 `json:"last_seq"`
	TotalDelivered  int64  `json:"total_delivered"`
	TotalDropped    int64  `json:"total_dropped"`
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	st := BrokerStats{
		TopicCount:     b.topics.TopicCount(),
		LastSeq:        b.seq.Load(),
		TotalDelivered: b.totalPublished.Load(),
	}
	b.subscribers.Range(func(_, v any) bool {
		st.SubscriberCount++
		st.TotalDropped += v.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return st
}

// Publish stamps evt with a sequence number and timestamp and delivers it.
func (b *Broker) Publish(evt *Event) {
	evt.Seq = b.seq.Add(1)
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func progress(x *workflow.Execution) ProgressData {
	p := ProgressData{
		ExecutionID:  x.ID.String(),
		WorkflowType: x.Type,
		Status:       string(x.Status),
		CurrentStep:  x.CurrentStep,
		TotalSteps:   x.TotalSteps,
		StepName:     x.CurrentStepName,
	}
	if x.TotalSteps > 0 {
		p.Percent = float64(x.CurrentStep) / float64(x.TotalSteps) * 100
	}
	if x.Status == workflow.StatusCompleted {
		p.Percent = 100
	}
	return p
}

func (b *Broker) publishExecution(typ EventType, x *workflow.Execution, data ProgressData) {
	b.Publish(&Event{
		Type:     typ,
		Topic:    ExecutionTopic(x.ID.String()),
		TenantID: x.Scope.TenantID,
		Data:     mustMarshal(data),
	})
}

// ── Execution hooks ─────────────────────────────────

func (b *Broker) OnExecutionSubmitted(_ context.Context, x *workflow.Execution) error {
	b.publishExecution(EventExecutionSubmitted, x, progress(x))
	return nil
}

func (b *Broker) OnExecutionStarted(_ context.Context, x *workflow.Execution) error {
	b.publishExecution(EventExecutionStarted, x, progress(x))
	return nil
}

func (b *Broker) OnExecutionCompleted(_ context.Context, x *workflow.Execution, elapsed time.Duration) error {
	d := progress(x)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publishExecution(EventExecutionCompleted, x, d)
	return nil
}

func (b *Broker) OnExecutionFailed(_ context.Context, x *workflow.Execution, execErr error) error {
	d := progress(x)
	d.Error = execErr.Error()
	b.publishExecution(EventExecutionFailed, x, d)
	return nil
}

func (b *Broker) OnExecutionRolledBack(_ context.Context, x *workflow.Execution) error {
	d := progress(x)
	d.Error = x.Error
	b.publishExecution(EventExecutionRolledBack, x, d)
	return nil
}

func (b *Broker) OnCompensating(_ context.Context, x *workflow.Execution, cause error) error {
	d := progress(x)
	d.Error = cause.Error()
	b.publishExecution(EventCompensating, x, d)
	return nil
}

// ── Step hooks ──────────────────────────────────────

func (b *Broker) OnStepCompleted(_ context.Context, x *workflow.Execution, r *workflow.StepRecord, elapsed time.Duration) error {
	d := progress(x)
	d.StepName = r.Name
	d.Attempt = r.Attempts
	d.ElapsedMs = elapsed.Milliseconds()
	b.publishExecution(EventStepCompleted, x, d)
	return nil
}

func (b *Broker) OnStepFailed(_ context.Context, x *workflow.Execution, r *workflow.StepRecord, stepErr error) error {
	d := progress(x)
	d.StepName = r.Name
	d.Attempt = r.Attempts
	d.Error = stepErr.Error()
	b.publishExecution(EventStepFailed, x, d)
	return nil
}

func (b *Broker) OnStepRetrying(_ context.Context, x *workflow.Execution, step string, attempt int, stepErr error, delay time.Duration) error {
	d := progress(x)
	d.StepName = step
	d.Attempt = attempt
	d.RetryInMs = delay.Milliseconds()
	d.Error = stepErr.Error()
	b.publishExecution(EventStepRetrying, x, d)
	return nil
}

func (b *Broker) OnSecurityViolation(_ context.Context, x *workflow.Execution, step string, violation error) error {
	d := progress(x)
	d.StepName = step
	d.Error = violation.Error()
	b.publishExecution(EventSecurityViolation, x, d)
	return nil
}

// ── Fleet hooks ─────────────────────────────────────

func (b *Broker) OnHealthIssue(_ context.Context, issue monitor.HealthIssue) error {
	b.Publish(&Event{
		Type: EventHealthIssue,
		Data: mustMarshal(FleetData{
			ExecutionID: issue.ExecutionID.String(),
			Severity:    string(issue.Severity),
			Reason:      issue.Reason,
		}),
	})
	return nil
}

func (b *Broker) OnWorkerReaped(_ context.Context, w *cluster.Worker) error {
	b.Publish(&Event{
		Type: EventWorkerReaped,
		Data: mustMarshal(FleetData{WorkerID: w.ID.String()}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // keys are strings
		value.(*Subscriber).Close()            //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
