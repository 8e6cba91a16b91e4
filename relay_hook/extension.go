package relayhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

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

// Extension publishes saga lifecycle events through a watermill publisher.
type Extension struct {
	publisher message.Publisher
	topic     string                 // "" = one topic per event type
	enabled   map[string]bool        // nil = all enabled
	payloads  map[string]PayloadFunc // custom payload builders
	logger    *slog.Logger
}

// New creates an Extension that publishes through p.
func New(p message.Publisher, opts ...Option) *Extension {
	h := &Extension{publisher: p, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "relay-hook" }

// ── Execution hooks ─────────────────────────────────

// OnExecutionSubmitted implements ext.ExecutionSubmitted.
func (h *Extension) OnExecutionSubmitted(ctx context.Context, x *workflow.Execution) error {
	return h.send(ctx, EventExecutionSubmitted, x, newExecutionPayload(x))
}

// OnExecutionStarted implements ext.ExecutionStarted.
func (h *Extension) OnExecutionStarted(ctx context.Context, x *workflow.Execution) error {
	return h.send(ctx, EventExecutionStarted, x, newExecutionPayload(x))
}

// OnExecutionCompleted implements ext.ExecutionCompleted.
func (h *Extension) OnExecutionCompleted(ctx context.Context, x *workflow.Execution, elapsed time.Duration) error {
	p := newExecutionPayload(x)
	p.ElapsedMs = elapsed.Milliseconds()
	p.Output = x.Output
	return h.send(ctx, EventExecutionCompleted, x, p)
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (h *Extension) OnExecutionFailed(ctx context.Context, x *workflow.Execution, execErr error) error {
	p := newExecutionPayload(x)
	p.Error = execErr.Error()
	return h.send(ctx, EventExecutionFailed, x, p)
}

// OnExecutionRolledBack implements ext.ExecutionRolledBack.
func (h *Extension) OnExecutionRolledBack(ctx context.Context, x *workflow.Execution) error {
	return h.send(ctx, EventExecutionRolledBack, x, newExecutionPayload(x))
}

// OnCompensating implements ext.Compensating.
func (h *Extension) OnCompensating(ctx context.Context, x *workflow.Execution, cause error) error {
	p := newExecutionPayload(x)
	p.Error = cause.Error()
	return h.send(ctx, EventCompensating, x, p)
}

// ── Step hooks ──────────────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (h *Extension) OnStepCompleted(ctx context.Context, x *workflow.Execution, r *workflow.StepRecord, elapsed time.Duration) error {
	return h.send(ctx, EventStepCompleted, x, &stepPayload{
		executionPayload: *newExecutionPayload(x),
		StepName:         r.Name,
		StepIndex:        r.StepIndex,
		Attempts:         r.Attempts,
		StepElapsedMs:    elapsed.Milliseconds(),
	})
}

// OnStepFailed implements ext.StepFailed.
func (h *Extension) OnStepFailed(ctx context.Context, x *workflow.Execution, r *workflow.StepRecord, stepErr error) error {
	return h.send(ctx, EventStepFailed, x, &stepPayload{
		executionPayload: *newExecutionPayload(x),
		StepName:         r.Name,
		StepIndex:        r.StepIndex,
		Attempts:         r.Attempts,
		StepError:        stepErr.Error(),
	})
}

// OnStepRetrying implements ext.StepRetrying.
func (h *Extension) OnStepRetrying(ctx context.Context, x *workflow.Execution, step string, attempt int, stepErr error, delay time.Duration) error {
	return h.send(ctx, EventStepRetrying, x, &stepPayload{
		executionPayload: *newExecutionPayload(x),
		StepName:         step,
		Attempts:         attempt,
		StepError:        stepErr.Error(),
		RetryInMs:        delay.Milliseconds(),
	})
}

// OnSecurityViolation implements ext.SecurityViolation.
func (h *Extension) OnSecurityViolation(ctx context.Context, x *workflow.Execution, step string, violation error) error {
	return h.send(ctx, EventSecurityViolation, x, &stepPayload{
		executionPayload: *newExecutionPayload(x),
		StepName:         step,
		StepError:        violation.Error(),
	})
}

// ── Fleet hooks ─────────────────────────────────────

// OnHealthIssue implements ext.HealthIssueDetected.
func (h *Extension) OnHealthIssue(ctx context.Context, issue monitor.HealthIssue) error {
	return h.send(ctx, EventHealthIssue, nil, &issue)
}

// OnWorkerReaped implements ext.WorkerReaped.
func (h *Extension) OnWorkerReaped(ctx context.Context, w *cluster.Worker) error {
	return h.send(ctx, EventWorkerReaped, nil, &workerPayload{
		WorkerID: w.ID.String(),
		Hostname: w.Hostname,
		LastSeen: w.LastSeen,
	})
}

// ── Internal helpers ────────────────────────────────

func (h *Extension) topicFor(eventType string) string {
	if h.topic != "" {
		return h.topic
	}
	return eventType
}

// send publishes an event if its type is enabled. Publish failures are
// returned so the registry logs them against this extension.
func (h *Extension) send(ctx context.Context, eventType string, x *workflow.Execution, defaultData any) error {
	if h.enabled != nil && !h.enabled[eventType] {
		return nil
	}

	data := defaultData
	if fn, ok := h.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("relay_hook: encode %s: %w", eventType, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", eventType)
	msg.Metadata.Set("timestamp", time.Now().UTC().Format(time.RFC3339Nano))
	if x != nil {
		msg.Metadata.Set("execution_id", x.ID.String())
		msg.Metadata.Set("tenant_id", x.Scope.TenantID)
		msg.Metadata.Set("correlation_id", x.CorrelationID)
	}

	if err := h.publisher.Publish(h.topicFor(eventType), msg); err != nil {
		h.logger.Warn("relay_hook: publish failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("relay_hook: publish %s: %w", eventType, err)
	}
	return nil
}

// ── Default payload types ───────────────────────────

type executionPayload struct {
	ExecutionID   string          `json:"execution_id"`
	RunID         string          `json:"run_id"`
	WorkflowType  string          `json:"workflow_type"`
	Version       int             `json:"version"`
	Status        string          `json:"status"`
	TenantID      string          `json:"tenant_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CurrentStep   int             `json:"current_step"`
	TotalSteps    int             `json:"total_steps"`
	ElapsedMs     int64           `json:"elapsed_ms,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func newExecutionPayload(x *workflow.Execution) *executionPayload {
	return &executionPayload{
		ExecutionID:   x.ID.String(),
		RunID:         x.RunID.String(),
		WorkflowType:  x.Type,
		Version:       x.Version,
		Status:        string(x.Status),
		TenantID:      x.Scope.TenantID,
		UserID:        x.Scope.UserID,
		CorrelationID: x.CorrelationID,
		CurrentStep:   x.CurrentStep,
		TotalSteps:    x.TotalSteps,
	}
}

type stepPayload struct {
	executionPayload
	StepName      string `json:"step_name"`
	StepIndex     int    `json:"step_index,omitempty"`
	Attempts      int    `json:"attempts,omitempty"`
	StepElapsedMs int64  `json:"step_elapsed_ms,omitempty"`
	StepError     string `json:"step_error,omitempty"`
	RetryInMs     int64  `json:"retry_in_ms,omitempty"`
}

type workerPayload struct {
	WorkerID string    `json:"worker_id"`
	Hostname string    `json:"hostname"`
	LastSeen time.Time `json:"last_seen"`
}
