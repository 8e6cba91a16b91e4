// Package stream is the live progress broker behind the websocket API. It
// receives saga lifecycle events through the ext hooks and fans them out to
// subscribers over topic-based pub/sub with credit flow control.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Execution events.
	EventExecutionSubmitted  EventType = "execution.submitted"
	EventExecutionStarted    EventType = "execution.started"
	EventExecutionCompleted  EventType = "execution.completed"
	EventExecutionFailed     EventType = "execution.failed"
	EventExecutionRolledBack EventType = "execution.rolled_back"
	EventCompensating        EventType = "execution.compensating"

	// Step events.
	EventStepCompleted     EventType = "step.completed"
	EventStepFailed        EventType = "step.failed"
	EventStepRetrying      EventType = "step.retrying"
	EventSecurityViolation EventType = "step.security_violation"

	// Fleet events.
	EventHealthIssue  EventType = "fleet.health_issue"
	EventWorkerReaped EventType = "fleet.worker_reaped"
)

// Terminal reports whether no further events follow for the execution.
func (t EventType) Terminal() bool {
	switch t {
	case EventExecutionCompleted, EventExecutionFailed, EventExecutionRolledBack:
		return true
	}
	return false
}

// Event is the envelope sent to subscribers.
type Event struct {
	// Seq increases by one per published event; gaps on a subscriber mean
	// events were dropped.
	Seq uint64 `json:"seq"`

	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`

	// Topic is the entity topic the event belongs to (execution:<id> for
	// execution and step events).
	Topic string `json:"topic"`

	// TenantID scopes delivery; subscribers bound to a tenant never see
	// another tenant's events.
	TenantID string `json:"tenant_id,omitempty"`

	Data json.RawMessage `json:"data"`
}

// ProgressData is the payload of execution and step events.
type ProgressData struct {
	ExecutionID  string  `json:"execution_id"`
	WorkflowType string  `json:"workflow_type"`
	Status       string  `json:"status"`
	CurrentStep  int     `json:"current_step"`
	TotalSteps   int     `json:"total_steps"`
	Percent      float64 `json:"percent"`
	StepName     string  `json:"step_name,omitempty"`
	Attempt      int     `json:"attempt,omitempty"`
	ElapsedMs    int64   `json:"elapsed_ms,omitempty"`
	RetryInMs    int64   `json:"retry_in_ms,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// FleetData is the payload of fleet events.
type FleetData struct {
	ExecutionID string `json:"execution_id,omitempty"`
	WorkerID    string `json:"worker_id,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Reason      string `json:"reason,omitempty"`
}
