package workflow

import (
	"encoding/json"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/scope"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
	StatusRolledBack   Status = "rolled_back"
	StatusTimedOut     Status = "timed_out"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusRunning, StatusCompensating,
	StatusCompleted, StatusFailed, StatusRolledBack, StatusTimedOut,
}

var transitions = map[Status][]Status{
	StatusPending:      {StatusRunning},
	StatusRunning:      {StatusCompleted, StatusFailed, StatusTimedOut, StatusCompensating},
	StatusCompensating: {StatusRolledBack, StatusFailed},
}

// CanTransitionTo reports whether the state machine allows s → next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack, StatusTimedOut:
		return true
	}
	return false
}

// IsActive reports whether a driver may still advance the execution.
func (s Status) IsActive() bool { return !s.IsTerminal() }

// Execution is one instance of a workflow.
type Execution struct {
	ID    id.ExecutionID `json:"id"`
	RunID id.RunID       `json:"run_id"`

	// Generation counts operator retries. It is part of every idempotency
	// key so a retried execution may repeat side effects on purpose.
	Generation int `json:"generation"`

	Type    string `json:"type"`
	Version int    `json:"version"`
	Status  Status `json:"status"`

	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`

	Scope         scope.Scope `json:"scope"`
	CorrelationID string      `json:"correlation_id,omitempty"`

	Error     string         `json:"error,omitempty"`
	ErrorKind saga.ErrorKind `json:"error_kind,omitempty"`

	// CurrentStep is the index of the step being run, or the step whose
	// failure triggered compensation.
	CurrentStep     int    `json:"current_step"`
	CurrentStepName string `json:"current_step_name,omitempty"`
	TotalSteps      int    `json:"total_steps"`

	// CancelRequested is set by Runner.Cancel and read between steps.
	CancelRequested bool `json:"cancel_requested"`

	Deadline    time.Time  `json:"deadline"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// transition moves e to next if the state machine allows it.
func (e *Execution) transition(next Status) error {
	if !e.Status.CanTransitionTo(next) {
		return saga.NewInternalError("transition",
			&transitionError{from: e.Status, to: next})
	}
	e.Status = next
	return nil
}

type transitionError struct{ from, to Status }

func (e *transitionError) Error() string {
	return "illegal transition " + string(e.from) + " → " + string(e.to)
}

func (e *transitionError) Unwrap() error { return saga.ErrInvalidState }

// StepStatus is the state of one step record.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepRecord is the persisted history of one step attempt sequence. Records
// are keyed by (ExecutionID, Index); an index is written when a step starts
// and finalized when it ends, and is never reused for a different step.
type StepRecord struct {
	ExecutionID id.ExecutionID `json:"execution_id"`
	Index       int            `json:"index"`

	// StepIndex is the position of the step in its Definition. For
	// compensation records it is the position of the step being undone.
	StepIndex  int      `json:"step_index"`
	Name       string   `json:"name"`
	Kind       StepKind `json:"kind"`
	Generation int      `json:"generation"`

	Status   StepStatus `json:"status"`
	Attempts int        `json:"attempts"`

	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`

	Error     string         `json:"error,omitempty"`
	ErrorKind saga.ErrorKind `json:"error_kind,omitempty"`

	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Duration returns how long the step ran, or zero while running.
func (r *StepRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Settled reports whether the record is final.
func (r *StepRecord) Settled() bool { return r.Status != StepRunning }
