package redis

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/saga"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/scope"
	"github.com/xraph/saga/workflow"
)

// executionRecord is the msgpack form of a workflow.Execution. The cancel
// flag is stored beside it, not inside it.
type executionRecord struct {
	ID              string      `msgpack:"id"`
	RunID           string      `msgpack:"run_id"`
	Generation      int         `msgpack:"generation"`
	Type            string      `msgpack:"type"`
	Version         int         `msgpack:"version"`
	Status          string      `msgpack:"status"`
	Input           []byte      `msgpack:"input,omitempty"`
	Output          []byte      `msgpack:"output,omitempty"`
	Scope           scopeRecord `msgpack:"scope"`
	CorrelationID   string      `msgpack:"correlation_id,omitempty"`
	Error           string      `msgpack:"error,omitempty"`
	ErrorKind       string      `msgpack:"error_kind,omitempty"`
	CurrentStep     int         `msgpack:"current_step"`
	CurrentStepName string      `msgpack:"current_step_name,omitempty"`
	TotalSteps      int         `msgpack:"total_steps"`
	Deadline        time.Time   `msgpack:"deadline"`
	CreatedAt       time.Time   `msgpack:"created_at"`
	StartedAt       *time.Time  `msgpack:"started_at,omitempty"`
	UpdatedAt       time.Time   `msgpack:"updated_at"`
	CompletedAt     *time.Time  `msgpack:"completed_at,omitempty"`
}

type scopeRecord struct {
	TenantID      string `msgpack:"tenant_id,omitempty"`
	UserID        string `msgpack:"user_id,omitempty"`
	SessionID     string `msgpack:"session_id,omitempty"`
	CorrelationID string `msgpack:"correlation_id,omitempty"`
}

func encodeExecution(e *workflow.Execution) ([]byte, error) {
	return msgpack.Marshal(&executionRecord{
		ID:         e.ID.String(),
		RunID:      e.RunID.String(),
		Generation: e.Generation,
		Type:       e.Type,
		Version:    e.Version,
		Status:     string(e.Status),
		Input:      e.Input,
		Output:     e.Output,
		Scope: scopeRecord{
			TenantID:      e.Scope.TenantID,
			UserID:        e.Scope.UserID,
			SessionID:     e.Scope.SessionID,
			CorrelationID: e.Scope.CorrelationID,
		},
		CorrelationID:   e.CorrelationID,
		Error:           e.Error,
		ErrorKind:       string(e.ErrorKind),
		CurrentStep:     e.CurrentStep,
		CurrentStepName: e.CurrentStepName,
		TotalSteps:      e.TotalSteps,
		Deadline:        e.Deadline,
		CreatedAt:       e.CreatedAt,
		StartedAt:       e.StartedAt,
		UpdatedAt:       e.UpdatedAt,
		CompletedAt:     e.CompletedAt,
	})
}

func decodeExecution(data []byte, cancel string) (*workflow.Execution, error) {
	var r executionRecord
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode execution: %w", err)
	}
	execID, err := id.ParseExecutionID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse execution id %q: %w", r.ID, err)
	}
	runID, err := id.ParseRunID(r.RunID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", r.RunID, err)
	}
	return &workflow.Execution{
		ID:         execID,
		RunID:      runID,
		Generation: r.Generation,
		Type:       r.Type,
		Version:    r.Version,
		Status:     workflow.Status(r.Status),
		Input:      r.Input,
		Output:     r.Output,
		Scope: scope.Scope{
			TenantID:      r.Scope.TenantID,
			UserID:        r.Scope.UserID,
			SessionID:     r.Scope.SessionID,
			CorrelationID: r.Scope.CorrelationID,
		},
		CorrelationID:   r.CorrelationID,
		Error:           r.Error,
		ErrorKind:       saga.ErrorKind(r.ErrorKind),
		CurrentStep:     r.CurrentStep,
		CurrentStepName: r.CurrentStepName,
		TotalSteps:      r.TotalSteps,
		CancelRequested: cancel == "1",
		Deadline:        r.Deadline.UTC(),
		CreatedAt:       r.CreatedAt.UTC(),
		StartedAt:       utcPtr(r.StartedAt),
		UpdatedAt:       r.UpdatedAt.UTC(),
		CompletedAt:     utcPtr(r.CompletedAt),
	}, nil
}

type stepRecord struct {
	Index          int        `msgpack:"idx"`
	StepIndex      int        `msgpack:"step_index"`
	Name           string     `msgpack:"name"`
	Kind           string     `msgpack:"kind"`
	Generation     int        `msgpack:"generation"`
	Status         string     `msgpack:"status"`
	Attempts       int        `msgpack:"attempts"`
	Input          []byte     `msgpack:"input,omitempty"`
	Output         []byte     `msgpack:"output,omitempty"`
	Error          string     `msgpack:"error,omitempty"`
	ErrorKind      string     `msgpack:"error_kind,omitempty"`
	IdempotencyKey string     `msgpack:"idempotency_key,omitempty"`
	StartedAt      time.Time  `msgpack:"started_at"`
	CompletedAt    *time.Time `msgpack:"completed_at,omitempty"`
}

func encodeStep(r *workflow.StepRecord) ([]byte, error) {
	return msgpack.Marshal(&stepRecord{
		Index:          r.Index,
		StepIndex:      r.StepIndex,
		Name:           r.Name,
		Kind:           string(r.Kind),
		Generation:     r.Generation,
		Status:         string(r.Status),
		Attempts:       r.Attempts,
		Input:          r.Input,
		Output:         r.Output,
		Error:          r.Error,
		ErrorKind:      string(r.ErrorKind),
		IdempotencyKey: r.IdempotencyKey,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	})
}

func decodeStep(data []byte, executionID id.ExecutionID) (*workflow.StepRecord, error) {
	var r stepRecord
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode step: %w", err)
	}
	return &workflow.StepRecord{
		ExecutionID:    executionID,
		Index:          r.Index,
		StepIndex:      r.StepIndex,
		Name:           r.Name,
		Kind:           workflow.StepKind(r.Kind),
		Generation:     r.Generation,
		Status:         workflow.StepStatus(r.Status),
		Attempts:       r.Attempts,
		Input:          r.Input,
		Output:         r.Output,
		Error:          r.Error,
		ErrorKind:      saga.ErrorKind(r.ErrorKind),
		IdempotencyKey: r.IdempotencyKey,
		StartedAt:      r.StartedAt.UTC(),
		CompletedAt:    utcPtr(r.CompletedAt),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
