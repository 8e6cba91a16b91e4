package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/scope"
	"github.com/xraph/saga/workflow"
)

// ── Execution model ───────────────────────────────────────────────

type executionModel struct {
	ID              string     `db:"id"`
	RunID           string     `db:"run_id"`
	Generation      int        `db:"generation"`
	Type            string     `db:"type"`
	Version         int        `db:"version"`
	Status          string     `db:"status"`
	Input           []byte     `db:"input"`
	Output          []byte     `db:"output"`
	Scope           string     `db:"scope"`
	TenantID        string     `db:"tenant_id"`
	CorrelationID   string     `db:"correlation_id"`
	Error           string     `db:"error"`
	ErrorKind       string     `db:"error_kind"`
	CurrentStep     int        `db:"current_step"`
	CurrentStepName string     `db:"current_step_name"`
	TotalSteps      int        `db:"total_steps"`
	CancelRequested bool       `db:"cancel_requested"`
	Deadline        time.Time  `db:"deadline"`
	CreatedAt       time.Time  `db:"created_at"`
	StartedAt       *time.Time `db:"started_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	CompletedAt     *time.Time `db:"completed_at"`
}

func toExecutionModel(e *workflow.Execution) (*executionModel, error) {
	sc, err := json.Marshal(e.Scope)
	if err != nil {
		return nil, fmt.Errorf("encode scope: %w", err)
	}
	return &executionModel{
		ID:              e.ID.String(),
		RunID:           e.RunID.String(),
		Generation:      e.Generation,
		Type:            e.Type,
		Version:         e.Version,
		Status:          string(e.Status),
		Input:           e.Input,
		Output:          e.Output,
		Scope:           string(sc),
		TenantID:        e.Scope.TenantID,
		CorrelationID:   e.CorrelationID,
		Error:           e.Error,
		ErrorKind:       string(e.ErrorKind),
		CurrentStep:     e.CurrentStep,
		CurrentStepName: e.CurrentStepName,
		TotalSteps:      e.TotalSteps,
		CancelRequested: e.CancelRequested,
		Deadline:        e.Deadline.UTC(),
		CreatedAt:       e.CreatedAt.UTC(),
		StartedAt:       utcPtr(e.StartedAt),
		UpdatedAt:       e.UpdatedAt.UTC(),
		CompletedAt:     utcPtr(e.CompletedAt),
	}, nil
}

func fromExecutionModel(m *executionModel) (*workflow.Execution, error) {
	execID, err := id.ParseExecutionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse execution id %q: %w", m.ID, err)
	}
	runID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", m.RunID, err)
	}
	var sc scope.Scope
	if m.Scope != "" {
		if err := json.Unmarshal([]byte(m.Scope), &sc); err != nil {
			return nil, fmt.Errorf("decode scope: %w", err)
		}
	}
	return &workflow.Execution{
		ID:              execID,
		RunID:           runID,
		Generation:      m.Generation,
		Type:            m.Type,
		Version:         m.Version,
		Status:          workflow.Status(m.Status),
		Input:           m.Input,
		Output:          m.Output,
		Scope:           sc,
		CorrelationID:   m.CorrelationID,
		Error:           m.Error,
		ErrorKind:       saga.ErrorKind(m.ErrorKind),
		CurrentStep:     m.CurrentStep,
		CurrentStepName: m.CurrentStepName,
		TotalSteps:      m.TotalSteps,
		CancelRequested: m.CancelRequested,
		Deadline:        m.Deadline,
		CreatedAt:       m.CreatedAt,
		StartedAt:       m.StartedAt,
		UpdatedAt:       m.UpdatedAt,
		CompletedAt:     m.CompletedAt,
	}, nil
}

// ── Step model ────────────────────────────────────────────────────

type stepModel struct {
	ExecutionID    string     `db:"execution_id"`
	Index          int        `db:"idx"`
	StepIndex      int        `db:"step_index"`
	Name           string     `db:"name"`
	Kind           string     `db:"kind"`
	Generation     int        `db:"generation"`
	Status         string     `db:"status"`
	Attempts       int        `db:"attempts"`
	Input          []byte     `db:"input"`
	Output         []byte     `db:"output"`
	Error          string     `db:"error"`
	ErrorKind      string     `db:"error_kind"`
	IdempotencyKey string     `db:"idempotency_key"`
	StartedAt      time.Time  `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
}

func toStepModel(r *workflow.StepRecord) *stepModel {
	return &stepModel{
		ExecutionID:    r.ExecutionID.String(),
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
		StartedAt:      r.StartedAt.UTC(),
		CompletedAt:    utcPtr(r.CompletedAt),
	}
}

func fromStepModel(m *stepModel, executionID id.ExecutionID) *workflow.StepRecord {
	return &workflow.StepRecord{
		ExecutionID:    executionID,
		Index:          m.Index,
		StepIndex:      m.StepIndex,
		Name:           m.Name,
		Kind:           workflow.StepKind(m.Kind),
		Generation:     m.Generation,
		Status:         workflow.StepStatus(m.Status),
		Attempts:       m.Attempts,
		Input:          m.Input,
		Output:         m.Output,
		Error:          m.Error,
		ErrorKind:      saga.ErrorKind(m.ErrorKind),
		IdempotencyKey: m.IdempotencyKey,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
	}
}

// ── Lease model ───────────────────────────────────────────────────

// Lease and worker timestamps are unix milliseconds so expiry can be
// compared in SQL.
type leaseModel struct {
	Key        string `db:"key"`
	Owner      string `db:"owner"`
	AcquiredAt int64  `db:"acquired_at"`
	ExpiresAt  int64  `db:"expires_at"`
}

func fromLeaseModel(m *leaseModel) *cluster.Lease {
	return &cluster.Lease{
		Key:        m.Key,
		Owner:      m.Owner,
		AcquiredAt: time.UnixMilli(m.AcquiredAt).UTC(),
		ExpiresAt:  time.UnixMilli(m.ExpiresAt).UTC(),
	}
}

// ── Worker model ──────────────────────────────────────────────────

type workerModel struct {
	ID          string  `db:"id"`
	Hostname    string  `db:"hostname"`
	Concurrency int     `db:"concurrency"`
	State       string  `db:"state"`
	LastSeen    int64   `db:"last_seen"`
	Metadata    *string `db:"metadata"`
	CreatedAt   int64   `db:"created_at"`
}

func toWorkerModel(w *cluster.Worker) (*workerModel, error) {
	m := &workerModel{
		ID:          w.ID.String(),
		Hostname:    w.Hostname,
		Concurrency: w.Concurrency,
		State:       string(w.State),
		LastSeen:    w.LastSeen.UnixMilli(),
		CreatedAt:   w.CreatedAt.UnixMilli(),
	}
	if len(w.Metadata) > 0 {
		data, err := json.Marshal(w.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		s := string(data)
		m.Metadata = &s
	}
	return m, nil
}

func fromWorkerModel(m *workerModel) (*cluster.Worker, error) {
	workerID, err := id.ParseWorkerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse worker id %q: %w", m.ID, err)
	}
	w := &cluster.Worker{
		ID:          workerID,
		Hostname:    m.Hostname,
		Concurrency: m.Concurrency,
		State:       cluster.WorkerState(m.State),
		LastSeen:    time.UnixMilli(m.LastSeen).UTC(),
		CreatedAt:   time.UnixMilli(m.CreatedAt).UTC(),
	}
	if m.Metadata != nil {
		if err := json.Unmarshal([]byte(*m.Metadata), &w.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return w, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
