package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/xraph/saga"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/workflow"
)

const executionColumns = `id, run_id, generation, type, version, status,
	input, output, scope, tenant_id, correlation_id, error, error_kind,
	current_step, current_step_name, total_steps, cancel_requested,
	deadline, created_at, started_at, updated_at, completed_at`

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	m, err := toExecutionModel(e)
	if err != nil {
		return fmt.Errorf("saga/sqlite: create execution: %w", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO saga_executions (`+executionColumns+`)
		VALUES (:id, :run_id, :generation, :type, :version, :status,
			:input, :output, :scope, :tenant_id, :correlation_id, :error, :error_kind,
			:current_step, :current_step_name, :total_steps, :cancel_requested,
			:deadline, :created_at, :started_at, :updated_at, :completed_at)`, m)
	if err != nil {
		if isDuplicateKey(err) {
			return saga.ErrExecutionExists
		}
		return fmt.Errorf("saga/sqlite: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, executionID id.ExecutionID) (*workflow.Execution, error) {
	var m executionModel
	err := s.db.GetContext(ctx, &m,
		`SELECT `+executionColumns+` FROM saga_executions WHERE id = ?`,
		executionID.String(),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, saga.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("saga/sqlite: get execution: %w", err)
	}
	e, err := fromExecutionModel(&m)
	if err != nil {
		return nil, fmt.Errorf("saga/sqlite: get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution persists every column except cancel_requested.
func (s *Store) UpdateExecution(ctx context.Context, e *workflow.Execution) error {
	m, err := toExecutionModel(e)
	if err != nil {
		return fmt.Errorf("saga/sqlite: update execution: %w", err)
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE saga_executions SET
			run_id = :run_id, generation = :generation, status = :status,
			output = :output, error = :error, error_kind = :error_kind,
			current_step = :current_step, current_step_name = :current_step_name,
			deadline = :deadline, started_at = :started_at,
			updated_at = :updated_at, completed_at = :completed_at
		WHERE id = :id`, m)
	if err != nil {
		return fmt.Errorf("saga/sqlite: update execution: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return saga.ErrExecutionNotFound
	}
	return nil
}

// SetCancelRequested sets or clears the cancellation flag.
func (s *Store) SetCancelRequested(ctx context.Context, executionID id.ExecutionID, requested bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE saga_executions SET cancel_requested = ? WHERE id = ?`,
		requested, executionID.String(),
	)
	if err != nil {
		return fmt.Errorf("saga/sqlite: set cancel requested: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return saga.ErrExecutionNotFound
	}
	return nil
}

// ListExecutions returns matching executions, oldest first.
func (s *Store) ListExecutions(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Execution, error) {
	var (
		where []string
		args  []any
	)
	if len(opts.Statuses) > 0 {
		marks := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, opts.TenantID)
	}
	if !opts.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, opts.CreatedAfter.UTC())
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, opts.CreatedBefore.UTC())
	}

	q := `SELECT ` + executionColumns + ` FROM saga_executions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	var models []executionModel
	if err := s.db.SelectContext(ctx, &models, q, args...); err != nil {
		return nil, fmt.Errorf("saga/sqlite: list executions: %w", err)
	}
	execs := make([]*workflow.Execution, 0, len(models))
	for i := range models {
		e, err := fromExecutionModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("saga/sqlite: list executions convert: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, nil
}

// SaveStep inserts or replaces the record at (execution_id, idx).
func (s *Store) SaveStep(ctx context.Context, r *workflow.StepRecord) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO saga_steps (execution_id, idx, step_index, name, kind, generation,
			status, attempts, input, output, error, error_kind, idempotency_key,
			started_at, completed_at)
		VALUES (:execution_id, :idx, :step_index, :name, :kind, :generation,
			:status, :attempts, :input, :output, :error, :error_kind, :idempotency_key,
			:started_at, :completed_at)
		ON CONFLICT (execution_id, idx) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			input = excluded.input,
			output = excluded.output,
			error = excluded.error,
			error_kind = excluded.error_kind,
			completed_at = excluded.completed_at`, toStepModel(r))
	if err != nil {
		if isForeignKey(err) {
			return saga.ErrExecutionNotFound
		}
		return fmt.Errorf("saga/sqlite: save step: %w", err)
	}
	return nil
}

// ListSteps returns the execution's records ordered by idx.
func (s *Store) ListSteps(ctx context.Context, executionID id.ExecutionID) ([]*workflow.StepRecord, error) {
	var models []stepModel
	err := s.db.SelectContext(ctx, &models, `
		SELECT execution_id, idx, step_index, name, kind, generation,
			status, attempts, input, output, error, error_kind, idempotency_key,
			started_at, completed_at
		FROM saga_steps WHERE execution_id = ? ORDER BY idx ASC`,
		executionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("saga/sqlite: list steps: %w", err)
	}
	records := make([]*workflow.StepRecord, 0, len(models))
	for i := range models {
		records = append(records, fromStepModel(&models[i], executionID))
	}
	return records, nil
}
