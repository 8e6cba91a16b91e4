package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/saga"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/workflow"
)

const executionColumns = `id, run_id, generation, type, version, status,
	input, output, scope, correlation_id, error, error_kind,
	current_step, current_step_name, total_steps, cancel_requested,
	deadline, created_at, started_at, updated_at, completed_at`

const stepColumns = `execution_id, idx, step_index, name, kind, generation,
	status, attempts, input, output, error, error_kind, idempotency_key,
	started_at, completed_at`

// ──────────────────────────────────────────────────
// Executions
// ──────────────────────────────────────────────────

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO saga_executions (`+executionColumns+`, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		e.ID.String(), e.RunID.String(), e.Generation, e.Type, e.Version, string(e.Status),
		nullJSON(e.Input), nullJSON(e.Output), e.Scope, e.CorrelationID, e.Error, string(e.ErrorKind),
		e.CurrentStep, e.CurrentStepName, e.TotalSteps, e.CancelRequested,
		e.Deadline, e.CreatedAt, e.StartedAt, e.UpdatedAt, e.CompletedAt,
		e.Scope.TenantID,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return saga.ErrExecutionExists
		}
		return fmt.Errorf("saga/postgres: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, executionID id.ExecutionID) (*workflow.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM saga_executions WHERE id = $1`,
		executionID.String(),
	)
	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, saga.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("saga/postgres: get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution persists every column except cancel_requested.
func (s *Store) UpdateExecution(ctx context.Context, e *workflow.Execution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE saga_executions SET
			run_id = $2, generation = $3, status = $4,
			output = $5, error = $6, error_kind = $7,
			current_step = $8, current_step_name = $9,
			deadline = $10, started_at = $11, updated_at = $12, completed_at = $13
		WHERE id = $1`,
		e.ID.String(), e.RunID.String(), e.Generation, string(e.Status),
		nullJSON(e.Output), e.Error, string(e.ErrorKind),
		e.CurrentStep, e.CurrentStepName,
		e.Deadline, e.StartedAt, e.UpdatedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return saga.ErrExecutionNotFound
	}
	return nil
}

// SetCancelRequested sets or clears the cancellation flag.
func (s *Store) SetCancelRequested(ctx context.Context, executionID id.ExecutionID, requested bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE saga_executions SET cancel_requested = $2 WHERE id = $1`,
		executionID.String(), requested,
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: set cancel requested: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(opts.Statuses) > 0 {
		statuses := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if opts.Type != "" {
		where = append(where, "type = "+arg(opts.Type))
	}
	if opts.TenantID != "" {
		where = append(where, "tenant_id = "+arg(opts.TenantID))
	}
	if !opts.CreatedAfter.IsZero() {
		where = append(where, "created_at >= "+arg(opts.CreatedAfter))
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "created_at < "+arg(opts.CreatedBefore))
	}

	q := `SELECT ` + executionColumns + ` FROM saga_executions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"
	if opts.Limit > 0 {
		q += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		q += " OFFSET " + arg(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: list executions: %w", err)
	}
	defer rows.Close()

	execs := make([]*workflow.Execution, 0)
	for rows.Next() {
		e, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("saga/postgres: scan execution row: %w", scanErr)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("saga/postgres: iterate execution rows: %w", err)
	}
	return execs, nil
}

func scanExecution(row pgx.Row) (*workflow.Execution, error) {
	var (
		e               workflow.Execution
		idStr, runStr   string
		status, errKind string
		input, output   []byte
	)
	err := row.Scan(
		&idStr, &runStr, &e.Generation, &e.Type, &e.Version, &status,
		&input, &output, &e.Scope, &e.CorrelationID, &e.Error, &errKind,
		&e.CurrentStep, &e.CurrentStepName, &e.TotalSteps, &e.CancelRequested,
		&e.Deadline, &e.CreatedAt, &e.StartedAt, &e.UpdatedAt, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = workflow.Status(status)
	e.ErrorKind = saga.ErrorKind(errKind)
	e.Input = input
	e.Output = output

	if e.ID, err = id.ParseExecutionID(idStr); err != nil {
		return nil, fmt.Errorf("saga/postgres: parse execution id %q: %w", idStr, err)
	}
	if e.RunID, err = id.ParseRunID(runStr); err != nil {
		return nil, fmt.Errorf("saga/postgres: parse run id %q: %w", runStr, err)
	}
	return &e, nil
}

// ──────────────────────────────────────────────────
// Step records
// ──────────────────────────────────────────────────

// SaveStep inserts or replaces the record at (execution_id, idx).
func (s *Store) SaveStep(ctx context.Context, r *workflow.StepRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO saga_steps (`+stepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (execution_id, idx) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			error_kind = EXCLUDED.error_kind,
			completed_at = EXCLUDED.completed_at`,
		r.ExecutionID.String(), r.Index, r.StepIndex, r.Name, string(r.Kind), r.Generation,
		string(r.Status), r.Attempts, nullJSON(r.Input), nullJSON(r.Output),
		r.Error, string(r.ErrorKind), r.IdempotencyKey, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return saga.ErrExecutionNotFound
		}
		return fmt.Errorf("saga/postgres: save step: %w", err)
	}
	return nil
}

// ListSteps returns the execution's records ordered by idx.
func (s *Store) ListSteps(ctx context.Context, executionID id.ExecutionID) ([]*workflow.StepRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM saga_steps WHERE execution_id = $1 ORDER BY idx ASC`,
		executionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: list steps: %w", err)
	}
	defer rows.Close()

	records := make([]*workflow.StepRecord, 0)
	for rows.Next() {
		var (
			r                     workflow.StepRecord
			execStr               string
			kind, status, errKind string
			input, output         []byte
		)
		err := rows.Scan(
			&execStr, &r.Index, &r.StepIndex, &r.Name, &kind, &r.Generation,
			&status, &r.Attempts, &input, &output, &r.Error, &errKind, &r.IdempotencyKey,
			&r.StartedAt, &r.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("saga/postgres: scan step row: %w", err)
		}
		r.ExecutionID = executionID
		r.Kind = workflow.StepKind(kind)
		r.Status = workflow.StepStatus(status)
		r.ErrorKind = saga.ErrorKind(errKind)
		r.Input = input
		r.Output = output
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("saga/postgres: iterate step rows: %w", err)
	}
	return records, nil
}
