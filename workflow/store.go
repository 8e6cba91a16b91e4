package workflow

import (
	"context"
	"time"

	"github.com/xraph/saga/id"
)

// ListOpts filters execution list queries.
type ListOpts struct {
	// Statuses filters by status. Empty means all.
	Statuses []Status
	// Type filters by workflow type. Empty means all.
	Type string
	// TenantID filters by scope tenant. Empty means all.
	TenantID string
	// CreatedAfter and CreatedBefore bound CreatedAt. Zero means unbounded.
	CreatedAfter  time.Time
	CreatedBefore time.Time
	// Limit is the maximum number of results. Zero means no limit.
	Limit int
	// Offset skips that many results.
	Offset int
}

// Matches reports whether e satisfies the filters, ignoring paging.
func (o ListOpts) Matches(e *Execution) bool {
	if len(o.Statuses) > 0 {
		ok := false
		for _, s := range o.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if o.Type != "" && e.Type != o.Type {
		return false
	}
	if o.TenantID != "" && e.Scope.TenantID != o.TenantID {
		return false
	}
	if !o.CreatedAfter.IsZero() && e.CreatedAt.Before(o.CreatedAfter) {
		return false
	}
	if !o.CreatedBefore.IsZero() && !e.CreatedAt.Before(o.CreatedBefore) {
		return false
	}
	return true
}

// Store is the persistence contract for executions and step records.
type Store interface {
	// CreateExecution persists a new execution or fails with
	// saga.ErrExecutionExists.
	CreateExecution(ctx context.Context, e *Execution) error

	// GetExecution returns the execution or saga.ErrExecutionNotFound.
	GetExecution(ctx context.Context, executionID id.ExecutionID) (*Execution, error)

	// UpdateExecution persists every field of e except CancelRequested,
	// which only SetCancelRequested writes.
	UpdateExecution(ctx context.Context, e *Execution) error

	// SetCancelRequested sets or clears the cancellation flag.
	SetCancelRequested(ctx context.Context, executionID id.ExecutionID, requested bool) error

	// ListExecutions returns matching executions, oldest first.
	ListExecutions(ctx context.Context, opts ListOpts) ([]*Execution, error)

	// SaveStep inserts or replaces the record at (ExecutionID, Index).
	SaveStep(ctx context.Context, r *StepRecord) error

	// ListSteps returns every record of the execution ordered by Index.
	ListSteps(ctx context.Context, executionID id.ExecutionID) ([]*StepRecord, error)
}
