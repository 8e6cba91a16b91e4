// Package worker drives executions in the background. A Pool polls the
// store for runnable executions, admits them through an optional queue
// manager and drives each one under its lease with a bounded number of
// goroutines. The pool also registers itself in the worker registry and
// heartbeats while it runs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/workflow"
)

// Runnable returns executions no live driver holds: pending ones, and
// running or compensating ones whose lease is missing or expired at now.
// Results are oldest first; limit <= 0 means no limit.
func Runnable(ctx context.Context, execs workflow.Store, leases cluster.LeaseStore, now time.Time, limit int) ([]*workflow.Execution, error) {
	active, err := execs.ListExecutions(ctx, workflow.ListOpts{
		Statuses: []workflow.Status{workflow.StatusPending, workflow.StatusRunning, workflow.StatusCompensating},
	})
	if err != nil {
		return nil, fmt.Errorf("list active executions: %w", err)
	}

	var out []*workflow.Execution
	for _, e := range active {
		if limit > 0 && len(out) >= limit {
			break
		}
		l, err := leases.GetLease(ctx, cluster.ExecutionLeaseKey(e.ID))
		switch {
		case errors.Is(err, saga.ErrLeaseNotFound):
			out = append(out, e)
		case err != nil:
			return out, fmt.Errorf("lease of %s: %w", e.ID, err)
		case l.Expired(now):
			out = append(out, e)
		}
	}
	return out, nil
}
