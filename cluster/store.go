package cluster

import (
	"context"
	"time"

	"github.com/xraph/saga/id"
)

// LeaseStore persists execution leases.
type LeaseStore interface {
	// AcquireLease claims key for owner until now+ttl. It succeeds when the
	// key is free, expired, or already held by owner, and fails with
	// saga.ErrLeaseConflict while another owner holds an unexpired lease.
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error)

	// RenewLease extends owner's lease to now+ttl. It fails with
	// saga.ErrLeaseLost when the key is no longer held by owner.
	RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error)

	// ReleaseLease drops owner's lease. Releasing a lease held by someone
	// else, or no lease at all, is a no-op.
	ReleaseLease(ctx context.Context, key, owner string) error

	// GetLease returns the lease on key, expired or not, or
	// saga.ErrLeaseNotFound.
	GetLease(ctx context.Context, key string) (*Lease, error)
}

// WorkerStore persists the worker registry.
type WorkerStore interface {
	// RegisterWorker adds or replaces a worker.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker refreshes the worker's LastSeen.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns all registered workers.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers marks workers whose LastSeen is older than threshold
	// as dead and returns them. Workers already dead are not returned again.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)
}

// Store is the full cluster persistence contract.
type Store interface {
	LeaseStore
	WorkerStore
}
