package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
)

// ── Leases ────────────────────────────────────────────────────────

// AcquireLease claims key for owner. The upsert only overwrites a row that
// is expired or already owned by owner.
func (s *Store) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (*cluster.Lease, error) {
	now := time.Now().UTC()
	var m leaseModel
	err := s.db.GetContext(ctx, &m, `
		INSERT INTO saga_leases (key, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = CASE WHEN saga_leases.owner = excluded.owner
				THEN saga_leases.acquired_at ELSE excluded.acquired_at END,
			expires_at = excluded.expires_at
		WHERE saga_leases.owner = excluded.owner OR saga_leases.expires_at <= excluded.acquired_at
		RETURNING key, owner, acquired_at, expires_at`,
		key, owner, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, saga.ErrLeaseConflict
		}
		return nil, fmt.Errorf("saga/sqlite: acquire lease: %w", err)
	}
	return fromLeaseModel(&m), nil
}

// RenewLease extends owner's lease.
func (s *Store) RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (*cluster.Lease, error) {
	var m leaseModel
	err := s.db.GetContext(ctx, &m, `
		UPDATE saga_leases SET expires_at = ?
		WHERE key = ? AND owner = ?
		RETURNING key, owner, acquired_at, expires_at`,
		time.Now().UTC().Add(ttl).UnixMilli(), key, owner,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, saga.ErrLeaseLost
		}
		return nil, fmt.Errorf("saga/sqlite: renew lease: %w", err)
	}
	return fromLeaseModel(&m), nil
}

// ReleaseLease drops owner's lease.
func (s *Store) ReleaseLease(ctx context.Context, key, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM saga_leases WHERE key = ? AND owner = ?`, key, owner)
	if err != nil {
		return fmt.Errorf("saga/sqlite: release lease: %w", err)
	}
	return nil
}

// GetLease returns the lease on key.
func (s *Store) GetLease(ctx context.Context, key string) (*cluster.Lease, error) {
	var m leaseModel
	err := s.db.GetContext(ctx, &m,
		`SELECT key, owner, acquired_at, expires_at FROM saga_leases WHERE key = ?`, key)
	if err != nil {
		if isNoRows(err) {
			return nil, saga.ErrLeaseNotFound
		}
		return nil, fmt.Errorf("saga/sqlite: get lease: %w", err)
	}
	return fromLeaseModel(&m), nil
}

// ── Workers ───────────────────────────────────────────────────────

const workerColumns = `id, hostname, concurrency, state, last_seen, metadata, created_at`

// RegisterWorker adds a worker, replacing an existing registration.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	m, err := toWorkerModel(w)
	if err != nil {
		return fmt.Errorf("saga/sqlite: register worker: %w", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO saga_workers (`+workerColumns+`)
		VALUES (:id, :hostname, :concurrency, :state, :last_seen, :metadata, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			hostname = excluded.hostname,
			concurrency = excluded.concurrency,
			state = excluded.state,
			last_seen = excluded.last_seen,
			metadata = excluded.metadata`, m)
	if err != nil {
		return fmt.Errorf("saga/sqlite: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saga_workers WHERE id = ?`, workerID.String())
	if err != nil {
		return fmt.Errorf("saga/sqlite: deregister worker: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return saga.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE saga_workers
		SET last_seen = ?, state = CASE WHEN state = 'dead' THEN 'active' ELSE state END
		WHERE id = ?`,
		time.Now().UTC().UnixMilli(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("saga/sqlite: heartbeat worker: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return saga.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	var models []workerModel
	err := s.db.SelectContext(ctx, &models,
		`SELECT `+workerColumns+` FROM saga_workers ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("saga/sqlite: list workers: %w", err)
	}
	return convertWorkers(models)
}

// ReapDeadWorkers marks workers silent for longer than threshold as dead
// and returns them.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	var models []workerModel
	err := s.db.SelectContext(ctx, &models, `
		UPDATE saga_workers SET state = 'dead'
		WHERE last_seen < ? AND state <> 'dead'
		RETURNING `+workerColumns,
		time.Now().UTC().Add(-threshold).UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("saga/sqlite: reap dead workers: %w", err)
	}
	return convertWorkers(models)
}

func convertWorkers(models []workerModel) ([]*cluster.Worker, error) {
	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, err := fromWorkerModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("saga/sqlite: convert worker: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, nil
}
