package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
)

// ──────────────────────────────────────────────────
// Leases
// ──────────────────────────────────────────────────

// AcquireLease claims key for owner. The upsert only overwrites a row that
// is expired or already owned by owner; an empty result means conflict.
func (s *Store) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (*cluster.Lease, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO saga_leases (key, owner, acquired_at, expires_at)
		VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE SET
			owner = EXCLUDED.owner,
			acquired_at = CASE WHEN saga_leases.owner = EXCLUDED.owner
				THEN saga_leases.acquired_at ELSE EXCLUDED.acquired_at END,
			expires_at = EXCLUDED.expires_at
		WHERE saga_leases.owner = EXCLUDED.owner OR saga_leases.expires_at <= NOW()
		RETURNING key, owner, acquired_at, expires_at`,
		key, owner, seconds(ttl),
	)
	l, err := scanLease(row)
	if err != nil {
		if isNoRows(err) {
			return nil, saga.ErrLeaseConflict
		}
		return nil, fmt.Errorf("saga/postgres: acquire lease: %w", err)
	}
	return l, nil
}

// RenewLease extends owner's lease.
func (s *Store) RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (*cluster.Lease, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE saga_leases
		SET expires_at = NOW() + make_interval(secs => $3)
		WHERE key = $1 AND owner = $2
		RETURNING key, owner, acquired_at, expires_at`,
		key, owner, seconds(ttl),
	)
	l, err := scanLease(row)
	if err != nil {
		if isNoRows(err) {
			return nil, saga.ErrLeaseLost
		}
		return nil, fmt.Errorf("saga/postgres: renew lease: %w", err)
	}
	return l, nil
}

// ReleaseLease drops owner's lease.
func (s *Store) ReleaseLease(ctx context.Context, key, owner string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM saga_leases WHERE key = $1 AND owner = $2`,
		key, owner,
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: release lease: %w", err)
	}
	return nil
}

// GetLease returns the lease on key.
func (s *Store) GetLease(ctx context.Context, key string) (*cluster.Lease, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, owner, acquired_at, expires_at FROM saga_leases WHERE key = $1`,
		key,
	)
	l, err := scanLease(row)
	if err != nil {
		if isNoRows(err) {
			return nil, saga.ErrLeaseNotFound
		}
		return nil, fmt.Errorf("saga/postgres: get lease: %w", err)
	}
	return l, nil
}

func scanLease(row pgx.Row) (*cluster.Lease, error) {
	var l cluster.Lease
	if err := row.Scan(&l.Key, &l.Owner, &l.AcquiredAt, &l.ExpiresAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// ──────────────────────────────────────────────────
// Workers
// ──────────────────────────────────────────────────

const workerColumns = `id, hostname, concurrency, state, last_seen, metadata, created_at`

// RegisterWorker adds or replaces a worker.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO saga_workers (`+workerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata`,
		w.ID.String(), w.Hostname, w.Concurrency, string(w.State),
		w.LastSeen, w.Metadata, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM saga_workers WHERE id = $1`,
		workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return saga.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp and revives a worker
// previously reaped as dead.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE saga_workers
		SET last_seen = NOW(),
			state = CASE WHEN state = 'dead' THEN 'active' ELSE state END
		WHERE id = $1`,
		workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return saga.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM saga_workers ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: list workers: %w", err)
	}
	return collectWorkers(rows)
}

// ReapDeadWorkers marks workers whose last-seen timestamp is older than
// threshold as dead and returns them.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE saga_workers SET state = 'dead'
		WHERE last_seen < NOW() - make_interval(secs => $1) AND state <> 'dead'
		RETURNING `+workerColumns,
		seconds(threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: reap dead workers: %w", err)
	}
	return collectWorkers(rows)
}

func collectWorkers(rows pgx.Rows) ([]*cluster.Worker, error) {
	defer rows.Close()

	var workers []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("saga/postgres: scan worker row: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("saga/postgres: iterate worker rows: %w", err)
	}
	return workers, nil
}

// scanWorker scans a single worker row.
func scanWorker(row pgx.Row) (*cluster.Worker, error) {
	var (
		w        cluster.Worker
		idStr    string
		stateStr string
	)
	err := row.Scan(
		&idStr, &w.Hostname, &w.Concurrency, &stateStr,
		&w.LastSeen, &w.Metadata, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.State = cluster.WorkerState(stateStr)

	parsedID, parseErr := id.ParseWorkerID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("saga/postgres: parse worker id %q: %w", idStr, parseErr)
	}
	w.ID = parsedID
	return &w, nil
}
