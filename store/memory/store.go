// Package memory is an in-memory implementation of store.Store, safe for
// concurrent use. Intended for tests and the development server.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/store"
	"github.com/xraph/saga/workflow"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory store.
type Store struct {
	mu sync.RWMutex

	executions map[string]*workflow.Execution
	steps      map[string][]*workflow.StepRecord
	leases     map[string]*cluster.Lease
	workers    map[string]*cluster.Worker

	now func() time.Time
}

// Option configures the memory store.
type Option func(*Store)

// WithClock overrides the store's clock, used for lease and heartbeat
// expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		executions: make(map[string]*workflow.Execution),
		steps:      make(map[string][]*workflow.StepRecord),
		leases:     make(map[string]*cluster.Lease),
		workers:    make(map[string]*cluster.Worker),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

func copyExecution(e *workflow.Execution) *workflow.Execution {
	cp := *e
	return &cp
}

func copyStep(r *workflow.StepRecord) *workflow.StepRecord {
	cp := *r
	return &cp
}

// CreateExecution persists a new execution.
func (m *Store) CreateExecution(_ context.Context, e *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, exists := m.executions[key]; exists {
		return saga.ErrExecutionExists
	}
	m.executions[key] = copyExecution(e)
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *Store) GetExecution(_ context.Context, executionID id.ExecutionID) (*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[executionID.String()]
	if !ok {
		return nil, saga.ErrExecutionNotFound
	}
	return copyExecution(e), nil
}

// UpdateExecution replaces an execution, preserving its cancel flag.
func (m *Store) UpdateExecution(_ context.Context, e *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	existing, ok := m.executions[key]
	if !ok {
		return saga.ErrExecutionNotFound
	}
	cp := copyExecution(e)
	cp.CancelRequested = existing.CancelRequested
	m.executions[key] = cp
	return nil
}

// SetCancelRequested sets or clears the cancellation flag.
func (m *Store) SetCancelRequested(_ context.Context, executionID id.ExecutionID, requested bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[executionID.String()]
	if !ok {
		return saga.ErrExecutionNotFound
	}
	e.CancelRequested = requested
	return nil
}

// ListExecutions returns matching executions, oldest first.
func (m *Store) ListExecutions(_ context.Context, opts workflow.ListOpts) ([]*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Execution, 0, len(m.executions))
	for _, e := range m.executions {
		if opts.Matches(e) {
			result = append(result, copyExecution(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*workflow.Execution{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// SaveStep inserts or replaces the record at (ExecutionID, Index).
func (m *Store) SaveStep(_ context.Context, r *workflow.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ExecutionID.String()
	if _, ok := m.executions[key]; !ok {
		return saga.ErrExecutionNotFound
	}
	records := m.steps[key]
	for i, existing := range records {
		if existing.Index == r.Index {
			records[i] = copyStep(r)
			return nil
		}
	}
	records = append(records, copyStep(r))
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	m.steps[key] = records
	return nil
}

// ListSteps returns the execution's records ordered by Index.
func (m *Store) ListSteps(_ context.Context, executionID id.ExecutionID) ([]*workflow.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[executionID.String()]
	out := make([]*workflow.StepRecord, len(records))
	for i, r := range records {
		out[i] = copyStep(r)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Lease Store
// ──────────────────────────────────────────────────

// AcquireLease claims key for owner.
func (m *Store) AcquireLease(_ context.Context, key, owner string, ttl time.Duration) (*cluster.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[key]; ok && l.Owner != owner && !l.Expired(now) {
		return nil, saga.ErrLeaseConflict
	}
	l := &cluster.Lease{Key: key, Owner: owner, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	m.leases[key] = l
	cp := *l
	return &cp, nil
}

// RenewLease extends owner's lease.
func (m *Store) RenewLease(_ context.Context, key, owner string, ttl time.Duration) (*cluster.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[key]
	if !ok || l.Owner != owner {
		return nil, saga.ErrLeaseLost
	}
	l.ExpiresAt = m.now().Add(ttl)
	cp := *l
	return &cp, nil
}

// ReleaseLease drops owner's lease.
func (m *Store) ReleaseLease(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.leases[key]; ok && l.Owner == owner {
		delete(m.leases, key)
	}
	return nil
}

// GetLease returns the lease on key.
func (m *Store) GetLease(_ context.Context, key string) (*cluster.Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.leases[key]
	if !ok {
		return nil, saga.ErrLeaseNotFound
	}
	cp := *l
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Worker Store
// ──────────────────────────────────────────────────

// RegisterWorker adds or replaces a worker.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes a worker.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return saga.ErrWorkerNotFound
	}
	delete(m.workers, key)
	return nil
}

// HeartbeatWorker refreshes LastSeen.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return saga.ErrWorkerNotFound
	}
	w.LastSeen = m.now()
	if w.State == cluster.WorkerDead {
		w.State = cluster.WorkerActive
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ReapDeadWorkers marks workers silent for longer than threshold as dead.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.Silent(now, threshold) {
			w.State = cluster.WorkerDead
			cp := *w
			dead = append(dead, &cp)
		}
	}
	return dead, nil
}
