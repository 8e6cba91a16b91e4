package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/workflow"
)

// Store is what the pool reads executions, leases and the worker registry
// from.
type Store interface {
	workflow.Store
	cluster.Store
}

// Driver advances one execution. *workflow.Runner implements it.
type Driver interface {
	Drive(ctx context.Context, executionID id.ExecutionID) (*workflow.Execution, error)
}

// Admission gates executions per workflow type and tenant.
// *queue.Manager implements it.
type Admission interface {
	// Acquire reports whether an execution of typ for tenantID may start.
	Acquire(typ, tenantID string) bool
	// Release frees the slot of an admitted execution.
	Release(typ, tenantID string)
}

// Pool manages worker goroutines that poll for runnable executions and
// drive them.
type Pool struct {
	store        Store
	driver       Driver
	registry     *workflow.Registry
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	hostname     string
	logger       *slog.Logger

	heartbeatInterval time.Duration

	admission Admission

	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	claimMu  sync.Mutex
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of executions driven at once.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle workers look for runnable
// executions.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool refreshes its worker
// registration. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithWorkerID sets the pool's identity. It should match the lease owner
// of the Driver.
func WithWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// WithAdmission sets the per-type and per-tenant admission gate.
func WithAdmission(a Admission) PoolOption {
	return func(p *Pool) { p.admission = a }
}

// NewPool creates a worker pool. Only executions whose type and version
// are in registry are claimed.
func NewPool(store Store, driver Driver, registry *workflow.Registry, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	p := &Pool{
		store:        store,
		driver:       driver,
		registry:     registry,
		concurrency:  10,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		hostname:     host,
		logger:       logger,
		stopCh:       make(chan struct{}),
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Active returns the number of executions being driven.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Start registers the worker and launches the worker goroutines. It
// returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if err := p.store.RegisterWorker(ctx, p.descriptor()); err != nil {
		return err
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.driveLoop()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for in-flight drives. If ctx
// ends first, in-flight drives are cancelled; their executions keep their
// state and are resumed by the next driver once the lease expires.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active drives")
		p.cancelActive()
		p.wg.Wait()
	}

	if err := p.store.DeregisterWorker(context.WithoutCancel(ctx), p.workerID); err != nil && !errors.Is(err, saga.ErrWorkerNotFound) {
		p.logger.Warn("deregister worker failed", slog.String("error", err.Error()))
	}
	return nil
}

func (p *Pool) driveLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		e, ctx, err := p.claim()
		if err != nil {
			p.logger.Error("scan for runnable executions failed", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if e == nil {
			p.sleep()
			continue
		}
		p.drive(ctx, e)
	}
}

// claim picks one runnable execution that no local goroutine is driving
// and that admission lets through. The returned context is cancelled by a
// timed-out Stop.
func (p *Pool) claim() (*workflow.Execution, context.Context, error) {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()

	candidates, err := Runnable(context.Background(), p.store, p.store, time.Now().UTC(), 0)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range candidates {
		if p.isActive(e.ID.String()) {
			continue
		}
		if _, ok := p.registry.GetVersion(e.Type, e.Version); !ok {
			continue
		}
		if p.admission != nil && !p.admission.Acquire(e.Type, e.Scope.TenantID) {
			p.logger.Debug("execution throttled",
				slog.String("execution_id", e.ID.String()),
				slog.String("type", e.Type),
				slog.String("tenant_id", e.Scope.TenantID),
			)
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		p.track(e.ID.String(), cancel)
		return e, ctx, nil
	}
	return nil, nil, nil
}

func (p *Pool) drive(ctx context.Context, e *workflow.Execution) {
	key := e.ID.String()
	defer func() {
		p.untrack(key)
		if p.admission != nil {
			p.admission.Release(e.Type, e.Scope.TenantID)
		}
	}()

	out, err := p.driver.Drive(ctx, e.ID)
	switch {
	case err == nil:
		p.logger.Debug("drive finished",
			slog.String("execution_id", key),
			slog.String("status", string(out.Status)),
		)
	case errors.Is(err, saga.ErrLeaseConflict):
		p.logger.Debug("execution claimed elsewhere", slog.String("execution_id", key))
	default:
		p.logger.Warn("drive failed",
			slog.String("execution_id", key),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.heartbeat()
		}
	}
}

func (p *Pool) heartbeat() {
	ctx := context.Background()
	err := p.store.HeartbeatWorker(ctx, p.workerID)
	if err == nil {
		return
	}
	if errors.Is(err, saga.ErrWorkerNotFound) {
		err = p.store.RegisterWorker(ctx, p.descriptor())
		if err == nil {
			p.logger.Info("worker re-registered", slog.String("worker_id", p.workerID.String()))
			return
		}
	}
	p.logger.Warn("heartbeat failed",
		slog.String("worker_id", p.workerID.String()),
		slog.String("error", err.Error()),
	)
}

func (p *Pool) descriptor() *cluster.Worker {
	now := time.Now().UTC()
	return &cluster.Worker{
		ID:          p.workerID,
		Hostname:    p.hostname,
		Concurrency: p.concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) isActive(key string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.active[key]
	return ok
}

func (p *Pool) track(key string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(key string) {
	p.activeMu.Lock()
	if cancel, ok := p.active[key]; ok {
		cancel()
		delete(p.active, key)
	}
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, cancel := range p.active {
		p.logger.Warn("cancelling active drive", slog.String("execution_id", key))
		cancel()
	}
}
