package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/workflow"
)

// Reader is the subset of the store the monitor reads.
type Reader interface {
	GetExecution(ctx context.Context, executionID id.ExecutionID) (*workflow.Execution, error)
	ListExecutions(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Execution, error)
	ListSteps(ctx context.Context, executionID id.ExecutionID) ([]*workflow.StepRecord, error)
	GetLease(ctx context.Context, key string) (*cluster.Lease, error)
	ListWorkers(ctx context.Context) ([]*cluster.Worker, error)
}

// Service is the monitoring and debug service.
type Service struct {
	store    Reader
	registry *workflow.Registry
	logger   *slog.Logger
	now      func() time.Time

	health       activity.HealthChecker
	services     []string
	probeTimeout time.Duration

	warnAfter         time.Duration
	criticalAfter     time.Duration
	unhealthyAttempts int
	etaSamples        int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithHealthChecker sets the prober and the services Services reports on.
func WithHealthChecker(hc activity.HealthChecker, services ...string) Option {
	return func(s *Service) {
		s.health = hc
		s.services = services
	}
}

// WithProbeTimeout bounds each service health probe.
func WithProbeTimeout(d time.Duration) Option { return func(s *Service) { s.probeTimeout = d } }

// WithThresholds sets the health detection thresholds.
func WithThresholds(warnAfter, criticalAfter time.Duration, unhealthyAttempts int) Option {
	return func(s *Service) {
		s.warnAfter = warnAfter
		s.criticalAfter = criticalAfter
		s.unhealthyAttempts = unhealthyAttempts
	}
}

// WithETASamples caps how many recent completed executions feed the ETA
// estimate.
func WithETASamples(n int) Option { return func(s *Service) { s.etaSamples = n } }

// New creates a monitoring service.
func New(store Reader, registry *workflow.Registry, opts ...Option) *Service {
	cfg := saga.DefaultConfig()
	s := &Service{
		store:             store,
		registry:          registry,
		logger:            slog.Default(),
		now:               func() time.Time { return time.Now().UTC() },
		probeTimeout:      5 * time.Second,
		warnAfter:         cfg.HealthWarnAfter,
		criticalAfter:     cfg.HealthCriticalAfter,
		unhealthyAttempts: cfg.UnhealthyAttempts,
		etaSamples:        100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Services probes every configured collaborator concurrently.
func (s *Service) Services(ctx context.Context) []activity.ServiceHealth {
	if s.health == nil || len(s.services) == 0 {
		return []activity.ServiceHealth{}
	}
	return activity.CheckAll(ctx, s.health, s.services, s.probeTimeout)
}

// Workers returns the registered driver processes.
func (s *Service) Workers(ctx context.Context) ([]*cluster.Worker, error) {
	return s.store.ListWorkers(ctx)
}

// activeStatuses are the statuses a driver may still advance.
var activeStatuses = []workflow.Status{
	workflow.StatusPending, workflow.StatusRunning, workflow.StatusCompensating,
}

// runningSince is when the execution started, or was created if it never
// started.
func runningSince(e *workflow.Execution) time.Time {
	if e.StartedAt != nil {
		return *e.StartedAt
	}
	return e.CreatedAt
}
