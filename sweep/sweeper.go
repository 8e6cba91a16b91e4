package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/worker"
	"github.com/xraph/saga/workflow"
)

// LeaseKey is the cluster lease held while a sweep runs.
const LeaseKey = "sweep"

// Emitter receives sweep findings. ext.Registry implements it.
type Emitter interface {
	EmitHealthIssue(ctx context.Context, issue monitor.HealthIssue)
	EmitWorkerReaped(ctx context.Context, w *cluster.Worker)
}

// Driver re-drives an orphaned execution. *workflow.Runner implements it.
type Driver interface {
	Drive(ctx context.Context, executionID id.ExecutionID) (*workflow.Execution, error)
}

// Report is the outcome of one sweep.
type Report struct {
	At        time.Time             `json:"at"`
	Skipped   bool                  `json:"skipped,omitempty"`
	Reaped    []*cluster.Worker     `json:"reaped"`
	Issues    []monitor.HealthIssue `json:"issues"`
	Recovered []id.ExecutionID      `json:"recovered"`
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Sweeper) { s.logger = l } }

// WithSchedule sets the cron expression. The default comes from
// saga.DefaultConfig.
func WithSchedule(expr string) Option { return func(s *Sweeper) { s.schedule = expr } }

// WithOwner sets the identity used for the sweep lease.
func WithOwner(owner string) Option { return func(s *Sweeper) { s.owner = owner } }

// WithDeadWorkerThreshold sets how stale a heartbeat must be before the
// worker is reaped. Zero disables reaping.
func WithDeadWorkerThreshold(d time.Duration) Option {
	return func(s *Sweeper) { s.deadAfter = d }
}

// WithEmitter sets the sink for findings.
func WithEmitter(e Emitter) Option { return func(s *Sweeper) { s.emitter = e } }

// WithRecovery enables re-driving orphaned executions, at most limit at a
// time. Executions updated within grace are left to the worker pool.
func WithRecovery(d Driver, limit int, grace time.Duration) Option {
	return func(s *Sweeper) {
		s.driver = d
		s.maxRecover = limit
		s.grace = grace
	}
}

// Sweeper periodically reaps dead workers, reports health issues and
// recovers orphaned executions.
type Sweeper struct {
	monitor *monitor.Service
	store   worker.Store
	emitter Emitter
	driver  Driver
	logger  *slog.Logger

	schedule   string
	owner      string
	leaseTTL   time.Duration
	deadAfter  time.Duration
	maxRecover int
	grace      time.Duration

	cron *cronlib.Cron

	mu         sync.Mutex
	last       *Report
	recovering map[id.ExecutionID]bool
	wg         sync.WaitGroup
	base       context.Context
	cancel     context.CancelFunc
}

// New creates a Sweeper.
func New(mon *monitor.Service, store worker.Store, opts ...Option) *Sweeper {
	cfg := saga.DefaultConfig()
	base, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		monitor:    mon,
		store:      store,
		logger:     slog.Default(),
		schedule:   cfg.SweepSchedule,
		owner:      id.NewWorkerID().String(),
		leaseTTL:   cfg.LeaseTTL,
		deadAfter:  cfg.DeadWorkerThreshold,
		maxRecover: 4,
		grace:      cfg.LeaseTTL,
		recovering: make(map[id.ExecutionID]bool),
		base:       base,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// parser accepts standard 5-field expressions and descriptors.
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a sweep schedule expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return parser.Parse(expr)
}

// Start schedules the sweep. Overlapping ticks are skipped.
func (s *Sweeper) Start(_ context.Context) error {
	logger := cronLogger{s.logger}
	c := cronlib.New(
		cronlib.WithParser(parser),
		cronlib.WithLogger(logger),
		cronlib.WithChain(cronlib.Recover(logger), cronlib.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("sweep: schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("sweeper started",
		slog.String("schedule", s.schedule),
		slog.String("owner", s.owner),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep and any
// recoveries. Recoveries still running when ctx ends are cancelled.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron != nil {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
	s.cancel()
	s.logger.Info("sweeper stopped")
	return nil
}

// Last returns the most recent report, or nil before the first sweep.
func (s *Sweeper) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(s.base, s.leaseTTL)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", slog.String("error", err.Error()))
	}
}

// Sweep runs one pass. When another process holds the sweep lease the
// report is marked Skipped and nothing else happens.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	rep := &Report{At: time.Now().UTC()}

	if _, err := s.store.AcquireLease(ctx, LeaseKey, s.owner, s.leaseTTL); err != nil {
		if errors.Is(err, saga.ErrLeaseConflict) {
			rep.Skipped = true
			s.logger.Debug("sweep skipped, lease held elsewhere")
			return rep, nil
		}
		return nil, fmt.Errorf("sweep: acquire lease: %w", err)
	}
	defer func() {
		if err := s.store.ReleaseLease(context.WithoutCancel(ctx), LeaseKey, s.owner); err != nil {
			s.logger.Warn("release sweep lease failed", slog.String("error", err.Error()))
		}
	}()

	if s.deadAfter > 0 {
		reaped, err := s.store.ReapDeadWorkers(ctx, s.deadAfter)
		if err != nil {
			return nil, fmt.Errorf("sweep: reap workers: %w", err)
		}
		rep.Reaped = reaped
		for _, w := range reaped {
			s.logger.Warn("worker reaped",
				slog.String("worker_id", w.ID.String()),
				slog.String("hostname", w.Hostname),
				slog.Time("last_seen", w.LastSeen),
			)
			if s.emitter != nil {
				s.emitter.EmitWorkerReaped(ctx, w)
			}
		}
	}

	issues, err := s.monitor.DetectHealthIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	rep.Issues = issues
	for _, issue := range issues {
		s.logIssue(ctx, issue)
		if s.emitter != nil {
			s.emitter.EmitHealthIssue(ctx, issue)
		}
	}

	if s.driver != nil {
		recovered, err := s.recoverOrphans(ctx, rep.At)
		if err != nil {
			return nil, err
		}
		rep.Recovered = recovered
	}

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()

	s.logger.Info("sweep finished",
		slog.Int("reaped", len(rep.Reaped)),
		slog.Int("issues", len(rep.Issues)),
		slog.Int("recovered", len(rep.Recovered)),
	)
	return rep, nil
}

func (s *Sweeper) logIssue(ctx context.Context, issue monitor.HealthIssue) {
	level := slog.LevelInfo
	switch issue.Severity {
	case monitor.SeverityCritical:
		level = slog.LevelError
	case monitor.SeverityWarning:
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "health issue",
		slog.String("execution_id", issue.ExecutionID.String()),
		slog.String("type", issue.Type),
		slog.String("severity", string(issue.Severity)),
		slog.String("reason", issue.Reason),
		slog.Duration("running_for", issue.RunningFor),
	)
}

// recoverOrphans starts background drives for runnable executions that
// have not moved within the grace period.
func (s *Sweeper) recoverOrphans(ctx context.Context, now time.Time) ([]id.ExecutionID, error) {
	candidates, err := worker.Runnable(ctx, s.store, s.store, now, 0)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var started []id.ExecutionID
	for _, e := range candidates {
		if len(s.recovering) >= s.maxRecover {
			break
		}
		if s.recovering[e.ID] || now.Sub(e.UpdatedAt) < s.grace {
			continue
		}
		s.recovering[e.ID] = true
		started = append(started, e.ID)

		s.wg.Add(1)
		go s.recover(e)
	}
	return started, nil
}

func (s *Sweeper) recover(e *workflow.Execution) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.recovering, e.ID)
		s.mu.Unlock()
	}()

	s.logger.Info("recovering orphaned execution",
		slog.String("execution_id", e.ID.String()),
		slog.String("type", e.Type),
		slog.String("status", string(e.Status)),
	)
	out, err := s.driver.Drive(s.base, e.ID)
	switch {
	case err == nil:
		s.logger.Info("orphaned execution recovered",
			slog.String("execution_id", e.ID.String()),
			slog.String("status", string(out.Status)),
		)
	case errors.Is(err, saga.ErrLeaseConflict), errors.Is(err, context.Canceled):
	default:
		s.logger.Warn("recovery failed",
			slog.String("execution_id", e.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// cronLogger adapts slog to the cron library's logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
