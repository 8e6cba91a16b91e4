package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/ext"
	"github.com/xraph/saga/id"
	mw "github.com/xraph/saga/middleware"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/observability"
	"github.com/xraph/saga/queue"
	"github.com/xraph/saga/retry"
	"github.com/xraph/saga/scope"
	"github.com/xraph/saga/store"
	"github.com/xraph/saga/stream"
	"github.com/xraph/saga/sweep"
	"github.com/xraph/saga/worker"
	"github.com/xraph/saga/workflow"
)

// Engine holds the wired subsystems. Use Build to create one.
type Engine struct {
	o          *saga.Orchestrator
	store      store.Store
	logger     *slog.Logger
	extensions *ext.Registry

	client    activity.Client
	contracts *activity.Registry
	mws       []mw.Middleware

	registry *workflow.Registry
	runner   *workflow.Runner
	pool     *worker.Pool
	queue    *queue.Manager
	monitor  *monitor.Service
	sweeper  *sweep.Sweeper
	broker   *stream.Broker

	typeConfigs    []queue.Config
	tenantConfigs  []queue.TenantConfig
	healthServices []string
	noPool         bool
	noSweeper      bool

	// OpenTelemetry providers (nil means global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithActivityClient sets the transport activities are invoked through.
func WithActivityClient(c activity.Client) Option {
	return func(eng *Engine) { eng.client = c }
}

// WithContracts makes the workflow registry reject steps whose target is
// not a registered operation.
func WithContracts(c *activity.Registry) Option {
	return func(eng *Engine) { eng.contracts = c }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware appends activity middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithTypeConfig sets per-workflow-type admission limits.
func WithTypeConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.typeConfigs = append(eng.typeConfigs, configs...) }
}

// WithTenantConfig sets per-tenant admission limits.
func WithTenantConfig(configs ...queue.TenantConfig) Option {
	return func(eng *Engine) { eng.tenantConfigs = append(eng.tenantConfigs, configs...) }
}

// WithHealthServices lists the downstream services the monitor probes.
// Defaults to the services the activity client knows about.
func WithHealthServices(services ...string) Option {
	return func(eng *Engine) { eng.healthServices = services }
}

// WithoutPool disables the background worker pool. Submitted executions
// are still driven by the runner.
func WithoutPool() Option { return func(eng *Engine) { eng.noPool = true } }

// WithoutSweeper disables the periodic sweep.
func WithoutSweeper() Option { return func(eng *Engine) { eng.noSweeper = true } }

// WithTracerProvider sets the TracerProvider for activity tracing.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the MeterProvider for activity metrics and the
// observability extension.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build wires an Engine on top of o. The orchestrator's store must
// implement store.Store.
func Build(o *saga.Orchestrator, opts ...Option) (*Engine, error) {
	if o.Store() == nil {
		return nil, saga.ErrNoStore
	}
	st, ok := o.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("saga: store %T does not implement store.Store", o.Store())
	}

	logger := o.Logger()
	cfg := o.Config()
	eng := &Engine{
		o:          o,
		store:      st,
		logger:     logger,
		extensions: ext.NewRegistry(logger),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.client == nil {
		return nil, saga.ErrNoClient
	}

	// Activity client behind the middleware chain.
	client := mw.Wrap(eng.client, eng.middleware()...)

	// Extensions.
	if eng.meterProvider != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/xraph/saga/observability")))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}
	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)

	// Workflow subsystem.
	var regOpts []workflow.RegistryOption
	if eng.contracts != nil {
		regOpts = append(regOpts, workflow.WithContracts(eng.contracts))
	}
	eng.registry = workflow.NewRegistry(regOpts...)
	workerID := id.NewWorkerID()
	eng.runner = workflow.NewRunner(eng.registry, st, st, client,
		workflow.WithEmitter(eng.extensions),
		workflow.WithLogger(logger),
		workflow.WithOwner(workerID.String()),
		workflow.WithLeaseTTL(cfg.LeaseTTL),
		workflow.WithWorkflowTimeout(cfg.WorkflowTimeout),
		workflow.WithDefaultRetry(retry.FromConfig(cfg)),
	)

	// Monitor.
	monOpts := []monitor.Option{
		monitor.WithLogger(logger),
		monitor.WithThresholds(cfg.HealthWarnAfter, cfg.HealthCriticalAfter, cfg.UnhealthyAttempts),
	}
	if hc, ok := client.(activity.HealthChecker); ok {
		services := eng.healthServices
		if len(services) == 0 {
			services = knownServices(eng.client, eng.contracts)
		}
		monOpts = append(monOpts, monitor.WithHealthChecker(hc, services...))
	}
	eng.monitor = monitor.New(st, eng.registry, monOpts...)

	// Worker pool with admission.
	eng.queue = queue.NewManager(eng.typeConfigs...)
	for _, tc := range eng.tenantConfigs {
		if tc.TenantID == "" {
			eng.queue.SetDefaultTenantConfig(tc)
			continue
		}
		eng.queue.SetTenantConfig(tc)
	}
	if !eng.noPool {
		eng.pool = worker.NewPool(st, eng.runner, eng.registry, logger,
			worker.WithWorkerID(workerID),
			worker.WithConcurrency(cfg.Concurrency),
			worker.WithPollInterval(cfg.PollInterval),
			worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
			worker.WithAdmission(eng.queue),
		)
		o.AddRunner(eng.pool)
	}

	// Sweep.
	if !eng.noSweeper {
		eng.sweeper = sweep.New(eng.monitor, st,
			sweep.WithLogger(logger),
			sweep.WithSchedule(cfg.SweepSchedule),
			sweep.WithOwner(workerID.String()),
			sweep.WithDeadWorkerThreshold(cfg.DeadWorkerThreshold),
			sweep.WithEmitter(eng.extensions),
			sweep.WithRecovery(eng.runner, cfg.Concurrency, cfg.LeaseTTL),
		)
		o.AddRunner(eng.sweeper)
	}

	o.SetExtensions(eng.extensions)
	return eng, nil
}

func (eng *Engine) middleware() []mw.Middleware {
	tracing := mw.Tracing()
	if eng.tracerProvider != nil {
		tracing = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/saga"))
	}
	metrics := mw.Metrics()
	if eng.meterProvider != nil {
		metrics = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/saga"))
	}

	// recover → scope → tracing → metrics → logging → timeout → custom.
	chain := []mw.Middleware{
		mw.Recover(eng.logger),
		mw.Scope(),
		tracing,
		metrics,
		mw.Logging(eng.logger),
		mw.Timeout(),
	}
	return append(chain, eng.mws...)
}

// knownServices lists the services a client or contract registry names.
func knownServices(c activity.Client, contracts *activity.Registry) []string {
	if lister, ok := c.(interface{ Services() []string }); ok {
		if s := lister.Services(); len(s) > 0 {
			return s
		}
	}
	if contracts != nil {
		return contracts.Services()
	}
	return nil
}

// Start launches the worker pool and the sweeper. Without a pool,
// interrupted executions are resumed synchronously first.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.noPool {
		n, err := eng.runner.ResumeAll(ctx)
		if err != nil {
			eng.logger.Warn("failed to resume executions", slog.String("error", err.Error()))
		} else if n > 0 {
			eng.logger.Info("resumed executions", slog.Int("count", n))
		}
	}
	return eng.o.Start(ctx)
}

// Stop waits for in-flight drives, stops background components and closes
// the store.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.runner.Close(ctx); err != nil {
		eng.logger.Warn("runner close", slog.String("error", err.Error()))
	}
	return eng.o.Stop(ctx)
}

// Submit creates a pending execution and drives it in the background.
func (eng *Engine) Submit(ctx context.Context, typ string, input any, sc scope.Scope) (*workflow.Execution, error) {
	raw, err := marshalInput(input)
	if err != nil {
		return nil, err
	}
	return eng.runner.Submit(ctx, typ, raw, sc)
}

// Execute creates an execution and drives it to a terminal state before
// returning.
func (eng *Engine) Execute(ctx context.Context, typ string, input any, sc scope.Scope) (*workflow.Execution, error) {
	raw, err := marshalInput(input)
	if err != nil {
		return nil, err
	}
	return eng.runner.Execute(ctx, typ, raw, sc)
}

func marshalInput(input any) ([]byte, error) {
	switch v := input.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, saga.NewValidationError("input", fmt.Sprintf("encode: %v", err))
	}
	return raw, nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the workflow registry.
func (eng *Engine) Registry() *workflow.Registry { return eng.registry }

// Runner returns the workflow runner.
func (eng *Engine) Runner() *workflow.Runner { return eng.runner }

// Monitor returns the monitoring service.
func (eng *Engine) Monitor() *monitor.Service { return eng.monitor }

// Broker returns the live stream broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Pool returns the worker pool, or nil when disabled.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Sweeper returns the sweeper, or nil when disabled.
func (eng *Engine) Sweeper() *sweep.Sweeper { return eng.sweeper }

// Queue returns the admission manager.
func (eng *Engine) Queue() *queue.Manager { return eng.queue }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Orchestrator returns the underlying orchestrator.
func (eng *Engine) Orchestrator() *saga.Orchestrator { return eng.o }
