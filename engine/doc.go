// Package engine wires the saga subsystems together: the workflow registry
// and runner, the activity client and its middleware chain, the extension
// registry, the worker pool with tenant admission, the periodic sweep, the
// monitor and the live stream broker.
//
// The root saga package holds configuration, logger and store but cannot
// import the subsystem packages, which import it for errors and config.
// Engine sits above all subsystems and below the application layer.
//
// # Building an Engine
//
//	o, err := saga.New(
//	    saga.WithStore(pgStore),
//	    saga.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(o,
//	    engine.WithActivityClient(activity.NewHTTPClient(endpoints)),
//	    engine.WithContracts(services.Contracts()),
//	    engine.WithExtension(audithook.New(recorder)),
//	    engine.WithTenantConfig(queue.TenantConfig{
//	        Type:           queue.AllTypes,
//	        TenantID:       "t-42",
//	        MaxConcurrency: 2,
//	    }),
//	)
//
// # Registering and submitting
//
//	workflows.RegisterAll(eng.Registry())
//	exec, err := eng.Submit(ctx, "tenant_switching", input, sc)
//
// # Options
//
//   - [WithActivityClient] sets the transport to downstream services (required)
//   - [WithContracts] validates step targets against registered operations
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] appends activity middleware after the defaults
//   - [WithTypeConfig] and [WithTenantConfig] configure admission limits
//   - [WithHealthServices] lists the collaborators probed by the monitor
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
//   - [WithoutPool] and [WithoutSweeper] disable background processing
package engine
