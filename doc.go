// Package saga is a durable saga orchestrator for multi-tenant platforms.
// It drives multi-step business processes across independently deployed
// services, each step an idempotent remote activity with its own timeout,
// retry and compensation policy.
//
// Saga is designed as a library. Configure a store, register workflow
// definitions as ordinary Go values, and submit executions.
//
// # Quick Start
//
//	o, err := saga.New(
//	    saga.WithStore(pgStore),
//	    saga.WithConcurrency(20),
//	)
//	eng, err := engine.Build(o, engine.WithActivityClient(client))
//	workflows.RegisterAll(eng.Registry())
//	exec, err := eng.Submit(ctx, workflows.TenantSwitch, req, sc)
//
// # Architecture
//
// Each subsystem (workflow, cluster) defines its own store interface and a
// single backend implements all of them. Executions live in shared durable
// storage, so any process may pick up any execution; a renewable lease
// guarantees a single driver at a time.
//
// All entity IDs are prefix-qualified, K-sortable, UUIDv7-based
// identifiers.
package saga
