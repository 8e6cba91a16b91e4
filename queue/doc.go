// Package queue admits executions into the worker pool under per-type and
// per-tenant limits.
//
// Each workflow type can carry a [Config] with a concurrency cap and a
// token-bucket rate (golang.org/x/time/rate):
//
//	m := queue.NewManager(
//	    queue.Config{Type: "bulk_operation", MaxConcurrency: 2},
//	    queue.Config{Type: "compliance_export", RateLimit: 1, RateBurst: 2},
//	)
//
// Tenants are limited with [TenantConfig], either for one type or across
// all of them. [Manager.SetDefaultTenantConfig] gives every tenant without
// explicit limits its own bucket, which keeps a single noisy tenant from
// monopolizing the pool:
//
//	m.SetDefaultTenantConfig(queue.TenantConfig{MaxConcurrency: 3, RateLimit: 5})
//
// The pool calls [Manager.Acquire] before driving an execution and
// [Manager.Release] afterwards. A denied execution stays where it is and
// is picked up again on a later poll.
package queue
