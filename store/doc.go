/*
Package store names the single persistence contract a saga deployment
needs. An orchestrator talks to one Store; the interface is the union of
what the workflow runner (executions, step records, leases) and the
cluster registry (worker heartbeats) require, plus schema and lifecycle
hooks.

Backends live in subpackages:

	store/memory    process-local maps, for tests and dev mode
	store/postgres  pgx/v5 pool, leases claimed by conditional upsert
	store/sqlite    sqlx over mattn/go-sqlite3, single node
	store/redis     go-redis/v9 hashes and sorted sets

Every backend passes the suite in store/storetest. A typical bootstrap:

	st, err := sqlite.Open(ctx, "/var/lib/sagad/saga.db")
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	o, err := saga.New(saga.WithStore(st))
*/
package store
