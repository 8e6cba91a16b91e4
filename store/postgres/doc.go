// Package postgres implements store.Store on PostgreSQL using pgx/v5.
// Leases are claimed with a single conditional upsert, so two drivers can
// never both believe they own an execution.
package postgres
