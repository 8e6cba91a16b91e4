package store

import (
	"context"

	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/workflow"
)

// Store is implemented once per backend.
type Store interface {
	workflow.Store
	cluster.Store

	// Migrate brings the schema up to date. Safe to call on every boot.
	Migrate(ctx context.Context) error

	Ping(ctx context.Context) error

	// Close releases connections the backend opened itself.
	Close() error
}
