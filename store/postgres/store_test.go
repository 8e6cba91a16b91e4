//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/saga/store"
	"github.com/xraph/saga/store/postgres"
	"github.com/xraph/saga/store/storetest"
)

var (
	sharedOnce  sync.Once
	sharedStore *postgres.Store
	sharedErr   error
)

// setupTestStore starts one Postgres container per test binary and returns
// a migrated store whose tables are truncated.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	sharedOnce.Do(func() {
		container, err := pgmodule.Run(ctx,
			"postgres:16-alpine",
			pgmodule.WithDatabase("saga_test"),
			pgmodule.WithUsername("test"),
			pgmodule.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		if err != nil {
			sharedErr = err
			return
		}
		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			sharedErr = err
			return
		}
		s, err := postgres.New(ctx, connStr,
			postgres.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		if err != nil {
			sharedErr = err
			return
		}
		if err := s.Migrate(ctx); err != nil {
			sharedErr = err
			return
		}
		sharedStore = s
	})
	if sharedErr != nil {
		t.Fatalf("setup postgres: %v", sharedErr)
	}

	_, err := sharedStore.Pool().Exec(ctx,
		`TRUNCATE saga_steps, saga_executions, saga_leases, saga_workers`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return sharedStore
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return setupTestStore(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
