package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver

	"github.com/xraph/saga/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sqlx.DB
	owned  bool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (or creates) the database file at path. The returned Store
// closes the database on Close.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("saga/sqlite: open: %w", err)
	}
	// SQLite allows one writer; a single connection serializes access.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("saga/sqlite: connect: %w", err)
	}
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// New wraps an existing handle. The caller owns the db lifecycle; Close
// does not close it.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *sqlx.DB for advanced usage.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("saga/sqlite: migration %d failed: %w", i+1, err)
		}
	}
	s.logger.Debug("sqlite schema ready", slog.Int("statements", len(migrations)))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database if the Store opened it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKey checks if a SQLite error is a foreign key violation.
func isForeignKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS saga_executions (
		id                TEXT PRIMARY KEY,
		run_id            TEXT NOT NULL,
		generation        INTEGER NOT NULL DEFAULT 0,
		type              TEXT NOT NULL,
		version           INTEGER NOT NULL DEFAULT 1,
		status            TEXT NOT NULL DEFAULT 'pending',
		input             BLOB,
		output            BLOB,
		scope             TEXT NOT NULL DEFAULT '{}',
		tenant_id         TEXT NOT NULL DEFAULT '',
		correlation_id    TEXT NOT NULL DEFAULT '',
		error             TEXT NOT NULL DEFAULT '',
		error_kind        TEXT NOT NULL DEFAULT '',
		current_step      INTEGER NOT NULL DEFAULT 0,
		current_step_name TEXT NOT NULL DEFAULT '',
		total_steps       INTEGER NOT NULL DEFAULT 0,
		cancel_requested  INTEGER NOT NULL DEFAULT 0,
		deadline          DATETIME NOT NULL,
		created_at        DATETIME NOT NULL,
		started_at        DATETIME,
		updated_at        DATETIME NOT NULL,
		completed_at      DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_saga_executions_status ON saga_executions (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_saga_executions_tenant ON saga_executions (tenant_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS saga_steps (
		execution_id    TEXT NOT NULL REFERENCES saga_executions (id) ON DELETE CASCADE,
		idx             INTEGER NOT NULL,
		step_index      INTEGER NOT NULL,
		name            TEXT NOT NULL,
		kind            TEXT NOT NULL,
		generation      INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		input           BLOB,
		output          BLOB,
		error           TEXT NOT NULL DEFAULT '',
		error_kind      TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL DEFAULT '',
		started_at      DATETIME NOT NULL,
		completed_at    DATETIME,
		PRIMARY KEY (execution_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS saga_leases (
		key         TEXT PRIMARY KEY,
		owner       TEXT NOT NULL,
		acquired_at INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS saga_workers (
		id          TEXT PRIMARY KEY,
		hostname    TEXT NOT NULL,
		concurrency INTEGER NOT NULL DEFAULT 0,
		state       TEXT NOT NULL DEFAULT 'active',
		last_seen   INTEGER NOT NULL,
		metadata    TEXT,
		created_at  INTEGER NOT NULL
	)`,
}
