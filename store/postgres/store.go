package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/saga/store"
)

//go:embed migrations/*.sql
var schema embed.FS

// migrateLockKey serialises concurrent Migrate calls from several sagad
// processes sharing one database.
const migrateLockKey int64 = 0x5a6a_0001

var _ store.Store = (*Store)(nil)

// Store persists executions, step records, leases and workers in
// PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger routes migration and lease diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New dials dsn, e.g. "postgres://saga:secret@db:5432/saga?sslmode=disable".
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: open pool: %w", err)
	}
	return Wrap(pool, opts...), nil
}

// Wrap builds a Store over a pool the caller already owns. Close still
// closes the pool.
func Wrap(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate applies every embedded schema file not yet listed in
// saga_schema_versions. All pending files run in one transaction.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(schema, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("saga/postgres: list migrations: %w", err)
	}
	slices.Sort(files)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrateLockKey); err != nil {
			return fmt.Errorf("saga/postgres: migration lock: %w", err)
		}
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS saga_schema_versions (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
			return fmt.Errorf("saga/postgres: version table: %w", err)
		}

		applied, err := appliedVersions(ctx, tx)
		if err != nil {
			return err
		}
		for _, file := range files {
			name := path.Base(file)
			if applied[name] {
				continue
			}
			body, err := schema.ReadFile(file)
			if err != nil {
				return fmt.Errorf("saga/postgres: %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return fmt.Errorf("saga/postgres: apply %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO saga_schema_versions (name) VALUES ($1)`, name); err != nil {
				return fmt.Errorf("saga/postgres: record %s: %w", name, err)
			}
			s.logger.Info("schema migration applied", slog.String("name", name))
		}
		return nil
	})
}

func appliedVersions(ctx context.Context, tx pgx.Tx) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `SELECT name FROM saga_schema_versions`)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: read versions: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: read versions: %w", err)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	return seen, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the pgx pool, mainly for tests that reset tables.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
