package redis

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/saga/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// DefaultLeaseRetention is how long an expired lease hash lingers before
// Redis evicts it.
const DefaultLeaseRetention = 10 * time.Minute

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithLeaseRetention overrides DefaultLeaseRetention.
func WithLeaseRetention(d time.Duration) Option {
	return func(s *Store) { s.leaseRetention = d }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client         goredis.Cmdable
	logger         *slog.Logger
	leaseRetention time.Duration
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:         client,
		logger:         slog.Default(),
		leaseRetention: DefaultLeaseRetention,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate loads the lease scripts so the first acquire does not pay for
// a NOSCRIPT round trip.
func (s *Store) Migrate(ctx context.Context) error {
	for _, script := range []*goredis.Script{acquireScript, renewScript, releaseScript} {
		if err := script.Load(ctx, s.client).Err(); err != nil {
			return err
		}
	}
	s.logger.Debug("redis lease scripts loaded")
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client.
func (s *Store) Close() error { return nil }
