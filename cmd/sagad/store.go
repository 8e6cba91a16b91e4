package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/saga/store"
	"github.com/xraph/saga/store/memory"
	"github.com/xraph/saga/store/postgres"
	redisstore "github.com/xraph/saga/store/redis"
	"github.com/xraph/saga/store/sqlite"
)

// openStore connects the configured backend. release frees what the
// store's own Close does not, and must run after it.
func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (store.Store, func(), error) {
	noop := func() {}
	switch cfg.Store.Driver {
	case "memory":
		return memory.New(), noop, nil

	case "postgres":
		pg, err := postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return pg, noop, nil

	case "sqlite":
		lite, err := sqlite.Open(ctx, cfg.Store.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return lite, noop, nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return redisstore.New(client, redisstore.WithLogger(logger)), func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
