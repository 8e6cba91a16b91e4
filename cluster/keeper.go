package cluster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/saga"
)

// Keeper renews a held lease every ttl/3 until stopped. When renewal fails
// with saga.ErrLeaseLost it calls onLost once and exits. Transient renewal
// errors are retried on the next tick; the lease is only lost once its
// owner changes.
type Keeper struct {
	store  LeaseStore
	key    string
	owner  string
	ttl    time.Duration
	onLost func(error)
	logger *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// StartKeeper launches a keeper goroutine for a lease already held by owner.
func StartKeeper(store LeaseStore, key, owner string, ttl time.Duration, onLost func(error), logger *slog.Logger) *Keeper {
	k := &Keeper{
		store:  store,
		key:    key,
		owner:  owner,
		ttl:    ttl,
		onLost: onLost,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go k.loop()
	return k
}

func (k *Keeper) loop() {
	defer close(k.done)

	interval := k.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			_, err := k.store.RenewLease(ctx, k.key, k.owner, k.ttl)
			cancel()
			if err == nil {
				continue
			}
			if errors.Is(err, saga.ErrLeaseLost) {
				k.logger.Warn("lease lost",
					slog.String("key", k.key),
					slog.String("owner", k.owner),
				)
				if k.onLost != nil {
					k.onLost(err)
				}
				return
			}
			k.logger.Warn("lease renewal failed",
				slog.String("key", k.key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Stop ends renewal and waits for the goroutine to exit. It does not
// release the lease.
func (k *Keeper) Stop() {
	k.stopOnce.Do(func() { close(k.stop) })
	<-k.done
}
