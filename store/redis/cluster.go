package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
)

// ── Lease scripts ──

// KEYS[1] lease hash. ARGV: owner, now ms, expires ms, retention ms.
// Returns nil while another owner holds an unexpired lease.
var acquireScript = goredis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'owner', 'acquired_at', 'expires_at')
local acquired = ARGV[2]
if cur[1] then
	if cur[1] == ARGV[1] then
		acquired = cur[2]
	elseif tonumber(cur[3]) > tonumber(ARGV[2]) then
		return false
	end
end
redis.call('HSET', KEYS[1], 'owner', ARGV[1], 'acquired_at', acquired, 'expires_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {ARGV[1], acquired, ARGV[3]}
`)

// KEYS[1] lease hash. ARGV: owner, expires ms, retention ms.
var renewScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then
	return false
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
local cur = redis.call('HMGET', KEYS[1], 'owner', 'acquired_at', 'expires_at')
return cur
`)

// KEYS[1] lease hash. ARGV: owner.
var releaseScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// ── Leases ──

// AcquireLease claims key for owner.
func (s *Store) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (*cluster.Lease, error) {
	now := time.Now().UTC()
	res, err := acquireScript.Run(ctx, s.client, []string{leaseKey(key)},
		owner, now.UnixMilli(), now.Add(ttl).UnixMilli(), (ttl + s.leaseRetention).Milliseconds(),
	).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, saga.ErrLeaseConflict
		}
		return nil, fmt.Errorf("saga/redis: acquire lease: %w", err)
	}
	return leaseFromReply(key, res)
}

// RenewLease extends owner's lease.
func (s *Store) RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (*cluster.Lease, error) {
	res, err := renewScript.Run(ctx, s.client, []string{leaseKey(key)},
		owner, time.Now().UTC().Add(ttl).UnixMilli(), (ttl + s.leaseRetention).Milliseconds(),
	).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, saga.ErrLeaseLost
		}
		return nil, fmt.Errorf("saga/redis: renew lease: %w", err)
	}
	return leaseFromReply(key, res)
}

// ReleaseLease drops owner's lease.
func (s *Store) ReleaseLease(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{leaseKey(key)}, owner).Err(); err != nil {
		return fmt.Errorf("saga/redis: release lease: %w", err)
	}
	return nil
}

// GetLease returns the lease on key.
func (s *Store) GetLease(ctx context.Context, key string) (*cluster.Lease, error) {
	vals, err := s.client.HMGet(ctx, leaseKey(key), "owner", "acquired_at", "expires_at").Result()
	if err != nil {
		return nil, fmt.Errorf("saga/redis: get lease: %w", err)
	}
	if vals[0] == nil {
		return nil, saga.ErrLeaseNotFound
	}
	reply := make([]string, len(vals))
	for i, v := range vals {
		reply[i], _ = v.(string) //nolint:errcheck // HMGET yields strings or nil
	}
	return leaseFromReply(key, reply)
}

func leaseFromReply(key string, reply []string) (*cluster.Lease, error) {
	if len(reply) != 3 {
		return nil, fmt.Errorf("saga/redis: malformed lease reply %v", reply)
	}
	acquired, err := strconv.ParseInt(reply[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("saga/redis: parse lease acquired_at: %w", err)
	}
	expires, err := strconv.ParseInt(reply[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("saga/redis: parse lease expires_at: %w", err)
	}
	return &cluster.Lease{
		Key:        key,
		Owner:      reply[0],
		AcquiredAt: time.UnixMilli(acquired).UTC(),
		ExpiresAt:  time.UnixMilli(expires).UTC(),
	}, nil
}

// ── Workers ──

// RegisterWorker adds a worker to the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	wID := w.ID.String()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, workerKey(wID))
	pipe.HSet(ctx, workerKey(wID), workerToMap(w))
	pipe.SAdd(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saga/redis: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, workerKey(wID))
	pipe.SRem(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saga/redis: deregister worker: %w", err)
	}
	if del.Val() == 0 {
		return saga.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp and revives a dead
// worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	key := workerKey(workerID.String())
	state, err := s.client.HGet(ctx, key, "state").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return saga.ErrWorkerNotFound
		}
		return fmt.Errorf("saga/redis: heartbeat worker: %w", err)
	}

	fields := []any{"last_seen", time.Now().UTC().Format(time.RFC3339Nano)}
	if cluster.WorkerState(state) == cluster.WorkerDead {
		fields = append(fields, "state", string(cluster.WorkerActive))
	}
	if err := s.client.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("saga/redis: heartbeat worker: %w", err)
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("saga/redis: list workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(ids))
	for _, wID := range ids {
		vals, getErr := s.client.HGetAll(ctx, workerKey(wID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		w, convErr := mapToWorker(vals)
		if convErr != nil {
			continue
		}
		workers = append(workers, w)
	}
	sortWorkers(workers)
	return workers, nil
}

// ReapDeadWorkers marks workers silent for longer than threshold as dead.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	now := time.Now().UTC()

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}

	var dead []*cluster.Worker
	for _, w := range workers {
		if !w.Silent(now, threshold) {
			continue
		}
		if err := s.client.HSet(ctx, workerKey(w.ID.String()), "state", string(cluster.WorkerDead)).Err(); err != nil {
			return nil, fmt.Errorf("saga/redis: reap worker: %w", err)
		}
		w.State = cluster.WorkerDead
		dead = append(dead, w)
	}
	return dead, nil
}

// ── helpers ──

func workerToMap(w *cluster.Worker) map[string]any {
	m := map[string]any{
		"id":          w.ID.String(),
		"hostname":    w.Hostname,
		"concurrency": strconv.Itoa(w.Concurrency),
		"state":       string(w.State),
		"last_seen":   w.LastSeen.UTC().Format(time.RFC3339Nano),
		"created_at":  w.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(w.Metadata) > 0 {
		data, _ := json.Marshal(w.Metadata) //nolint:errcheck // map[string]string always encodes
		m["metadata"] = string(data)
	}
	return m
}

func mapToWorker(m map[string]string) (*cluster.Worker, error) {
	wID, err := id.ParseWorkerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("saga/redis: parse worker id: %w", err)
	}

	concurrency, _ := strconv.Atoi(m["concurrency"])              //nolint:errcheck // best-effort parse from trusted Redis data
	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	w := &cluster.Worker{
		ID:          wID,
		Hostname:    m["hostname"],
		Concurrency: concurrency,
		State:       cluster.WorkerState(m["state"]),
		LastSeen:    lastSeen,
		CreatedAt:   createdAt,
	}
	if raw := m["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &w.Metadata); err != nil {
			return nil, fmt.Errorf("saga/redis: decode worker metadata: %w", err)
		}
	}
	return w, nil
}

func sortWorkers(workers []*cluster.Worker) {
	sort.Slice(workers, func(i, k int) bool {
		return workers[i].CreatedAt.Before(workers[k].CreatedAt)
	})
}
