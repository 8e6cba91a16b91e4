// Package redis implements store.Store on Redis.
//
// Executions are Hashes holding a msgpack-encoded record plus a separate
// cancel flag, indexed by a Sorted Set scored on creation time. Step
// records live in one Hash per execution keyed by record index. Leases
// are Hashes mutated by Lua scripts so acquire and renew are atomic.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
