package cluster

import (
	"time"

	"github.com/xraph/saga/id"
)

// Lease is a time-bounded, renewable claim on a key.
type Lease struct {
	Key        string    `json:"key"`
	Owner      string    `json:"owner"`
	ExpiresAt  time.Time `json:"expires_at"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Expired reports whether the lease has lapsed at now.
func (l *Lease) Expired(now time.Time) bool { return !now.Before(l.ExpiresAt) }

// ExecutionLeaseKey is the lease key guarding one execution.
func ExecutionLeaseKey(executionID id.ExecutionID) string {
	return "exec:" + executionID.String()
}
