package cluster

import (
	"time"

	"github.com/xraph/saga/id"
)

// WorkerState is either WorkerActive or WorkerDead.
type WorkerState string

const (
	WorkerActive WorkerState = "active"
	// WorkerDead is set by the sweep once heartbeats stop. Its leases are
	// left to expire and its executions are picked up by other drivers.
	WorkerDead WorkerState = "dead"
)

// Worker describes one process running a driver pool.
type Worker struct {
	ID          id.WorkerID       `json:"id"`
	Hostname    string            `json:"hostname"`
	Concurrency int               `json:"concurrency"`
	State       WorkerState       `json:"state"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Silent reports whether an active worker has not heartbeated within
// threshold of now. Dead workers are never silent, so a reap is
// idempotent.
func (w *Worker) Silent(now time.Time, threshold time.Duration) bool {
	return w.State != WorkerDead && w.LastSeen.Before(now.Add(-threshold))
}
