package redis

// All keys carry the "saga:" prefix.
const keyPrefix = "saga:"

// ── Execution keys ──

// executionKey returns the Hash key of an execution: saga:execution:{id}
func executionKey(id string) string { return keyPrefix + "execution:" + id }

// executionIndexKey is the Sorted Set of execution IDs scored by creation
// time in microseconds.
const executionIndexKey = keyPrefix + "executions"

// stepsKey returns the Hash of step records for an execution:
// saga:steps:{executionID}
func stepsKey(executionID string) string { return keyPrefix + "steps:" + executionID }

// ── Cluster keys ──

// leaseKey returns the Hash key of a lease: saga:lease:{key}
func leaseKey(key string) string { return keyPrefix + "lease:" + key }

// workerKey returns the key for a worker entity: saga:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"
