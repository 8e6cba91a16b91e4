// Package cluster coordinates the processes that drive executions.
//
// Two concerns live here. [Lease] records give the single-writer
// guarantee: a driver must hold the lease "exec:<id>" before advancing an
// execution, renews it while working and releases it when done. A lease
// that is not renewed expires after its TTL and may then be acquired by any
// other driver, so a crashed process never blocks an execution forever.
//
// [Worker] records describe live driver processes. Each process registers
// itself, heartbeats periodically and is reaped by the sweeper once its
// heartbeat is older than the dead-worker threshold.
package cluster
