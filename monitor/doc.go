// Package monitor answers read-only questions about executions: progress
// and ETA of one execution, analytics over a time window, health issues
// across the active fleet, a full debug trace, and collaborator health.
//
// Nothing in this package mutates state. Health issues are derived from
// persisted executions, step records and leases on every call.
package monitor
