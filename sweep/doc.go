// Package sweep runs the periodic fleet maintenance pass.
//
// On every tick of its cron schedule (robfig/cron syntax, including
// descriptors such as "@every 1m") a [Sweeper] takes the cluster-wide
// "sweep" lease so only one process sweeps at a time, then:
//
//   - marks workers without a recent heartbeat dead and emits WorkerReaped,
//   - runs monitor.DetectHealthIssues and emits each issue,
//   - re-drives orphaned executions, whose lease lapsed with no driver,
//     when a Driver is configured.
//
// [Sweeper.Sweep] runs one pass on demand and returns its [Report].
package sweep
