// Package ext defines the extension system for saga executions.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, publishing to a broker, writing audit records.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnExecutionCompleted(ctx context.Context, x *workflow.Execution, elapsed time.Duration) error {
//	    log.Printf("execution %s completed in %s", x.ID, elapsed)
//	    return nil
//	}
//
// # Execution Hooks
//
//   - [ExecutionSubmitted]: execution persisted as pending
//   - [ExecutionStarted]: a driver took the execution
//   - [ExecutionCompleted]: execution finished successfully
//   - [ExecutionFailed]: execution failed or timed out
//   - [Compensating]: execution began unwinding
//   - [ExecutionRolledBack]: every compensation succeeded
//
// # Step Hooks
//
//   - [StepCompleted], [StepFailed], [StepRetrying]
//   - [SecurityViolation]: a step was denied for security reasons
//
// # Fleet Hooks
//
//   - [HealthIssueDetected]: the sweep found a stuck or orphaned execution
//   - [WorkerReaped]: a silent worker was marked dead
//   - [Shutdown]: the process is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface, and satisfies
// workflow.Emitter so it plugs straight into the Runner.
package ext
