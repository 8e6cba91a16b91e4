// Package audithook is a saga extension that turns lifecycle events into
// an audit trail.
//
// Every execution, step and fleet hook emits a structured [AuditEvent]
// through the [Recorder] interface, with a severity (info for normal
// operations, warning for retries and step failures, critical for terminal
// failures and security violations) and metadata carrying the execution's
// tenant, user, session and correlation id.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Append(ctx, evt)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionExecutionFailed,
//	        audithook.ActionExecutionRolledBack,
//	    ),
//	)
//
// Security violations are recorded regardless of the filter.
package audithook
