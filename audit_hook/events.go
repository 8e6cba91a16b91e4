package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionExecutionSubmitted  = "execution.submitted"
	ActionExecutionStarted    = "execution.started"
	ActionExecutionCompleted  = "execution.completed"
	ActionExecutionFailed     = "execution.failed"
	ActionExecutionRolledBack = "execution.rolled_back"
	ActionCompensating        = "execution.compensating"
	ActionStepCompleted       = "step.completed"
	ActionStepFailed          = "step.failed"
	ActionStepRetrying        = "step.retrying"
	ActionSecurityViolation   = "security.violation"
	ActionHealthIssue         = "fleet.health_issue"
	ActionWorkerReaped        = "fleet.worker_reaped"
)

// Audit event categories group related actions.
const (
	CategoryExecution = "saga.execution"
	CategoryStep      = "saga.step"
	CategorySecurity  = "saga.security"
	CategoryFleet     = "saga.fleet"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceExecution = "execution"
	ResourceWorker    = "worker"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionExecutionSubmitted,
		ActionExecutionStarted,
		ActionExecutionCompleted,
		ActionExecutionFailed,
		ActionExecutionRolledBack,
		ActionCompensating,
		ActionStepCompleted,
		ActionStepFailed,
		ActionStepRetrying,
		ActionSecurityViolation,
		ActionHealthIssue,
		ActionWorkerReaped,
	}
}
