package relayhook

// Saga lifecycle event types. Each constant maps to one ext lifecycle hook
// and is the default topic of the published message.
const (
	EventExecutionSubmitted  = "saga.execution.submitted"
	EventExecutionStarted    = "saga.execution.started"
	EventExecutionCompleted  = "saga.execution.completed"
	EventExecutionFailed     = "saga.execution.failed"
	EventExecutionRolledBack = "saga.execution.rolled_back"
	EventCompensating        = "saga.execution.compensating"
	EventStepCompleted       = "saga.step.completed"
	EventStepFailed          = "saga.step.failed"
	EventStepRetrying        = "saga.step.retrying"
	EventSecurityViolation   = "saga.security.violation"
	EventHealthIssue         = "saga.fleet.health_issue"
	EventWorkerReaped        = "saga.fleet.worker_reaped"
)

// Definition describes one published event type.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Group       string `json:"group"`
}

// AllDefinitions returns the catalog of every event type this extension
// publishes.
func AllDefinitions() []Definition {
	return []Definition{
		// ── Execution events ────────────────────────────
		{EventExecutionSubmitted, "Fired when an execution is accepted and persisted as pending.", "executions"},
		{EventExecutionStarted, "Fired when a driver acquires the execution lease and starts stepping.", "executions"},
		{EventExecutionCompleted, "Fired when an execution finishes successfully.", "executions"},
		{EventExecutionFailed, "Fired when an execution ends failed or timed_out.", "executions"},
		{EventExecutionRolledBack, "Fired when every compensation of a failed execution has run.", "executions"},
		{EventCompensating, "Fired when an execution enters the compensation phase.", "executions"},
		// ── Step events ─────────────────────────────────
		{EventStepCompleted, "Fired after a step completes successfully.", "steps"},
		{EventStepFailed, "Fired when a step fails after exhausting its retry policy.", "steps"},
		{EventStepRetrying, "Fired when a step attempt fails and another is scheduled.", "steps"},
		{EventSecurityViolation, "Fired when a step detects a tenant or permission violation.", "security"},
		// ── Fleet events ────────────────────────────────
		{EventHealthIssue, "Fired when the periodic sweep detects an unhealthy execution.", "fleet"},
		{EventWorkerReaped, "Fired when a worker stops heartbeating and is marked dead.", "fleet"},
	}
}
