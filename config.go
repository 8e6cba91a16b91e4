package saga

import "time"

// Config holds configuration for the Orchestrator.
type Config struct {
	// Concurrency is the maximum number of executions driven concurrently
	// by one process.
	Concurrency int

	// PollInterval is how often the worker pool looks for runnable
	// executions (pending, or abandoned by a crashed driver).
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// LeaseTTL bounds how long a driver owns an execution without renewing.
	// A crashed driver's claim becomes reclaimable after this long.
	LeaseTTL time.Duration

	// HeartbeatInterval is how often a driver process refreshes its worker
	// registration.
	HeartbeatInterval time.Duration

	// DeadWorkerThreshold is how long without a heartbeat before a worker
	// is considered dead.
	DeadWorkerThreshold time.Duration

	// WorkflowTimeout is the default overall deadline of an execution when
	// its definition does not declare one.
	WorkflowTimeout time.Duration

	// Step retry defaults, used when a step declares no retry policy.
	StepMaxAttempts    int
	StepAttemptTimeout time.Duration
	StepDeadline       time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	BackoffJitter      float64

	// HealthWarnAfter and HealthCriticalAfter are running-time thresholds
	// for health issue detection.
	HealthWarnAfter     time.Duration
	HealthCriticalAfter time.Duration

	// UnhealthyAttempts flags a step as unhealthy once its attempt count
	// reaches this value.
	UnhealthyAttempts int

	// SweepSchedule is the cron expression of the periodic health and
	// recovery sweep.
	SweepSchedule string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         10,
		PollInterval:        1 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		LeaseTTL:            30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		DeadWorkerThreshold: 1 * time.Minute,
		WorkflowTimeout:     24 * time.Hour,
		StepMaxAttempts:     3,
		StepAttemptTimeout:  30 * time.Second,
		StepDeadline:        5 * time.Minute,
		BackoffInitial:      1 * time.Second,
		BackoffMax:          1 * time.Minute,
		BackoffJitter:       0.5,
		HealthWarnAfter:     4 * time.Hour,
		HealthCriticalAfter: 12 * time.Hour,
		UnhealthyAttempts:   5,
		SweepSchedule:       "@every 1m",
	}
}
