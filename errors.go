package saga

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("saga: no store configured")
	ErrStoreClosed     = errors.New("saga: store closed")
	ErrMigrationFailed = errors.New("saga: migration failed")
	ErrNoClient        = errors.New("saga: no activity client configured")

	// Not found errors.
	ErrExecutionNotFound = errors.New("saga: execution not found")
	ErrWorkflowNotFound  = errors.New("saga: workflow not registered")
	ErrWorkerNotFound    = errors.New("saga: worker not found")
	ErrLeaseNotFound     = errors.New("saga: lease not found")
	ErrUnknownOperation  = errors.New("saga: unknown activity operation")

	// Conflict errors.
	ErrExecutionExists = errors.New("saga: execution already exists")
	ErrLeaseConflict   = errors.New("saga: execution is leased by another driver")
	ErrLeaseLost       = errors.New("saga: execution lease lost")

	// State errors.
	ErrInvalidState = errors.New("saga: invalid state transition")
	ErrCancelled    = errors.New("saga: execution cancelled")

	// Retry and timeout errors. The three timeout levels are distinct so
	// operators can tell one flaky call from a stuck process.
	ErrRetriesExhausted   = errors.New("saga: retries exhausted")
	ErrAttemptTimeout     = errors.New("saga: activity attempt timed out")
	ErrStepBudgetExceeded = errors.New("saga: step retry budget exceeded")
	ErrWorkflowDeadline   = errors.New("saga: workflow deadline exceeded")

	// Classification sentinels matched by the typed errors below.
	ErrValidation        = errors.New("saga: validation failed")
	ErrSecurityViolation = errors.New("saga: security violation")
	ErrInternal          = errors.New("saga: internal error")
)

// ErrorKind is the stable classification stored on executions and step
// records.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindValidation       ErrorKind = "validation"
	KindCommunication    ErrorKind = "communication"
	KindRejected         ErrorKind = "rejected"
	KindDecode           ErrorKind = "decode"
	KindRetriesExhausted ErrorKind = "retries_exhausted"
	KindAttemptTimeout   ErrorKind = "attempt_timeout"
	KindStepBudget       ErrorKind = "step_budget_exceeded"
	KindWorkflowDeadline ErrorKind = "workflow_deadline"
	KindSecurity         ErrorKind = "security_violation"
	KindInternal         ErrorKind = "internal"
	KindCancelled        ErrorKind = "cancelled"
	KindLease            ErrorKind = "lease"
	KindUnknown          ErrorKind = "unknown"
)

// Kinded is implemented by errors that carry their own classification.
type Kinded interface {
	Kind() ErrorKind
}

// Retryable is implemented by errors that know whether another attempt
// may succeed.
type Retryable interface {
	Retryable() bool
}

// KindOf classifies err. The outermost typed error wins, so a
// retries-exhausted error wrapping a communication error reports
// KindRetriesExhausted.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, ErrRetriesExhausted):
		return KindRetriesExhausted
	case errors.Is(err, ErrAttemptTimeout):
		return KindAttemptTimeout
	case errors.Is(err, ErrStepBudgetExceeded):
		return KindStepBudget
	case errors.Is(err, ErrWorkflowDeadline):
		return KindWorkflowDeadline
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrLeaseConflict), errors.Is(err, ErrLeaseLost):
		return KindLease
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrSecurityViolation):
		return KindSecurity
	case errors.Is(err, ErrInternal):
		return KindInternal
	}
	return KindUnknown
}

// ValidationError reports a malformed request. It fails fast and is never
// retried.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "saga: validation failed: " + e.Reason
	}
	return fmt.Sprintf("saga: validation failed: %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Kind implements Kinded.
func (e *ValidationError) Kind() ErrorKind { return KindValidation }

// Retryable implements Retryable.
func (e *ValidationError) Retryable() bool { return false }

// SecurityError reports a security-relevant failure such as an invalid
// anti-forgery state or a denied cross-tenant access. Always terminal and
// always audited.
type SecurityError struct {
	Reason string
	Err    error
}

// NewSecurityError returns a SecurityError with the given reason.
func NewSecurityError(reason string, err error) *SecurityError {
	return &SecurityError{Reason: reason, Err: err}
}

func (e *SecurityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("saga: security violation: %s: %v", e.Reason, e.Err)
	}
	return "saga: security violation: " + e.Reason
}

func (e *SecurityError) Unwrap() error { return e.Err }

// Is matches ErrSecurityViolation.
func (e *SecurityError) Is(target error) bool { return target == ErrSecurityViolation }

// Kind implements Kinded.
func (e *SecurityError) Kind() ErrorKind { return KindSecurity }

// Retryable implements Retryable.
func (e *SecurityError) Retryable() bool { return false }

// InternalError reports an engine invariant violation.
type InternalError struct {
	Op  string
	Err error
}

// NewInternalError wraps err as an invariant violation in op.
func NewInternalError(op string, err error) *InternalError {
	return &InternalError{Op: op, Err: err}
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("saga: internal error in %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Is matches ErrInternal.
func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// Kind implements Kinded.
func (e *InternalError) Kind() ErrorKind { return KindInternal }

// Retryable implements Retryable.
func (e *InternalError) Retryable() bool { return false }
