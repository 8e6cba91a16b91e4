package saga_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/saga"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want saga.ErrorKind
	}{
		{"nil", nil, saga.KindNone},
		{"validation", saga.NewValidationError("email", "required"), saga.KindValidation},
		{"wrapped validation", fmt.Errorf("step: %w", saga.NewValidationError("", "bad")), saga.KindValidation},
		{"security", saga.NewSecurityError("state mismatch", nil), saga.KindSecurity},
		{"internal", saga.NewInternalError("drive", errors.New("boom")), saga.KindInternal},
		{"exhausted sentinel", fmt.Errorf("x: %w", saga.ErrRetriesExhausted), saga.KindRetriesExhausted},
		{"attempt timeout", saga.ErrAttemptTimeout, saga.KindAttemptTimeout},
		{"budget", saga.ErrStepBudgetExceeded, saga.KindStepBudget},
		{"deadline", saga.ErrWorkflowDeadline, saga.KindWorkflowDeadline},
		{"cancelled", saga.ErrCancelled, saga.KindCancelled},
		{"lease", saga.ErrLeaseConflict, saga.KindLease},
		{"unknown", errors.New("mystery"), saga.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := saga.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	if !errors.Is(saga.NewValidationError("f", "r"), saga.ErrValidation) {
		t.Error("ValidationError should match ErrValidation")
	}
	if !errors.Is(saga.NewSecurityError("r", nil), saga.ErrSecurityViolation) {
		t.Error("SecurityError should match ErrSecurityViolation")
	}
	inner := errors.New("inner")
	ie := saga.NewInternalError("op", inner)
	if !errors.Is(ie, saga.ErrInternal) || !errors.Is(ie, inner) {
		t.Error("InternalError should match ErrInternal and unwrap to its cause")
	}
}
