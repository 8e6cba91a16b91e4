// Package retry runs an operation under a bounded retry policy.
//
// Three timeout levels are kept apart: each attempt runs under
// Policy.AttemptTimeout (surfacing saga.ErrAttemptTimeout, retryable), the
// whole loop runs under Policy.Deadline (surfacing saga.ErrStepBudgetExceeded,
// terminal), and any deadline on the caller's context (the workflow deadline)
// is returned to the caller untouched.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/backoff"
)

// Policy bounds how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// Backoff computes the sleep between attempts. Nil means no sleep.
	Backoff backoff.Strategy

	// AttemptTimeout bounds every individual attempt. Zero disables it.
	AttemptTimeout time.Duration

	// Deadline bounds the whole retry loop including sleeps. Zero disables it.
	Deadline time.Duration

	// Retryable separates transient from terminal errors. Nil uses
	// DefaultClassifier.
	Retryable func(error) bool

	// OnRetry, if set, is called after a failed attempt that will be
	// retried, with the delay about to be slept.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns three attempts with jittered exponential backoff,
// a 30s attempt timeout and a 5m overall budget.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Backoff:        backoff.DefaultStrategy(),
		AttemptTimeout: 30 * time.Second,
		Deadline:       5 * time.Minute,
	}
}

// FromConfig builds the default step policy from orchestrator config.
func FromConfig(cfg saga.Config) Policy {
	return Policy{
		MaxAttempts:    cfg.StepMaxAttempts,
		Backoff:        &backoff.Exponential{Initial: cfg.BackoffInitial, Max: cfg.BackoffMax, Multiplier: 2, Jitter: cfg.BackoffJitter},
		AttemptTimeout: cfg.StepAttemptTimeout,
		Deadline:       cfg.StepDeadline,
	}
}

// NoRetry is a single-attempt policy.
func NoRetry() Policy { return Policy{MaxAttempts: 1} }

// Op is one attempt of a retried operation. attempt starts at 1.
type Op[T any] func(ctx context.Context, attempt int) (T, error)

// Do runs op until it succeeds, fails with a terminal error, or the policy
// is exhausted. Exhaustion returns an *ExhaustedError wrapping the last
// error.
func Do[T any](ctx context.Context, p Policy, op Op[T]) (T, error) {
	var zero T

	maxAttempts := max(p.MaxAttempts, 1)
	classify := p.Retryable
	if classify == nil {
		classify = DefaultClassifier
	}

	loopCtx := ctx
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		loopCtx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := runAttempt(loopCtx, p.AttemptTimeout, attempt, op)
		if err == nil {
			return v, nil
		}

		// The caller's own context always wins.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if loopCtx.Err() != nil {
			return zero, &BudgetError{Attempts: attempt, Budget: p.Deadline, Last: err}
		}

		last = err
		if !classify(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff.Delay(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := sleep(loopCtx, delay); err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, &BudgetError{Attempts: attempt, Budget: p.Deadline, Last: last}
		}
	}
	return zero, &ExhaustedError{Attempts: maxAttempts, Last: last}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, attempt int, op Op[T]) (T, error) {
	if timeout <= 0 {
		return op(ctx, attempt)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := op(actx, attempt)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return v, &AttemptTimeoutError{Attempt: attempt, Timeout: timeout, Err: err}
	}
	return v, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ──────────────────────────────────────────────────
// Classification
// ──────────────────────────────────────────────────

// DefaultClassifier reports whether err is worth another attempt. Errors
// that implement saga.Retryable decide for themselves; cancellation and
// validation are terminal; everything else is assumed transient.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	var r saga.Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, saga.ErrValidation),
		errors.Is(err, saga.ErrSecurityViolation),
		errors.Is(err, saga.ErrInternal),
		errors.Is(err, saga.ErrUnknownOperation):
		return false
	}
	return true
}

// ──────────────────────────────────────────────────
// Errors
// ──────────────────────────────────────────────────

// ExhaustedError is returned when every attempt failed with a retryable
// error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("saga: retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is matches saga.ErrRetriesExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == saga.ErrRetriesExhausted }

// Kind implements saga.Kinded.
func (e *ExhaustedError) Kind() saga.ErrorKind { return saga.KindRetriesExhausted }

// Retryable implements saga.Retryable.
func (e *ExhaustedError) Retryable() bool { return false }

// AttemptTimeoutError is a single attempt that ran past its timeout.
type AttemptTimeoutError struct {
	Attempt int
	Timeout time.Duration
	Err     error
}

func (e *AttemptTimeoutError) Error() string {
	return fmt.Sprintf("saga: attempt %d timed out after %s: %v", e.Attempt, e.Timeout, e.Err)
}

func (e *AttemptTimeoutError) Unwrap() error { return e.Err }

// Is matches saga.ErrAttemptTimeout.
func (e *AttemptTimeoutError) Is(target error) bool { return target == saga.ErrAttemptTimeout }

// Kind implements saga.Kinded.
func (e *AttemptTimeoutError) Kind() saga.ErrorKind { return saga.KindAttemptTimeout }

// Retryable implements saga.Retryable.
func (e *AttemptTimeoutError) Retryable() bool { return true }

// BudgetError is returned when the policy's overall deadline ran out
// before the operation succeeded.
type BudgetError struct {
	Attempts int
	Budget   time.Duration
	Last     error
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("saga: step budget of %s exceeded after %d attempts: %v", e.Budget, e.Attempts, e.Last)
}

func (e *BudgetError) Unwrap() error { return e.Last }

// Is matches saga.ErrStepBudgetExceeded.
func (e *BudgetError) Is(target error) bool { return target == saga.ErrStepBudgetExceeded }

// Kind implements saga.Kinded.
func (e *BudgetError) Kind() saga.ErrorKind { return saga.KindStepBudget }

// Retryable implements saga.Retryable.
func (e *BudgetError) Retryable() bool { return false }
