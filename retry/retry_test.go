package retry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/backoff"
	"github.com/xraph/saga/retry"
)

var errTransient = errors.New("connection reset")

func fastPolicy(n int) retry.Policy {
	return retry.Policy{MaxAttempts: n, Backoff: backoff.NewConstant(time.Millisecond)}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	got, err := retry.Do(context.Background(), fastPolicy(3), func(_ context.Context, attempt int) (int, error) {
		return attempt * 10, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != 10 {
		t.Errorf("result = %d, want 10", got)
	}
}

func TestDo_ExactlyNAttemptsThenExhausted(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		var calls atomic.Int32
		_, err := retry.Do(context.Background(), fastPolicy(n), func(context.Context, int) (struct{}, error) {
			calls.Add(1)
			return struct{}{}, errTransient
		})

		if got := int(calls.Load()); got != n {
			t.Errorf("n=%d: attempts = %d, want %d", n, got, n)
		}
		if !errors.Is(err, saga.ErrRetriesExhausted) {
			t.Fatalf("n=%d: err = %v, want ErrRetriesExhausted", n, err)
		}
		if !errors.Is(err, errTransient) {
			t.Errorf("n=%d: exhausted error should wrap the last error", n)
		}
		var ex *retry.ExhaustedError
		if !errors.As(err, &ex) || ex.Attempts != n {
			t.Errorf("n=%d: ExhaustedError.Attempts = %v, want %d", n, ex, n)
		}
		if saga.KindOf(err) != saga.KindRetriesExhausted {
			t.Errorf("n=%d: KindOf = %q", n, saga.KindOf(err))
		}
	}
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	var retries []int
	p := fastPolicy(5)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }

	got, err := retry.Do(context.Background(), p, func(_ context.Context, attempt int) (string, error) {
		if attempt < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Do = %q, %v", got, err)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", retries)
	}
}

func TestDo_TerminalErrorStopsImmediately(t *testing.T) {
	var calls int
	verr := saga.NewValidationError("email", "required")
	_, err := retry.Do(context.Background(), fastPolicy(5), func(context.Context, int) (int, error) {
		calls++
		return 0, verr
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, saga.ErrValidation) || errors.Is(err, saga.ErrRetriesExhausted) {
		t.Errorf("err = %v, want the validation error unwrapped", err)
	}
}

func TestDo_CustomClassifier(t *testing.T) {
	var calls int
	p := fastPolicy(4)
	p.Retryable = func(error) bool { return false }
	_, _ = retry.Do(context.Background(), p, func(context.Context, int) (int, error) {
		calls++
		return 0, errTransient
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_AttemptTimeoutIsRetryable(t *testing.T) {
	var calls atomic.Int32
	p := fastPolicy(3)
	p.AttemptTimeout = 10 * time.Millisecond

	_, err := retry.Do(context.Background(), p, func(ctx context.Context, _ int) (int, error) {
		calls.Add(1)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if !errors.Is(err, saga.ErrRetriesExhausted) || !errors.Is(err, saga.ErrAttemptTimeout) {
		t.Errorf("err = %v, want exhausted wrapping attempt timeout", err)
	}
}

func TestDo_BudgetExceeded(t *testing.T) {
	p := retry.Policy{
		MaxAttempts: 100,
		Backoff:     backoff.NewConstant(20 * time.Millisecond),
		Deadline:    50 * time.Millisecond,
	}
	_, err := retry.Do(context.Background(), p, func(context.Context, int) (int, error) {
		return 0, errTransient
	})
	if !errors.Is(err, saga.ErrStepBudgetExceeded) {
		t.Fatalf("err = %v, want ErrStepBudgetExceeded", err)
	}
	if saga.KindOf(err) != saga.KindStepBudget {
		t.Errorf("KindOf = %q, want %q", saga.KindOf(err), saga.KindStepBudget)
	}
}

func TestDo_CallerCancellationWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 10, Backoff: backoff.NewConstant(time.Hour)}

	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(ctx, p, func(context.Context, int) (int, error) { return 0, errTransient })
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not observe cancellation")
	}
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", errTransient, true},
		{"validation", saga.NewValidationError("f", "bad"), false},
		{"security", saga.NewSecurityError("state mismatch", nil), false},
		{"cancelled", context.Canceled, false},
		{"exhausted", &retry.ExhaustedError{Attempts: 1, Last: errTransient}, false},
		{"attempt timeout", &retry.AttemptTimeoutError{Attempt: 1, Err: context.DeadlineExceeded}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retry.DefaultClassifier(tt.err); got != tt.want {
				t.Errorf("DefaultClassifier(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := saga.DefaultConfig()
	p := retry.FromConfig(cfg)
	if p.MaxAttempts != cfg.StepMaxAttempts || p.AttemptTimeout != cfg.StepAttemptTimeout || p.Deadline != cfg.StepDeadline {
		t.Errorf("FromConfig = %+v", p)
	}
}
