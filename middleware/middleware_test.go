package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/middleware"
	"github.com/xraph/saga/scope"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestInvocation() *activity.Invocation {
	return &activity.Invocation{
		Service:       "tenant",
		Operation:     "validate_access",
		ExecutionID:   "exec_123",
		Step:          "validate_access",
		Attempt:       2,
		Scope:         scope.Scope{TenantID: "t1", UserID: "u1"},
		CorrelationID: "corr-1",
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	mk := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *activity.Invocation, next middleware.Handler) ([]byte, error) {
			order = append(order, name+"-before")
			out, err := next(ctx)
			order = append(order, name+"-after")
			return out, err
		}
	}

	chain := middleware.Chain(mk("mw1"), mk("mw2"))
	_, err := chain(context.Background(), newTestInvocation(), func(context.Context) ([]byte, error) {
		order = append(order, "handler")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestWrap_RunsChainAndKeepsHealth(t *testing.T) {
	l := activity.NewLocal()
	l.Handle("tenant", "validate_access", func(context.Context, *activity.Invocation) ([]byte, error) {
		return []byte(`{"has_access":true}`), nil
	})

	var seen int
	counter := func(ctx context.Context, _ *activity.Invocation, next middleware.Handler) ([]byte, error) {
		seen++
		return next(ctx)
	}
	c := middleware.Wrap(l, counter)

	out, err := c.Invoke(context.Background(), newTestInvocation())
	if err != nil || string(out) != `{"has_access":true}` {
		t.Fatalf("Invoke = %s, %v", out, err)
	}
	if seen != 1 {
		t.Errorf("middleware calls = %d, want 1", seen)
	}
	hc, ok := c.(activity.HealthChecker)
	if !ok {
		t.Fatal("wrapped client lost HealthChecker")
	}
	if err := hc.Health(context.Background(), "tenant"); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(silentLogger())
	_, err := mw(context.Background(), newTestInvocation(), func(context.Context) ([]byte, error) {
		panic("test panic")
	})
	if !errors.Is(err, saga.ErrInternal) {
		t.Fatalf("err = %v, want ErrInternal", err)
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	mw := middleware.Logging(silentLogger())
	want := errors.New("fail")
	_, err := mw(context.Background(), newTestInvocation(), func(context.Context) ([]byte, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_AppliesInvocationTimeout(t *testing.T) {
	inv := newTestInvocation()
	inv.Timeout = 10 * time.Millisecond

	_, err := middleware.Timeout()(context.Background(), inv, func(ctx context.Context) ([]byte, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected deadline on context")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestScope_AttachesInvocationScope(t *testing.T) {
	_, _ = middleware.Scope()(context.Background(), newTestInvocation(), func(ctx context.Context) ([]byte, error) {
		s, ok := scope.From(ctx)
		if !ok {
			t.Fatal("expected scope in context")
		}
		if s.TenantID != "t1" || s.CorrelationID != "corr-1" {
			t.Errorf("scope = %+v", s)
		}
		return nil, nil
	})
}

func TestDefault_BuildsFullChain(t *testing.T) {
	if got := len(middleware.Default(silentLogger())); got != 6 {
		t.Errorf("len(Default) = %d, want 6", got)
	}
}
