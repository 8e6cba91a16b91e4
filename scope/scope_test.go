package scope_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/xraph/saga/scope"
)

func TestWithAndFrom(t *testing.T) {
	s := scope.Scope{TenantID: "t1", UserID: "u1", CorrelationID: "c1"}
	ctx := scope.With(context.Background(), s)

	got, ok := scope.From(ctx)
	if !ok {
		t.Fatal("expected scope in context")
	}
	if got != s {
		t.Errorf("From() = %+v, want %+v", got, s)
	}
}

func TestWithZeroIsNoop(t *testing.T) {
	ctx := context.Background()
	if scope.With(ctx, scope.Scope{}) != ctx {
		t.Error("zero scope should return the same context")
	}
	if !scope.Capture(ctx).IsZero() {
		t.Error("Capture on empty context should be zero")
	}
}

func TestCopyOnWrite(t *testing.T) {
	base := scope.Scope{TenantID: "t1", SessionID: "s1"}
	next := base.WithTenant("t2").WithSession("s2")
	if base.TenantID != "t1" || base.SessionID != "s1" {
		t.Errorf("base mutated: %+v", base)
	}
	if next.TenantID != "t2" || next.SessionID != "s2" {
		t.Errorf("next = %+v", next)
	}
}

func TestHeadersRoundTrip(t *testing.T) {
	s := scope.Scope{TenantID: "t1", UserID: "u1", SessionID: "s1", CorrelationID: "c1"}
	h := http.Header{}
	scope.Inject(h, s)
	if got := scope.Extract(h); got != s {
		t.Errorf("Extract() = %+v, want %+v", got, s)
	}
}
