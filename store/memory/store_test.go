package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/saga/store"
	"github.com/xraph/saga/store/memory"
	"github.com/xraph/saga/store/storetest"
	"github.com/xraph/saga/workflow"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestLifecycle(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

func TestLeaseExpiryWithClock(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := memory.New(memory.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := s.AcquireLease(ctx, "exec:1", "a", 10*time.Second); err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	now = now.Add(11 * time.Second)
	l, err := s.AcquireLease(ctx, "exec:1", "b", 10*time.Second)
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if l.Owner != "b" {
		t.Errorf("owner = %q, want b", l.Owner)
	}
}

func TestReturnsCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	e := storetest.NewExecution("user_registration", "t-1", time.Now().UTC())
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	e.Status = workflow.StatusFailed

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != workflow.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	got.Status = workflow.StatusRunning
	again, _ := s.GetExecution(ctx, e.ID)
	if again.Status != workflow.StatusPending {
		t.Errorf("store mutated through returned pointer: %q", again.Status)
	}
}
