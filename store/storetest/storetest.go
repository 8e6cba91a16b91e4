// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/scope"
	"github.com/xraph/saga/store"
	"github.com/xraph/saga/workflow"
)

// Factory returns a fresh, migrated, empty store.
type Factory func(t *testing.T) store.Store

// Run executes the full suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("Executions", func(t *testing.T) { testExecutions(t, newStore(t)) })
	t.Run("CancelFlag", func(t *testing.T) { testCancelFlag(t, newStore(t)) })
	t.Run("ListExecutions", func(t *testing.T) { testListExecutions(t, newStore(t)) })
	t.Run("Steps", func(t *testing.T) { testSteps(t, newStore(t)) })
	t.Run("Leases", func(t *testing.T) { testLeases(t, newStore(t)) })
	t.Run("Workers", func(t *testing.T) { testWorkers(t, newStore(t)) })
}

// NewExecution returns a pending execution of typ created at createdAt.
func NewExecution(typ, tenant string, createdAt time.Time) *workflow.Execution {
	return &workflow.Execution{
		ID:            id.NewExecutionID(),
		RunID:         id.NewRunID(),
		Type:          typ,
		Version:       1,
		Status:        workflow.StatusPending,
		Input:         json.RawMessage(`{"user_id":"u-1"}`),
		Scope:         scope.Scope{TenantID: tenant, UserID: "u-1"},
		CorrelationID: "corr-1",
		TotalSteps:    3,
		Deadline:      createdAt.Add(time.Hour),
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func testExecutions(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	e := NewExecution("user_registration", "t-1", now)

	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if err := s.CreateExecution(ctx, e); !errors.Is(err, saga.ErrExecutionExists) {
		t.Errorf("duplicate CreateExecution = %v, want ErrExecutionExists", err)
	}

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Type != e.Type || got.Status != workflow.StatusPending {
		t.Errorf("got type=%q status=%q, want %q pending", got.Type, got.Status, e.Type)
	}
	if got.Scope != e.Scope {
		t.Errorf("scope = %+v, want %+v", got.Scope, e.Scope)
	}
	if string(got.Input) != string(e.Input) {
		t.Errorf("input = %s, want %s", got.Input, e.Input)
	}
	if !got.Deadline.Equal(e.Deadline) {
		t.Errorf("deadline = %v, want %v", got.Deadline, e.Deadline)
	}

	started := now.Add(time.Second)
	got.Status = workflow.StatusCompleted
	got.Output = json.RawMessage(`{"ok":true}`)
	got.CurrentStep = 3
	got.StartedAt = &started
	got.CompletedAt = &started
	if err := s.UpdateExecution(ctx, got); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}
	again, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if again.Status != workflow.StatusCompleted || again.CurrentStep != 3 {
		t.Errorf("after update status=%q step=%d", again.Status, again.CurrentStep)
	}
	if again.CompletedAt == nil || !again.CompletedAt.Equal(started) {
		t.Errorf("CompletedAt = %v, want %v", again.CompletedAt, started)
	}

	if _, err := s.GetExecution(ctx, id.NewExecutionID()); !errors.Is(err, saga.ErrExecutionNotFound) {
		t.Errorf("GetExecution(missing) = %v, want ErrExecutionNotFound", err)
	}
	missing := NewExecution("x", "", now)
	if err := s.UpdateExecution(ctx, missing); !errors.Is(err, saga.ErrExecutionNotFound) {
		t.Errorf("UpdateExecution(missing) = %v, want ErrExecutionNotFound", err)
	}
}

func testCancelFlag(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := NewExecution("gdpr_deletion", "t-1", time.Now().UTC())
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if err := s.SetCancelRequested(ctx, e.ID, true); err != nil {
		t.Fatalf("SetCancelRequested: %v", err)
	}

	// A driver holding a stale copy must not clear the flag.
	e.Status = workflow.StatusRunning
	e.CancelRequested = false
	if err := s.UpdateExecution(ctx, e); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}
	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if !got.CancelRequested {
		t.Error("CancelRequested was cleared by UpdateExecution")
	}
	if got.Status != workflow.StatusRunning {
		t.Errorf("status = %q, want running", got.Status)
	}

	if err := s.SetCancelRequested(ctx, e.ID, false); err != nil {
		t.Fatalf("SetCancelRequested(false): %v", err)
	}
	got, _ = s.GetExecution(ctx, e.ID)
	if got.CancelRequested {
		t.Error("CancelRequested = true after clearing")
	}
	if err := s.SetCancelRequested(ctx, id.NewExecutionID(), true); !errors.Is(err, saga.ErrExecutionNotFound) {
		t.Errorf("SetCancelRequested(missing) = %v, want ErrExecutionNotFound", err)
	}
}

func testListExecutions(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)

	var ids []id.ExecutionID
	for i := range 5 {
		typ, tenant := "user_registration", "t-1"
		if i%2 == 1 {
			typ, tenant = "tenant_switch", "t-2"
		}
		e := NewExecution(typ, tenant, base.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			e.Status = workflow.StatusRunning
		}
		if err := s.CreateExecution(ctx, e); err != nil {
			t.Fatalf("CreateExecution: %v", err)
		}
		ids = append(ids, e.ID)
	}

	all, err := s.ListExecutions(ctx, workflow.ListOpts{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	for i, e := range all {
		if e.ID != ids[i] {
			t.Errorf("all[%d] = %s, want %s (oldest first)", i, e.ID, ids[i])
		}
	}

	tests := []struct {
		name string
		opts workflow.ListOpts
		want int
	}{
		{"type", workflow.ListOpts{Type: "tenant_switch"}, 2},
		{"tenant", workflow.ListOpts{TenantID: "t-1"}, 3},
		{"status", workflow.ListOpts{Statuses: []workflow.Status{workflow.StatusRunning}}, 1},
		{"statuses", workflow.ListOpts{Statuses: []workflow.Status{workflow.StatusRunning, workflow.StatusPending}}, 5},
		{"created after", workflow.ListOpts{CreatedAfter: base.Add(2 * time.Minute)}, 3},
		{"created before", workflow.ListOpts{CreatedBefore: base.Add(2 * time.Minute)}, 2},
		{"limit", workflow.ListOpts{Limit: 2}, 2},
		{"offset", workflow.ListOpts{Offset: 3}, 2},
		{"offset past end", workflow.ListOpts{Offset: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListExecutions(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListExecutions: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func testSteps(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	e := NewExecution("user_registration", "t-1", now)
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	for _, idx := range []int{2, 0, 1} {
		rec := &workflow.StepRecord{
			ExecutionID:    e.ID,
			Index:          idx,
			StepIndex:      idx,
			Name:           "step",
			Kind:           workflow.KindActivity,
			Status:         workflow.StepRunning,
			Attempts:       1,
			Input:          json.RawMessage(`{}`),
			IdempotencyKey: "k",
			StartedAt:      now,
		}
		if err := s.SaveStep(ctx, rec); err != nil {
			t.Fatalf("SaveStep(%d): %v", idx, err)
		}
	}

	done := now.Add(time.Second)
	upd := &workflow.StepRecord{
		ExecutionID: e.ID,
		Index:       1,
		StepIndex:   1,
		Name:        "step",
		Kind:        workflow.KindActivity,
		Status:      workflow.StepFailed,
		Attempts:    3,
		Error:       "boom",
		ErrorKind:   saga.KindRetriesExhausted,
		StartedAt:   now,
		CompletedAt: &done,
	}
	if err := s.SaveStep(ctx, upd); err != nil {
		t.Fatalf("SaveStep(upsert): %v", err)
	}

	recs, err := s.ListSteps(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i, r := range recs {
		if r.Index != i {
			t.Errorf("recs[%d].Index = %d, want %d", i, r.Index, i)
		}
	}
	if recs[1].Status != workflow.StepFailed || recs[1].Attempts != 3 {
		t.Errorf("upserted record status=%q attempts=%d", recs[1].Status, recs[1].Attempts)
	}
	if recs[1].ErrorKind != saga.KindRetriesExhausted {
		t.Errorf("ErrorKind = %q, want %q", recs[1].ErrorKind, saga.KindRetriesExhausted)
	}
	if recs[1].CompletedAt == nil || recs[1].Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", recs[1].Duration())
	}

	empty, err := s.ListSteps(ctx, id.NewExecutionID())
	if err != nil {
		t.Fatalf("ListSteps(missing): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("len = %d, want 0", len(empty))
	}
}

func testLeases(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := cluster.ExecutionLeaseKey(id.NewExecutionID())

	l, err := s.AcquireLease(ctx, key, "a", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if l.Owner != "a" || l.Key != key {
		t.Errorf("lease = %+v", l)
	}
	if _, err := s.AcquireLease(ctx, key, "a", time.Minute); err != nil {
		t.Errorf("re-acquire by owner: %v", err)
	}
	if _, err := s.AcquireLease(ctx, key, "b", time.Minute); !errors.Is(err, saga.ErrLeaseConflict) {
		t.Errorf("AcquireLease(b) = %v, want ErrLeaseConflict", err)
	}
	if _, err := s.RenewLease(ctx, key, "b", time.Minute); !errors.Is(err, saga.ErrLeaseLost) {
		t.Errorf("RenewLease(b) = %v, want ErrLeaseLost", err)
	}
	if _, err := s.RenewLease(ctx, key, "a", time.Minute); err != nil {
		t.Errorf("RenewLease(a): %v", err)
	}

	// Releasing someone else's lease is a no-op.
	if err := s.ReleaseLease(ctx, key, "b"); err != nil {
		t.Fatalf("ReleaseLease(b): %v", err)
	}
	got, err := s.GetLease(ctx, key)
	if err != nil {
		t.Fatalf("GetLease: %v", err)
	}
	if got.Owner != "a" {
		t.Errorf("owner = %q, want a", got.Owner)
	}

	if err := s.ReleaseLease(ctx, key, "a"); err != nil {
		t.Fatalf("ReleaseLease(a): %v", err)
	}
	if _, err := s.GetLease(ctx, key); !errors.Is(err, saga.ErrLeaseNotFound) {
		t.Errorf("GetLease after release = %v, want ErrLeaseNotFound", err)
	}
	if _, err := s.RenewLease(ctx, key, "a", time.Minute); !errors.Is(err, saga.ErrLeaseLost) {
		t.Errorf("RenewLease after release = %v, want ErrLeaseLost", err)
	}
	if _, err := s.AcquireLease(ctx, key, "b", time.Minute); err != nil {
		t.Errorf("AcquireLease(b) after release: %v", err)
	}

	// An expired lease may be taken over.
	short := cluster.ExecutionLeaseKey(id.NewExecutionID())
	if _, err := s.AcquireLease(ctx, short, "a", 50*time.Millisecond); err != nil {
		t.Fatalf("AcquireLease(short): %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := s.AcquireLease(ctx, short, "b", time.Minute); err != nil {
		t.Errorf("takeover of expired lease: %v", err)
	}
	if _, err := s.RenewLease(ctx, short, "a", time.Minute); !errors.Is(err, saga.ErrLeaseLost) {
		t.Errorf("RenewLease by previous owner = %v, want ErrLeaseLost", err)
	}
}

func testWorkers(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	fresh := &cluster.Worker{
		ID: id.NewWorkerID(), Hostname: "node-a", Concurrency: 4,
		State: cluster.WorkerActive, LastSeen: now, CreatedAt: now,
		Metadata: map[string]string{"zone": "eu"},
	}
	stale := &cluster.Worker{
		ID: id.NewWorkerID(), Hostname: "node-b", Concurrency: 4,
		State: cluster.WorkerActive, LastSeen: now.Add(-time.Hour), CreatedAt: now.Add(-time.Hour),
	}
	for _, w := range []*cluster.Worker{fresh, stale} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("len = %d, want 2", len(workers))
	}

	dead, err := s.ReapDeadWorkers(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapDeadWorkers: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != stale.ID {
		t.Fatalf("dead = %v, want [%s]", dead, stale.ID)
	}
	if dead[0].State != cluster.WorkerDead {
		t.Errorf("state = %q, want dead", dead[0].State)
	}
	if again, err := s.ReapDeadWorkers(ctx, time.Minute); err != nil || len(again) != 0 {
		t.Errorf("second ReapDeadWorkers = %v, %v, want none", again, err)
	}

	if err := s.HeartbeatWorker(ctx, fresh.ID); err != nil {
		t.Errorf("HeartbeatWorker: %v", err)
	}
	if err := s.DeregisterWorker(ctx, stale.ID); err != nil {
		t.Errorf("DeregisterWorker: %v", err)
	}
	if err := s.DeregisterWorker(ctx, stale.ID); !errors.Is(err, saga.ErrWorkerNotFound) {
		t.Errorf("DeregisterWorker(again) = %v, want ErrWorkerNotFound", err)
	}
	if err := s.HeartbeatWorker(ctx, stale.ID); !errors.Is(err, saga.ErrWorkerNotFound) {
		t.Errorf("HeartbeatWorker(missing) = %v, want ErrWorkerNotFound", err)
	}
	workers, _ = s.ListWorkers(ctx)
	if len(workers) != 1 {
		t.Errorf("len = %d, want 1", len(workers))
	}
}
