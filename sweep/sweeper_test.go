package sweep_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/store/memory"
	"github.com/xraph/saga/sweep"
	"github.com/xraph/saga/workflow"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu     sync.Mutex
	issues []monitor.HealthIssue
	reaped []*cluster.Worker
}

func (r *recorder) EmitHealthIssue(_ context.Context, issue monitor.HealthIssue) {
	r.mu.Lock()
	r.issues = append(r.issues, issue)
	r.mu.Unlock()
}

func (r *recorder) EmitWorkerReaped(_ context.Context, w *cluster.Worker) {
	r.mu.Lock()
	r.reaped = append(r.reaped, w)
	r.mu.Unlock()
}

// fakeDriver records drives and completes the execution.
type fakeDriver struct {
	store  *memory.Store
	driven chan id.ExecutionID
}

func (d *fakeDriver) Drive(ctx context.Context, executionID id.ExecutionID) (*workflow.Execution, error) {
	e, err := d.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	d.driven <- executionID
	return e, nil
}

func newSweeper(t *testing.T, s *memory.Store, opts ...sweep.Option) *sweep.Sweeper {
	t.Helper()
	mon := monitor.New(s, workflow.NewRegistry(),
		monitor.WithLogger(silentLogger()),
		monitor.WithThresholds(4*time.Hour, 12*time.Hour, 5),
	)
	base := []sweep.Option{
		sweep.WithLogger(silentLogger()),
		sweep.WithOwner("sweeper-1"),
		sweep.WithDeadWorkerThreshold(time.Minute),
	}
	sw := sweep.New(mon, s, append(base, opts...)...)
	t.Cleanup(func() { _ = sw.Stop(context.Background()) })
	return sw
}

func putRunning(t *testing.T, s *memory.Store, started time.Time) *workflow.Execution {
	t.Helper()
	e := &workflow.Execution{
		ID:        id.NewExecutionID(),
		RunID:     id.NewRunID(),
		Type:      "provision",
		Version:   1,
		Status:    workflow.StatusRunning,
		CreatedAt: started,
		StartedAt: &started,
		UpdatedAt: started,
	}
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	return e
}

func TestSweepReapsAndReports(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()
	rec := &recorder{}
	sw := newSweeper(t, s, sweep.WithEmitter(rec))

	stale := &cluster.Worker{ID: id.NewWorkerID(), State: cluster.WorkerActive, LastSeen: now.Add(-time.Hour), CreatedAt: now.Add(-time.Hour)}
	fresh := &cluster.Worker{ID: id.NewWorkerID(), State: cluster.WorkerActive, LastSeen: now, CreatedAt: now}
	for _, w := range []*cluster.Worker{stale, fresh} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
	}
	e := putRunning(t, s, now.Add(-5*time.Hour))

	rep, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Skipped {
		t.Fatal("Skipped = true, want a full sweep")
	}
	if len(rep.Reaped) != 1 || rep.Reaped[0].ID != stale.ID {
		t.Errorf("reaped = %v, want [%s]", rep.Reaped, stale.ID)
	}
	if len(rep.Issues) != 2 {
		t.Fatalf("issues = %d, want age and missing lease", len(rep.Issues))
	}
	for _, issue := range rep.Issues {
		if issue.ExecutionID != e.ID {
			t.Errorf("issue for %s, want %s", issue.ExecutionID, e.ID)
		}
	}
	if len(rec.issues) != 2 || len(rec.reaped) != 1 {
		t.Errorf("emitted issues=%d reaped=%d, want 2 and 1", len(rec.issues), len(rec.reaped))
	}
	if sw.Last() != rep {
		t.Error("Last() does not return the latest report")
	}
	if _, err := s.GetLease(ctx, sweep.LeaseKey); err == nil {
		t.Error("sweep lease still held after Sweep")
	}

	// Reaped workers are reported once.
	rep, err = sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(rep.Reaped) != 0 {
		t.Errorf("second sweep reaped = %d, want 0", len(rep.Reaped))
	}
}

func TestSweepSkipsWhenLeaseHeld(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if _, err := s.AcquireLease(ctx, sweep.LeaseKey, "other-node", time.Minute); err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	rec := &recorder{}
	sw := newSweeper(t, s, sweep.WithEmitter(rec))
	putRunning(t, s, time.Now().UTC().Add(-5*time.Hour))

	rep, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !rep.Skipped {
		t.Error("Skipped = false, want true")
	}
	if len(rec.issues) != 0 {
		t.Errorf("emitted %d issues while skipped", len(rec.issues))
	}
}

func TestSweepRecoversOrphans(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	d := &fakeDriver{store: s, driven: make(chan id.ExecutionID, 4)}
	sw := newSweeper(t, s, sweep.WithRecovery(d, 2, time.Minute))

	old := putRunning(t, s, time.Now().UTC().Add(-10*time.Minute))
	putRunning(t, s, time.Now().UTC()) // within grace
	held := putRunning(t, s, time.Now().UTC().Add(-10*time.Minute))
	if _, err := s.AcquireLease(ctx, cluster.ExecutionLeaseKey(held.ID), "live", time.Minute); err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}

	rep, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(rep.Recovered) != 1 || rep.Recovered[0] != old.ID {
		t.Fatalf("recovered = %v, want [%s]", rep.Recovered, old.ID)
	}
	select {
	case got := <-d.driven:
		if got != old.ID {
			t.Errorf("driven %s, want %s", got, old.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("orphan was not driven")
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	s := memory.New()
	sw := newSweeper(t, s, sweep.WithSchedule("@every 1s"))
	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for sw.Last() == nil {
		select {
		case <-deadline:
			t.Fatal("no sweep ran")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	sw := newSweeper(t, memory.New(), sweep.WithSchedule("not a schedule"))
	if err := sw.Start(context.Background()); err == nil {
		t.Fatal("Start() = nil, want schedule error")
	}
	if _, err := sweep.ParseSchedule("*/5 * * * *"); err != nil {
		t.Errorf("ParseSchedule: %v", err)
	}
}
