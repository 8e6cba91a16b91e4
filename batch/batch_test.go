package batch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/backoff"
	"github.com/xraph/saga/batch"
	"github.com/xraph/saga/retry"
)

type user string

func (u user) BatchKey() string { return "user-" + string(u) }

func entities(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

var errFive = errors.New("entity 5 is broken")

func failFive(_ context.Context, _ int, e int) error {
	if e == 5 {
		return errFive
	}
	return nil
}

func TestContinueOnErrorAttemptsEverything(t *testing.T) {
	for _, par := range []int{1, 3} {
		var calls atomic.Int32
		res := batch.Run(context.Background(), entities(10), batch.Options{
			BatchSize:       3,
			Parallelism:     par,
			ContinueOnError: true,
		}, func(ctx context.Context, i int, e int) error {
			calls.Add(1)
			return failFive(ctx, i, e)
		})

		if calls.Load() != 10 {
			t.Errorf("parallelism %d: calls = %d, want 10", par, calls.Load())
		}
		if res.Batches != 4 {
			t.Errorf("parallelism %d: batches = %d, want 4", par, res.Batches)
		}
		if res.Succeeded != 9 || res.Failed != 1 || res.Skipped != 0 {
			t.Errorf("parallelism %d: result = %+v", par, res)
		}
		if len(res.Errors) != 1 || res.Errors[0].Index != 4 || res.Errors[0].Key != "5" {
			t.Fatalf("parallelism %d: errors = %+v, want entity #5 at index 4", par, res.Errors)
		}
		if !errors.Is(res.Errors[0].Err, errFive) || res.Errors[0].Attempts != 1 {
			t.Errorf("parallelism %d: error = %+v", par, res.Errors[0])
		}
	}
}

func TestStopOnErrorSkipsLaterBatches(t *testing.T) {
	var seen []int
	res := batch.Run(context.Background(), entities(10), batch.Options{BatchSize: 3},
		func(ctx context.Context, i int, e int) error {
			seen = append(seen, e)
			return failFive(ctx, i, e)
		})

	want := []int{1, 2, 3, 4, 5}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %d, want %d", i, seen[i], want[i])
		}
	}
	if res.Batches != 2 {
		t.Errorf("batches = %d, want 2", res.Batches)
	}
	if res.Succeeded != 4 || res.Failed != 1 || res.Skipped != 5 {
		t.Errorf("result = %+v, want 4/1/5", res)
	}
	if res.OK() {
		t.Error("OK() = true, want false")
	}
}

func TestParallelismIsBounded(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	res := batch.Run(context.Background(), entities(12), batch.Options{BatchSize: 6, Parallelism: 2},
		func(context.Context, int, int) error {
			mu.Lock()
			inFlight++
			peak = max(peak, inFlight)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil
		})
	if !res.OK() || res.Succeeded != 12 {
		t.Fatalf("result = %+v", res)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestBatchOrderIsPreserved(t *testing.T) {
	var (
		mu    sync.Mutex
		attempted = map[int]bool{}
		order []int
	)
	batch.Run(context.Background(), entities(9), batch.Options{BatchSize: 3, Parallelism: 3},
		func(_ context.Context, i int, _ int) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i/3)
			attempted[i] = true
			return nil
		})
	for k := 1; k < len(order); k++ {
		if order[k] < order[k-1] {
			t.Fatalf("batch order = %v, want non-decreasing", order)
		}
	}
	if len(attempted) != 9 {
		t.Errorf("attempted = %d, want 9", len(attempted))
	}
}

func TestPerEntityRetries(t *testing.T) {
	tries := map[int]int{}
	var mu sync.Mutex
	p := retry.Policy{MaxAttempts: 3, Backoff: backoff.NewConstant(time.Millisecond)}

	res := batch.Run(context.Background(), entities(4), batch.Options{BatchSize: 2, ContinueOnError: true, Retry: &p},
		func(_ context.Context, _ int, e int) error {
			mu.Lock()
			tries[e]++
			n := tries[e]
			mu.Unlock()
			switch {
			case e == 2 && n < 2:
				return errors.New("transient")
			case e == 4:
				return errors.New("always down")
			}
			return nil
		})

	if res.Succeeded != 3 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if tries[2] != 2 {
		t.Errorf("entity 2 tries = %d, want 2", tries[2])
	}
	got := res.Errors[0]
	if got.Index != 3 || got.Attempts != 3 {
		t.Errorf("error = %+v, want index 3 with 3 attempts", got)
	}
	if !errors.Is(got.Err, saga.ErrRetriesExhausted) {
		t.Errorf("err = %v, want ErrRetriesExhausted", got.Err)
	}
	fe := &batch.FailureError{Result: &res}
	if saga.KindOf(fe) != saga.KindRetriesExhausted {
		t.Errorf("KindOf = %q, want %q", saga.KindOf(fe), saga.KindRetriesExhausted)
	}
}

func TestInterBatchDelay(t *testing.T) {
	start := time.Now()
	res := batch.Run(context.Background(), entities(3), batch.Options{BatchSize: 1, InterBatchDelay: 30 * time.Millisecond},
		func(context.Context, int, int) error { return nil })
	elapsed := time.Since(start)

	if res.Batches != 3 || !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if elapsed < 60*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 60ms for two gaps", elapsed)
	}
}

func TestInterBatchDelayFollowsSlowBatch(t *testing.T) {
	start := time.Now()
	res := batch.Run(context.Background(), entities(2), batch.Options{BatchSize: 1, InterBatchDelay: 40 * time.Millisecond},
		func(_ context.Context, i int, _ int) error {
			if i == 0 {
				time.Sleep(40 * time.Millisecond)
			}
			return nil
		})
	elapsed := time.Since(start)

	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	// A slow batch does not use up the gap that follows it.
	if elapsed < 80*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 80ms", elapsed)
	}
}

func TestCancelDuringInterBatchDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := batch.Run(ctx, entities(3), batch.Options{BatchSize: 1, InterBatchDelay: time.Hour},
		func(context.Context, int, int) error { return nil })

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run took %v, want it to stop when the context ends", elapsed)
	}
	if res.Succeeded != 1 || res.Skipped != 2 || res.Batches != 1 {
		t.Errorf("result = %+v, want 1 succeeded 2 skipped in 1 batch", res)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want context.DeadlineExceeded", res.Err)
	}
}

func TestCancelledContextSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	res := batch.Run(ctx, entities(6), batch.Options{BatchSize: 2, ContinueOnError: true},
		func(_ context.Context, i int, _ int) error {
			if i == 1 {
				cancel()
			}
			return nil
		})
	if res.Succeeded != 2 || res.Skipped != 4 {
		t.Errorf("result = %+v, want 2 succeeded 4 skipped", res)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
}

func TestKeyer(t *testing.T) {
	res := batch.Run(context.Background(), []user{"a", "b"}, batch.Options{ContinueOnError: true},
		func(_ context.Context, _ int, u user) error {
			if u == "b" {
				return errors.New("nope")
			}
			return nil
		})
	if len(res.Errors) != 1 || res.Errors[0].Key != "user-b" {
		t.Errorf("errors = %+v, want key user-b", res.Errors)
	}
	if res.Batches != 1 {
		t.Errorf("batches = %d, want 1 with default size", res.Batches)
	}
}
