// Package batch runs an operation over a bulk entity set in fixed-size
// batches, sequentially or with bounded parallelism, and attributes every
// outcome to the entity that produced it.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/saga"
	"github.com/xraph/saga/retry"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 10

// Options controls how Run partitions and paces the work.
type Options struct {
	// BatchSize is the number of entities per batch.
	BatchSize int `json:"batch_size"`

	// Parallelism bounds concurrent entities within a batch. Values of 1 or
	// less run the batch sequentially.
	Parallelism int `json:"parallelism"`

	// InterBatchDelay is waited after every batch except the last. It is
	// measured from the end of one batch to the start of the next.
	InterBatchDelay time.Duration `json:"inter_batch_delay"`

	// ContinueOnError attempts every entity even after failures. When false
	// the first failure stops unstarted entities and further batches.
	ContinueOnError bool `json:"continue_on_error"`

	// Retry, if set, retries each entity independently.
	Retry *retry.Policy `json:"-"`
}

// Keyer lets an entity name itself in EntityError.Key.
type Keyer interface {
	BatchKey() string
}

// EntityError is the failure of one entity.
type EntityError struct {
	Index    int    `json:"index"`
	Key      string `json:"key"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`

	Err error `json:"-"`
}

// Result aggregates the outcome of Run.
type Result struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Batches   int           `json:"batches"`
	Errors    []EntityError `json:"errors"`

	// Err is set when the context ended before every entity was attempted.
	Err error `json:"-"`
}

// OK reports whether every entity succeeded.
func (r *Result) OK() bool { return r.Failed == 0 && r.Skipped == 0 && r.Err == nil }

// FailureError reports a Result with failed or unattempted entities.
type FailureError struct {
	Result *Result
}

func (e *FailureError) Error() string {
	if len(e.Result.Errors) == 0 {
		return fmt.Sprintf("batch: %d of %d entities not attempted", e.Result.Skipped, e.Result.Total)
	}
	first := e.Result.Errors[0]
	return fmt.Sprintf("batch: %d of %d entities failed, first #%d (%s): %s",
		e.Result.Failed, e.Result.Total, first.Index, first.Key, first.Error)
}

// Unwrap returns the first entity error.
func (e *FailureError) Unwrap() error {
	if len(e.Result.Errors) == 0 {
		return e.Result.Err
	}
	return e.Result.Errors[0].Err
}

// Kind classifies the failure by its first entity error.
func (e *FailureError) Kind() saga.ErrorKind {
	if err := e.Unwrap(); err != nil {
		return saga.KindOf(err)
	}
	return saga.KindUnknown
}

// Op processes one entity. index is the entity's position in the input.
type Op[E any] func(ctx context.Context, index int, e E) error

type outcome int32

const (
	notStarted outcome = iota
	succeeded
	failed
)

// Run processes entities in order-preserving batches. Batch order is
// preserved; completion order inside a parallel batch is not, but every
// error is attributed to its entity's index.
func Run[E any](ctx context.Context, entities []E, opts Options, op Op[E]) Result {
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	res := Result{Total: len(entities)}
	outcomes := make([]outcome, len(entities))
	errs := make([]*EntityError, len(entities))

	var stop atomic.Bool
	attempt := func(ctx context.Context, i int) {
		if stop.Load() {
			return
		}
		attempts, err := runOne(ctx, opts.Retry, i, entities[i], op)
		if err == nil {
			outcomes[i] = succeeded
			return
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Interrupted, not failed.
			return
		}
		outcomes[i] = failed
		errs[i] = &EntityError{Index: i, Key: keyOf(entities[i]), Error: err.Error(), Attempts: attempts, Err: err}
		if !opts.ContinueOnError {
			stop.Store(true)
		}
	}

	// One timer serves every gap of the run.
	var gap *time.Timer
	if opts.InterBatchDelay > 0 {
		gap = time.NewTimer(opts.InterBatchDelay)
		gap.Stop()
		defer gap.Stop()
	}

batches:
	for start := 0; start < len(entities); start += size {
		if stop.Load() || ctx.Err() != nil {
			break
		}
		if start > 0 && gap != nil {
			gap.Reset(opts.InterBatchDelay)
			select {
			case <-ctx.Done():
				break batches
			case <-gap.C:
			}
		}
		end := min(start+size, len(entities))
		res.Batches++

		if opts.Parallelism <= 1 {
			for i := start; i < end && ctx.Err() == nil; i++ {
				attempt(ctx, i)
			}
			continue
		}

		var g errgroup.Group
		g.SetLimit(opts.Parallelism)
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				attempt(ctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, o := range outcomes {
		switch o {
		case succeeded:
			res.Succeeded++
		case failed:
			res.Failed++
			res.Errors = append(res.Errors, *errs[i])
		default:
			res.Skipped++
		}
	}
	sort.Slice(res.Errors, func(a, b int) bool { return res.Errors[a].Index < res.Errors[b].Index })
	if res.Skipped > 0 && ctx.Err() != nil {
		res.Err = ctx.Err()
	}
	return res
}

func runOne[E any](ctx context.Context, p *retry.Policy, i int, e E, op Op[E]) (int, error) {
	if p == nil {
		return 1, op(ctx, i, e)
	}
	attempts := 0
	_, err := retry.Do(ctx, *p, func(actx context.Context, attempt int) (struct{}, error) {
		attempts = attempt
		return struct{}{}, op(actx, i, e)
	})
	return attempts, err
}

func keyOf(e any) string {
	switch v := e.(type) {
	case Keyer:
		return v.BatchKey()
	case fmt.Stringer:
		return v.String()
	case string:
		return v
	}
	return fmt.Sprint(e)
}
