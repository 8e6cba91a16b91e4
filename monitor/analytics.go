package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/xraph/saga/workflow"
)

// Query selects the executions Analytics aggregates. Zero bounds are
// open.
type Query struct {
	From     time.Time
	To       time.Time
	Type     string
	TenantID string
}

// Durations summarizes wall time of completed executions.
type Durations struct {
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
}

// TypeStats is the per-type breakdown of a Report.
type TypeStats struct {
	Total       int                     `json:"total"`
	ByStatus    map[workflow.Status]int `json:"by_status"`
	SuccessRate float64                 `json:"success_rate"`
	Durations   Durations               `json:"durations"`
}

// Report is the result of Analytics.
type Report struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	// Totals over every type.
	TypeStats

	ByType map[string]*TypeStats `json:"by_type"`
}

// Analytics aggregates executions created in [From, To).
func (s *Service) Analytics(ctx context.Context, q Query) (*Report, error) {
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return nil, fmt.Errorf("monitor: analytics window %s..%s is empty", q.From, q.To)
	}
	execs, err := s.store.ListExecutions(ctx, workflow.ListOpts{
		Type:          q.Type,
		TenantID:      q.TenantID,
		CreatedAfter:  q.From,
		CreatedBefore: q.To,
	})
	if err != nil {
		return nil, fmt.Errorf("monitor: analytics: %w", err)
	}

	all := newAccumulator()
	byType := make(map[string]*accumulator)
	for _, e := range execs {
		all.add(e)
		acc, ok := byType[e.Type]
		if !ok {
			acc = newAccumulator()
			byType[e.Type] = acc
		}
		acc.add(e)
	}

	rep := &Report{
		From:      q.From,
		To:        q.To,
		TypeStats: all.stats(),
		ByType:    make(map[string]*TypeStats, len(byType)),
	}
	for typ, acc := range byType {
		st := acc.stats()
		rep.ByType[typ] = &st
	}
	return rep, nil
}

type accumulator struct {
	total     int
	byStatus  map[workflow.Status]int
	durations []time.Duration
}

func newAccumulator() *accumulator {
	return &accumulator{byStatus: make(map[workflow.Status]int)}
}

func (a *accumulator) add(e *workflow.Execution) {
	a.total++
	a.byStatus[e.Status]++
	if e.Status == workflow.StatusCompleted && e.CompletedAt != nil {
		a.durations = append(a.durations, e.CompletedAt.Sub(runningSince(e)))
	}
}

func (a *accumulator) stats() TypeStats {
	st := TypeStats{Total: a.total, ByStatus: a.byStatus}

	finished := 0
	for status, n := range a.byStatus {
		if status.IsTerminal() {
			finished += n
		}
	}
	if finished > 0 {
		st.SuccessRate = float64(a.byStatus[workflow.StatusCompleted]) / float64(finished)
	}

	if len(a.durations) > 0 {
		sort.Slice(a.durations, func(i, k int) bool { return a.durations[i] < a.durations[k] })
		var sum time.Duration
		for _, d := range a.durations {
			sum += d
		}
		st.Durations = Durations{
			Mean: sum / time.Duration(len(a.durations)),
			P50:  percentile(a.durations, 50),
			P95:  percentile(a.durations, 95),
			P99:  percentile(a.durations, 99),
		}
	}
	return st
}

// percentile is the nearest-rank percentile of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
