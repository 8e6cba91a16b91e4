package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/saga"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/workflow"
)

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	eID := e.ID.String()
	data, err := encodeExecution(e)
	if err != nil {
		return fmt.Errorf("saga/redis: create execution: %w", err)
	}

	ok, err := s.client.HSetNX(ctx, executionKey(eID), "data", data).Result()
	if err != nil {
		return fmt.Errorf("saga/redis: create execution: %w", err)
	}
	if !ok {
		return saga.ErrExecutionExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, executionKey(eID), "cancel", boolToStr(e.CancelRequested))
	pipe.ZAdd(ctx, executionIndexKey, goredis.Z{
		Score:  float64(e.CreatedAt.UnixMicro()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saga/redis: create execution index: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, executionID id.ExecutionID) (*workflow.Execution, error) {
	vals, err := s.client.HGetAll(ctx, executionKey(executionID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("saga/redis: get execution: %w", err)
	}
	if vals["data"] == "" {
		return nil, saga.ErrExecutionNotFound
	}
	e, err := decodeExecution([]byte(vals["data"]), vals["cancel"])
	if err != nil {
		return nil, fmt.Errorf("saga/redis: get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution replaces the stored record. The cancel flag is left
// untouched.
func (s *Store) UpdateExecution(ctx context.Context, e *workflow.Execution) error {
	key := executionKey(e.ID.String())
	exists, err := s.client.HExists(ctx, key, "data").Result()
	if err != nil {
		return fmt.Errorf("saga/redis: update execution exists: %w", err)
	}
	if !exists {
		return saga.ErrExecutionNotFound
	}

	data, err := encodeExecution(e)
	if err != nil {
		return fmt.Errorf("saga/redis: update execution: %w", err)
	}
	if err := s.client.HSet(ctx, key, "data", data).Err(); err != nil {
		return fmt.Errorf("saga/redis: update execution: %w", err)
	}
	return nil
}

// SetCancelRequested sets or clears the cancellation flag.
func (s *Store) SetCancelRequested(ctx context.Context, executionID id.ExecutionID, requested bool) error {
	key := executionKey(executionID.String())
	exists, err := s.client.HExists(ctx, key, "data").Result()
	if err != nil {
		return fmt.Errorf("saga/redis: set cancel exists: %w", err)
	}
	if !exists {
		return saga.ErrExecutionNotFound
	}
	if err := s.client.HSet(ctx, key, "cancel", boolToStr(requested)).Err(); err != nil {
		return fmt.Errorf("saga/redis: set cancel requested: %w", err)
	}
	return nil
}

// ListExecutions walks the creation-time index and filters in process.
func (s *Store) ListExecutions(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Execution, error) {
	rng := &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !opts.CreatedAfter.IsZero() {
		rng.Min = strconv.FormatInt(opts.CreatedAfter.UnixMicro(), 10)
	}
	if !opts.CreatedBefore.IsZero() {
		rng.Max = "(" + strconv.FormatInt(opts.CreatedBefore.UnixMicro(), 10)
	}
	ids, err := s.client.ZRangeByScore(ctx, executionIndexKey, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("saga/redis: list executions index: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, eID := range ids {
		cmds[i] = pipe.HGetAll(ctx, executionKey(eID))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("saga/redis: list executions: %w", err)
		}
	}

	execs := make([]*workflow.Execution, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if vals["data"] == "" {
			continue
		}
		e, convErr := decodeExecution([]byte(vals["data"]), vals["cancel"])
		if convErr != nil {
			s.logger.Warn("skipping undecodable execution", slog.String("error", convErr.Error()))
			continue
		}
		if opts.Matches(e) {
			execs = append(execs, e)
		}
	}
	sort.SliceStable(execs, func(i, k int) bool {
		if execs[i].CreatedAt.Equal(execs[k].CreatedAt) {
			return execs[i].ID.String() < execs[k].ID.String()
		}
		return execs[i].CreatedAt.Before(execs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(execs) {
			return []*workflow.Execution{}, nil
		}
		execs = execs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(execs) {
		execs = execs[:opts.Limit]
	}
	return execs, nil
}

// SaveStep inserts or replaces the record at (ExecutionID, Index).
func (s *Store) SaveStep(ctx context.Context, r *workflow.StepRecord) error {
	eID := r.ExecutionID.String()
	exists, err := s.client.HExists(ctx, executionKey(eID), "data").Result()
	if err != nil {
		return fmt.Errorf("saga/redis: save step exists: %w", err)
	}
	if !exists {
		return saga.ErrExecutionNotFound
	}

	data, err := encodeStep(r)
	if err != nil {
		return fmt.Errorf("saga/redis: save step: %w", err)
	}
	if err := s.client.HSet(ctx, stepsKey(eID), strconv.Itoa(r.Index), data).Err(); err != nil {
		return fmt.Errorf("saga/redis: save step: %w", err)
	}
	return nil
}

// ListSteps returns the execution's records ordered by Index.
func (s *Store) ListSteps(ctx context.Context, executionID id.ExecutionID) ([]*workflow.StepRecord, error) {
	vals, err := s.client.HGetAll(ctx, stepsKey(executionID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("saga/redis: list steps: %w", err)
	}
	records := make([]*workflow.StepRecord, 0, len(vals))
	for _, raw := range vals {
		r, convErr := decodeStep([]byte(raw), executionID)
		if convErr != nil {
			return nil, fmt.Errorf("saga/redis: list steps: %w", convErr)
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, k int) bool { return records[i].Index < records[k].Index })
	return records, nil
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
