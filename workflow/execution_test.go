package workflow_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/workflow"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to workflow.Status
		want     bool
	}{
		{workflow.StatusPending, workflow.StatusRunning, true},
		{workflow.StatusPending, workflow.StatusCompleted, false},
		{workflow.StatusRunning, workflow.StatusCompleted, true},
		{workflow.StatusRunning, workflow.StatusFailed, true},
		{workflow.StatusRunning, workflow.StatusTimedOut, true},
		{workflow.StatusRunning, workflow.StatusCompensating, true},
		{workflow.StatusRunning, workflow.StatusRolledBack, false},
		{workflow.StatusCompensating, workflow.StatusRolledBack, true},
		{workflow.StatusCompensating, workflow.StatusFailed, true},
		{workflow.StatusCompensating, workflow.StatusCompleted, false},
		{workflow.StatusCompleted, workflow.StatusRunning, false},
		{workflow.StatusRolledBack, workflow.StatusCompensating, false},
		{workflow.StatusFailed, workflow.StatusRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s → %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[workflow.Status]bool{
		workflow.StatusCompleted:  true,
		workflow.StatusFailed:     true,
		workflow.StatusRolledBack: true,
		workflow.StatusTimedOut:   true,
	}
	for _, s := range workflow.AllStatuses {
		if s.IsTerminal() != terminal[s] {
			t.Errorf("%s.IsTerminal() = %v", s, s.IsTerminal())
		}
		if s.IsActive() == terminal[s] {
			t.Errorf("%s.IsActive() = %v", s, s.IsActive())
		}
	}
}

func TestStepRecordDuration(t *testing.T) {
	start := time.Now()
	r := &workflow.StepRecord{StartedAt: start, Status: workflow.StepRunning}
	if r.Duration() != 0 || r.Settled() {
		t.Errorf("running record: duration=%v settled=%v", r.Duration(), r.Settled())
	}
	done := start.Add(250 * time.Millisecond)
	r.CompletedAt = &done
	r.Status = workflow.StepCompleted
	if r.Duration() != 250*time.Millisecond || !r.Settled() {
		t.Errorf("completed record: duration=%v settled=%v", r.Duration(), r.Settled())
	}
}

func TestRebuild(t *testing.T) {
	e := &workflow.Execution{
		ID:         id.NewExecutionID(),
		Type:       "switch",
		Generation: 1,
		Input:      json.RawMessage(`{"tenant":"t-2"}`),
	}
	records := []*workflow.StepRecord{
		{Index: 0, StepIndex: 0, Name: "a", Kind: workflow.KindActivity, Status: workflow.StepCompleted, Output: json.RawMessage(`{"n":1}`)},
		{Index: 1, StepIndex: 1, Name: "b", Kind: workflow.KindActivity, Status: workflow.StepFailed, Error: "old", Generation: 0},
		{Index: 2, StepIndex: 2, Name: "c", Kind: workflow.KindActivity, Status: workflow.StepSkipped, Generation: 0},
		{Index: 3, StepIndex: 3, Name: "d", Kind: workflow.KindActivity, Status: workflow.StepFailed, Error: "boom", ErrorKind: saga.KindRejected, Generation: 1},
	}
	s := workflow.Rebuild(e, nil, records)

	if !s.Completed("a") || s.Completed("b") {
		t.Errorf("completed a=%v b=%v", s.Completed("a"), s.Completed("b"))
	}
	if _, ok := s.Failure("b"); ok {
		t.Error("failure from an earlier generation was replayed")
	}
	if !s.Skipped("c") {
		t.Error("c not skipped")
	}
	f, ok := s.Failure("d")
	if !ok || f.ErrorKind != saga.KindRejected {
		t.Errorf("Failure(d) = %+v, %v", f, ok)
	}

	type result struct {
		N int `json:"n"`
	}
	r, err := workflow.DecodeResult[result](s, "a")
	if err != nil || r.N != 1 {
		t.Errorf("DecodeResult = %+v, %v", r, err)
	}
	if _, err := workflow.DecodeResult[result](s, "zzz"); !errors.Is(err, saga.ErrInternal) {
		t.Errorf("DecodeResult(missing) = %v, want ErrInternal", err)
	}

	in, err := workflow.DecodeInput[map[string]string](s)
	if err != nil || in["tenant"] != "t-2" {
		t.Errorf("DecodeInput = %v, %v", in, err)
	}

	vars := s.Vars()
	if _, ok := vars["a"]; !ok {
		t.Errorf("Vars missing a: %v", vars)
	}
	if _, ok := vars["partial_failures"]; !ok {
		t.Errorf("Vars missing partial_failures: %v", vars)
	}
}

func TestDecodeInputValidation(t *testing.T) {
	e := &workflow.Execution{ID: id.NewExecutionID(), Input: json.RawMessage(`[1,2]`)}
	s := workflow.Rebuild(e, nil, nil)
	if _, err := workflow.DecodeInput[map[string]string](s); !errors.Is(err, saga.ErrValidation) {
		t.Errorf("DecodeInput = %v, want ErrValidation", err)
	}
}
