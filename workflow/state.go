package workflow

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xraph/saga"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/scope"
)

// StepFailure is a step that failed under ContinueWithError.
type StepFailure struct {
	Step      string         `json:"step"`
	Error     string         `json:"error"`
	ErrorKind saga.ErrorKind `json:"error_kind"`
}

// State is what request builders, decisions and outputs see: the input
// plus the outcome of every settled step so far.
type State struct {
	ExecutionID   id.ExecutionID
	Type          string
	Scope         scope.Scope
	CorrelationID string
	Input         json.RawMessage

	results  map[string]json.RawMessage
	failures map[string]StepFailure
	skipped  map[string]bool
}

func newState(e *Execution) *State {
	return &State{
		ExecutionID:   e.ID,
		Type:          e.Type,
		Scope:         e.Scope,
		CorrelationID: e.CorrelationID,
		Input:         e.Input,
		results:       make(map[string]json.RawMessage),
		failures:      make(map[string]StepFailure),
		skipped:       make(map[string]bool),
	}
}

// Result returns the raw result of a completed step.
func (s *State) Result(step string) (json.RawMessage, bool) {
	r, ok := s.results[step]
	return r, ok
}

// Completed reports whether step completed.
func (s *State) Completed(step string) bool {
	_, ok := s.results[step]
	return ok
}

// Skipped reports whether step was skipped by its condition.
func (s *State) Skipped(step string) bool { return s.skipped[step] }

// Failure returns the recorded failure of a step that continued with error.
func (s *State) Failure(step string) (StepFailure, bool) {
	f, ok := s.failures[step]
	return f, ok
}

// Failures returns every continued-with-error failure sorted by step name.
func (s *State) Failures() []StepFailure {
	out := make([]StepFailure, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out
}

// Vars returns the input and every step result decoded into generic JSON
// values, for debugging.
func (s *State) Vars() map[string]any {
	vars := make(map[string]any, len(s.results)+2)
	var in any
	if len(s.Input) > 0 && json.Unmarshal(s.Input, &in) == nil {
		vars["input"] = in
	}
	for name, raw := range s.results {
		var v any
		if json.Unmarshal(raw, &v) == nil {
			vars[name] = v
		}
	}
	if len(s.failures) > 0 {
		vars["partial_failures"] = s.Failures()
	}
	return vars
}

func (s *State) setResult(step string, raw json.RawMessage) {
	s.results[step] = raw
	delete(s.failures, step)
	delete(s.skipped, step)
}

func (s *State) setFailure(f StepFailure) { s.failures[f.Step] = f }

func (s *State) setSkipped(step string) { s.skipped[step] = true }

// DecodeInput decodes the execution input into T.
func DecodeInput[T any](s *State) (T, error) {
	var v T
	if len(s.Input) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(s.Input, &v); err != nil {
		return v, saga.NewValidationError("input", err.Error())
	}
	return v, nil
}

// DecodeResult decodes the result of a completed step into T.
func DecodeResult[T any](s *State, step string) (T, error) {
	var v T
	raw, ok := s.results[step]
	if !ok {
		return v, saga.NewInternalError("decode result", fmt.Errorf("step %q has no result", step))
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, saga.NewInternalError("decode result", fmt.Errorf("step %q: %w", step, err))
	}
	return v, nil
}

// ──────────────────────────────────────────────────
// Replay
// ──────────────────────────────────────────────────

// history indexes the step records of one execution.
type history struct {
	records    []*StepRecord
	forward    map[int]*StepRecord // step index → latest forward record
	compensate map[int]*StepRecord // step index → latest compensation record
	generation int
}

func newHistory(e *Execution, records []*StepRecord) *history {
	h := &history{
		records:    records,
		forward:    make(map[int]*StepRecord),
		compensate: make(map[int]*StepRecord),
		generation: e.Generation,
	}
	for _, r := range records {
		if r.Kind == KindCompensation {
			if r.Generation == e.Generation {
				h.compensate[r.StepIndex] = r
			}
			continue
		}
		h.forward[r.StepIndex] = r
	}
	return h
}

// settled returns the record that makes step i final for the current
// generation, or nil if the step must run. Completed and skipped steps stay
// settled across operator retries; failures only within their generation.
func (h *history) settled(i int) *StepRecord {
	r := h.forward[i]
	if r == nil {
		return nil
	}
	switch r.Status {
	case StepCompleted, StepSkipped:
		return r
	case StepFailed:
		if r.Generation == h.generation {
			return r
		}
	}
	return nil
}

// inflight returns the record left running in the current generation for
// step i, so a resumed driver reuses its index and idempotency key.
func (h *history) inflight(i int) *StepRecord {
	r := h.forward[i]
	if r != nil && r.Status == StepRunning && r.Generation == h.generation {
		return r
	}
	return nil
}

func (h *history) inflightCompensation(i int) *StepRecord {
	r := h.compensate[i]
	if r != nil && r.Status == StepRunning {
		return r
	}
	return nil
}

func (h *history) nextIndex() int { return len(h.records) }

func (h *history) append(r *StepRecord) {
	if r.Index == len(h.records) {
		h.records = append(h.records, r)
	}
	if r.Kind == KindCompensation {
		h.compensate[r.StepIndex] = r
	} else {
		h.forward[r.StepIndex] = r
	}
}

// apply folds a settled forward record into s.
func (s *State) apply(r *StepRecord) {
	switch r.Status {
	case StepCompleted:
		s.setResult(r.Name, r.Output)
	case StepSkipped:
		s.setSkipped(r.Name)
	case StepFailed:
		s.setFailure(StepFailure{Step: r.Name, Error: r.Error, ErrorKind: r.ErrorKind})
	}
}

// Rebuild reconstructs the state an execution's steps have produced so far.
func Rebuild(e *Execution, def *Definition, records []*StepRecord) *State {
	s := newState(e)
	h := newHistory(e, records)
	n := len(h.forward)
	if def != nil {
		n = len(def.Steps)
	} else {
		for i := range h.forward {
			n = max(n, i+1)
		}
	}
	for i := range n {
		if r := h.settled(i); r != nil {
			s.apply(r)
		}
	}
	return s
}
