package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/saga/batch"
	"github.com/xraph/saga/retry"
)

// StepKind distinguishes remote calls from local logic.
type StepKind string

const (
	// KindActivity calls an operation on a collaborating service.
	KindActivity StepKind = "activity"
	// KindDecision runs local deterministic logic over the state.
	KindDecision StepKind = "decision"
	// KindCompensation marks a record written while undoing a step.
	KindCompensation StepKind = "compensation"
)

// FailurePolicy says what a step failure does to the execution.
type FailurePolicy string

const (
	// Abort marks the execution failed and stops.
	Abort FailurePolicy = "abort"
	// Compensate undoes earlier completed steps in reverse order and ends
	// the execution rolled back.
	Compensate FailurePolicy = "compensate"
	// ContinueWithError records the failure and proceeds to the next step.
	ContinueWithError FailurePolicy = "continue"
)

// Valid reports whether p is one of the declared policies.
func (p FailurePolicy) Valid() bool {
	switch p {
	case Abort, Compensate, ContinueWithError:
		return true
	}
	return false
}

// RequestFunc builds an activity request from the state. The returned value
// is JSON-encoded.
type RequestFunc func(s *State) (any, error)

// DecideFunc runs a decision step. The returned value is JSON-encoded and
// stored as the step result.
type DecideFunc func(ctx context.Context, s *State) (any, error)

// Compensation undoes a completed activity step.
type Compensation struct {
	Service   string
	Operation string
	Request   RequestFunc
	Retry     *retry.Policy
	Timeout   time.Duration
}

// ForEach fans an activity step out over a list of entities. Each item is
// JSON-encoded and sent as its own request; Request is ignored.
type ForEach struct {
	Items   func(s *State) ([]any, error)
	Options batch.Options
}

// ForEachOutput is the stored result of a ForEach step.
type ForEachOutput struct {
	batch.Result
	Outputs []json.RawMessage `json:"outputs"`
}

// Step is one element of a Definition.
type Step struct {
	Name string
	Kind StepKind

	// OnFailure is required on every step.
	OnFailure FailurePolicy

	// Activity steps.
	Service   string
	Operation string
	Request   RequestFunc

	// ForEach, if set, runs the activity once per entity in batches.
	ForEach *ForEach

	// Decision steps.
	Decide DecideFunc

	// Compensation, if set, undoes this step when a later step fails with
	// the Compensate policy.
	Compensation *Compensation

	// Retry overrides the runner's default policy for this step.
	Retry *retry.Policy

	// Timeout overrides the per-attempt timeout of the retry policy.
	Timeout time.Duration

	// When, if set, skips the step when it returns false.
	When func(s *State) bool
}

// Target returns "service.operation" for activity steps.
func (s *Step) Target() string { return s.Service + "." + s.Operation }

// Definition describes one version of a workflow type.
type Definition struct {
	Name    string
	Version int
	Steps   []Step

	// Output builds the execution's result once every step has run. Nil
	// produces the default output: every step result keyed by step name
	// plus any partial failures.
	Output func(s *State) (any, error)

	// Validate checks the raw input at submission. A returned error is
	// reported as a validation error before any execution is created.
	Validate func(input []byte) error

	// Deadline bounds the whole execution. Zero uses the runner default.
	Deadline time.Duration
}

// Check verifies the definition's structure.
func (d *Definition) Check() error {
	if d.Name == "" {
		return errors.New("workflow: definition has no name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s: no steps", d.Name)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.Name == "" {
			return fmt.Errorf("workflow %s: step %d has no name", d.Name, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("workflow %s: duplicate step %q", d.Name, s.Name)
		}
		seen[s.Name] = true

		if !s.OnFailure.Valid() {
			return fmt.Errorf("workflow %s: step %q must declare a failure policy", d.Name, s.Name)
		}
		switch s.Kind {
		case KindActivity:
			if s.Service == "" || s.Operation == "" {
				return fmt.Errorf("workflow %s: activity step %q needs a service and operation", d.Name, s.Name)
			}
			if s.ForEach != nil && s.ForEach.Items == nil {
				return fmt.Errorf("workflow %s: step %q has ForEach without Items", d.Name, s.Name)
			}
		case KindDecision:
			if s.Decide == nil {
				return fmt.Errorf("workflow %s: decision step %q has no Decide func", d.Name, s.Name)
			}
			if s.Compensation != nil {
				return fmt.Errorf("workflow %s: decision step %q cannot be compensated", d.Name, s.Name)
			}
			if s.ForEach != nil {
				return fmt.Errorf("workflow %s: decision step %q cannot fan out", d.Name, s.Name)
			}
		default:
			return fmt.Errorf("workflow %s: step %q has invalid kind %q", d.Name, s.Name, s.Kind)
		}
		if c := s.Compensation; c != nil && (c.Service == "" || c.Operation == "") {
			return fmt.Errorf("workflow %s: compensation of %q needs a service and operation", d.Name, s.Name)
		}
	}
	return nil
}

// StepNames returns the step names in order.
func (d *Definition) StepNames() []string {
	out := make([]string, len(d.Steps))
	for i := range d.Steps {
		out[i] = d.Steps[i].Name
	}
	return out
}
