package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/workflow"
)

// Progress counts settled forward steps.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// ErrorDetail describes why an execution failed.
type ErrorDetail struct {
	Message string         `json:"message"`
	Kind    saga.ErrorKind `json:"kind"`
	Step    string         `json:"step,omitempty"`
}

// StatusReport is the status document of one execution.
type StatusReport struct {
	ExecutionID     id.ExecutionID  `json:"execution_id"`
	RunID           id.RunID        `json:"run_id"`
	Type            string          `json:"workflow_type"`
	Version         int             `json:"version"`
	Status          workflow.Status `json:"status"`
	Progress        Progress        `json:"progress"`
	CurrentStep     string          `json:"current_step,omitempty"`
	NextSteps       []string        `json:"next_steps"`
	Error           *ErrorDetail    `json:"error,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`

	// EstimatedRemaining is nil when the execution is terminal or there is
	// no completed history of its type to estimate from.
	EstimatedRemaining  *time.Duration `json:"estimated_remaining,omitempty"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
}

// Status reports progress, position and an ETA for one execution.
func (s *Service) Status(ctx context.Context, executionID id.ExecutionID) (*StatusReport, error) {
	e, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListSteps(ctx, executionID)
	if err != nil {
		return nil, err
	}

	def, hasDef := s.registry.GetVersion(e.Type, e.Version)
	done := settledSteps(records, def)
	if e.Status == workflow.StatusCompleted {
		// Every forward step settled, whatever the records say.
		for i := 0; i < e.TotalSteps; i++ {
			done[i] = struct{}{}
		}
	}
	rep := &StatusReport{
		ExecutionID:     e.ID,
		RunID:           e.RunID,
		Type:            e.Type,
		Version:         e.Version,
		Status:          e.Status,
		Progress:        progressOf(len(done), e.TotalSteps),
		CurrentStep:     e.CurrentStepName,
		NextSteps:       []string{},
		CancelRequested: e.CancelRequested,
		CreatedAt:       e.CreatedAt,
		StartedAt:       e.StartedAt,
		UpdatedAt:       e.UpdatedAt,
		CompletedAt:     e.CompletedAt,
	}
	if e.Status.IsTerminal() {
		rep.CurrentStep = ""
	}
	if e.Error != "" {
		rep.Error = &ErrorDetail{Message: e.Error, Kind: e.ErrorKind, Step: failedStep(records)}
	}

	if !e.Status.IsActive() {
		return rep, nil
	}
	if hasDef && e.Status != workflow.StatusCompensating {
		for i, step := range def.Steps {
			if i > e.CurrentStep || (i == e.CurrentStep && e.CurrentStepName == "") {
				if _, settled := done[i]; !settled {
					rep.NextSteps = append(rep.NextSteps, step.Name)
				}
			}
		}
	}

	perStep, ok := s.meanStepDuration(ctx, e.Type)
	if ok {
		remaining := time.Duration(e.TotalSteps-len(done)) * perStep
		if remaining < 0 {
			remaining = 0
		}
		at := s.now().Add(remaining)
		rep.EstimatedRemaining = &remaining
		rep.EstimatedCompletion = &at
	}
	return rep, nil
}

// settledSteps returns the definition indexes of forward steps that
// completed, were skipped, or failed under ContinueWithError. def may be
// nil when the version is no longer registered; failures then never count.
func settledSteps(records []*workflow.StepRecord, def *workflow.Definition) map[int]struct{} {
	done := make(map[int]struct{})
	for _, r := range records {
		if r.Kind == workflow.KindCompensation {
			continue
		}
		switch r.Status {
		case workflow.StepCompleted, workflow.StepSkipped:
			done[r.StepIndex] = struct{}{}
		case workflow.StepFailed:
			if continuedPast(def, r.StepIndex) {
				done[r.StepIndex] = struct{}{}
			}
		}
	}
	return done
}

func continuedPast(def *workflow.Definition, index int) bool {
	if def == nil || index < 0 || index >= len(def.Steps) {
		return false
	}
	return def.Steps[index].OnFailure == workflow.ContinueWithError
}

func progressOf(completed, total int) Progress {
	p := Progress{Completed: completed, Total: total}
	if total > 0 {
		p.Percent = float64(completed) * 100 / float64(total)
	}
	return p
}

// failedStep is the name of the last failed record.
func failedStep(records []*workflow.StepRecord) string {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Status == workflow.StepFailed {
			return records[i].Name
		}
	}
	return ""
}

// meanStepDuration averages wall time per step over recent completed
// executions of typ.
func (s *Service) meanStepDuration(ctx context.Context, typ string) (time.Duration, bool) {
	execs, err := s.store.ListExecutions(ctx, workflow.ListOpts{
		Statuses: []workflow.Status{workflow.StatusCompleted},
		Type:     typ,
	})
	if err != nil {
		s.logger.Warn("eta history unavailable", slog.String("type", typ), slog.String("error", err.Error()))
		return 0, false
	}
	if len(execs) > s.etaSamples {
		execs = execs[len(execs)-s.etaSamples:]
	}

	var (
		total time.Duration
		steps int
	)
	for _, e := range execs {
		if e.CompletedAt == nil || e.TotalSteps == 0 {
			continue
		}
		total += e.CompletedAt.Sub(runningSince(e))
		steps += e.TotalSteps
	}
	if steps == 0 {
		return 0, false
	}
	return total / time.Duration(steps), true
}
