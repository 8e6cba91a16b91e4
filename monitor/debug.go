package monitor

import (
	"context"
	"errors"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/workflow"
)

// DebugReport is the full trace of one execution.
type DebugReport struct {
	Execution *workflow.Execution    `json:"execution" yaml:"execution"`
	Steps     []*workflow.StepRecord `json:"steps" yaml:"steps"`
	Variables map[string]any         `json:"variables" yaml:"variables"`
	Plan      []string               `json:"plan,omitempty" yaml:"plan,omitempty"`
	Lease     *cluster.Lease         `json:"lease,omitempty" yaml:"lease,omitempty"`
}

// Debug returns the execution, every step record in order, and the
// variable state rebuilt from them.
func (s *Service) Debug(ctx context.Context, executionID id.ExecutionID) (*DebugReport, error) {
	e, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListSteps(ctx, executionID)
	if err != nil {
		return nil, err
	}

	def, _ := s.registry.GetVersion(e.Type, e.Version)
	rep := &DebugReport{
		Execution: e,
		Steps:     records,
		Variables: workflow.Rebuild(e, def, records).Vars(),
	}
	if def != nil {
		rep.Plan = def.StepNames()
	}

	lease, err := s.store.GetLease(ctx, cluster.ExecutionLeaseKey(executionID))
	switch {
	case err == nil:
		rep.Lease = lease
	case !errors.Is(err, saga.ErrLeaseNotFound):
		return nil, err
	}
	return rep, nil
}
