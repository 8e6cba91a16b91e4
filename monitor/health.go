package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/cluster"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/workflow"
)

// Severity ranks a HealthIssue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// HealthIssue is a problem detected on an active execution.
type HealthIssue struct {
	ExecutionID      id.ExecutionID  `json:"execution_id"`
	Type             string          `json:"workflow_type"`
	Status           workflow.Status `json:"status"`
	Severity         Severity        `json:"severity"`
	Reason           string          `json:"reason"`
	RunningFor       time.Duration   `json:"running_for"`
	SuggestedActions []string        `json:"suggested_actions"`
}

// DetectHealthIssues inspects every active execution. Issues are ordered
// most severe first, then longest running.
func (s *Service) DetectHealthIssues(ctx context.Context) ([]HealthIssue, error) {
	execs, err := s.store.ListExecutions(ctx, workflow.ListOpts{Statuses: activeStatuses})
	if err != nil {
		return nil, fmt.Errorf("monitor: detect health issues: %w", err)
	}

	now := s.now()
	issues := []HealthIssue{}
	for _, e := range execs {
		found, err := s.inspect(ctx, e, now)
		if err != nil {
			return nil, err
		}
		issues = append(issues, found...)
	}

	sort.SliceStable(issues, func(i, k int) bool {
		if ri, rk := issues[i].Severity.rank(), issues[k].Severity.rank(); ri != rk {
			return ri > rk
		}
		return issues[i].RunningFor > issues[k].RunningFor
	})
	return issues, nil
}

func (s *Service) inspect(ctx context.Context, e *workflow.Execution, now time.Time) ([]HealthIssue, error) {
	age := now.Sub(runningSince(e))
	issue := func(sev Severity, reason string, actions ...string) HealthIssue {
		return HealthIssue{
			ExecutionID:      e.ID,
			Type:             e.Type,
			Status:           e.Status,
			Severity:         sev,
			Reason:           reason,
			RunningFor:       age,
			SuggestedActions: actions,
		}
	}

	var issues []HealthIssue
	switch {
	case s.criticalAfter > 0 && age >= s.criticalAfter:
		issues = append(issues, issue(SeverityCritical,
			fmt.Sprintf("%s for %s", e.Status, age.Round(time.Second)),
			"inspect the debug trace", "cancel the execution", "check downstream service health"))
	case s.warnAfter > 0 && age >= s.warnAfter:
		issues = append(issues, issue(SeverityWarning,
			fmt.Sprintf("%s for %s", e.Status, age.Round(time.Second)),
			"inspect the debug trace", "check downstream service health"))
	}

	if e.Status != workflow.StatusPending {
		lease, err := s.store.GetLease(ctx, cluster.ExecutionLeaseKey(e.ID))
		switch {
		case errors.Is(err, saga.ErrLeaseNotFound):
			issues = append(issues, issue(SeverityWarning, "no driver holds the execution lease",
				"resume the execution", "check that workers are running"))
		case err != nil:
			return nil, fmt.Errorf("monitor: lease of %s: %w", e.ID, err)
		case lease.Expired(now):
			issues = append(issues, issue(SeverityWarning,
				fmt.Sprintf("lease held by %s expired %s ago", lease.Owner, now.Sub(lease.ExpiresAt).Round(time.Second)),
				"resume the execution", "check that workers are running"))
		}
	}

	if s.unhealthyAttempts > 0 {
		records, err := s.store.ListSteps(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("monitor: steps of %s: %w", e.ID, err)
		}
		for _, r := range records {
			if r.Generation != e.Generation || r.Attempts < s.unhealthyAttempts {
				continue
			}
			issues = append(issues, issue(SeverityWarning,
				fmt.Sprintf("step %s attempted %d times", r.Name, r.Attempts),
				"check "+r.Name+" downstream service health", "cancel the execution"))
		}
	}

	if e.CancelRequested {
		issues = append(issues, issue(SeverityInfo, "cancellation requested, waiting for the driver",
			"wait for the in-flight step to finish"))
	}
	return issues, nil
}
