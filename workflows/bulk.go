package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/xraph/saga"
	"github.com/xraph/saga/batch"
	"github.com/xraph/saga/services"
	"github.com/xraph/saga/workflow"
)

// BulkOperations lists the administrative operations a bulk run may apply.
var BulkOperations = []string{
	"deactivate",
	"reactivate",
	"reset_password",
	"assign_role",
	"revoke_sessions",
}

// BulkOperationInput applies one operation to many users.
type BulkOperationInput struct {
	Operation   string          `json:"operation"`
	UserIDs     []string        `json:"user_ids"`
	Params      json.RawMessage `json:"params,omitempty"`
	RequestedBy string          `json:"requested_by,omitempty"`
}

func (in BulkOperationInput) check() error {
	if err := required("operation", in.Operation); err != nil {
		return err
	}
	if !slices.Contains(BulkOperations, in.Operation) {
		return saga.NewValidationError("operation", fmt.Sprintf("unsupported operation %q", in.Operation))
	}
	if len(in.UserIDs) == 0 {
		return saga.NewValidationError("user_ids", "is empty")
	}
	return nil
}

// BulkOperationOutput summarizes a bulk run. Per-entity failures are listed
// in Errors and do not fail the execution.
type BulkOperationOutput struct {
	Operation string              `json:"operation"`
	Total     int                 `json:"total"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Skipped   int                 `json:"skipped"`
	Batches   int                 `json:"batches"`
	Errors    []batch.EntityError `json:"errors,omitempty"`
	Reported  bool                `json:"reported"`

	PartialFailures []workflow.StepFailure `json:"partial_failures,omitempty"`
}

// BulkOperation fans an administrative operation out over the input users
// in batches. With opts.ContinueOnError every user is attempted and
// failures are collected; otherwise the first failure aborts the run.
func BulkOperation(opts batch.Options) *workflow.Definition {
	return &workflow.Definition{
		Name:     TypeBulkOperation,
		Version:  1,
		Validate: validate[BulkOperationInput],
		Steps: []workflow.Step{
			{
				Name:      "plan",
				Kind:      workflow.KindDecision,
				OnFailure: workflow.Abort,
				Decide: func(_ context.Context, s *workflow.State) (any, error) {
					in, err := workflow.DecodeInput[BulkOperationInput](s)
					if err != nil {
						return nil, err
					}
					size := opts.BatchSize
					if size <= 0 {
						size = batch.DefaultBatchSize
					}
					return map[string]int{
						"entities": len(in.UserIDs),
						"batches":  (len(in.UserIDs) + size - 1) / size,
					}, nil
				},
			},
			{
				Name:      "apply",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.User,
				Operation: services.ApplyOperation.Name,
				ForEach: &workflow.ForEach{
					Options: opts,
					Items: func(s *workflow.State) ([]any, error) {
						in, err := workflow.DecodeInput[BulkOperationInput](s)
						if err != nil {
							return nil, err
						}
						items := make([]any, len(in.UserIDs))
						for i, userID := range in.UserIDs {
							items[i] = services.ApplyOperationRequest{
								UserID:    userID,
								Operation: in.Operation,
								Params:    in.Params,
							}
						}
						return items, nil
					},
				},
			},
			{
				Name:      "report",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.ContinueWithError,
				Service:   services.Notification,
				Operation: services.Send.Name,
				When: func(s *workflow.State) bool {
					in, err := workflow.DecodeInput[BulkOperationInput](s)
					return err == nil && in.RequestedBy != ""
				},
				Request: request(func(s *workflow.State, in BulkOperationInput) (services.SendRequest, error) {
					res, err := workflow.DecodeResult[workflow.ForEachOutput](s, "apply")
					return services.SendRequest{
						UserID:   in.RequestedBy,
						TenantID: s.Scope.TenantID,
						Template: "bulk_operation_report",
						Data: map[string]any{
							"operation": in.Operation,
							"succeeded": res.Succeeded,
							"failed":    res.Failed,
						},
					}, err
				}),
			},
		},
		Output: func(s *workflow.State) (any, error) {
			in, err := workflow.DecodeInput[BulkOperationInput](s)
			if err != nil {
				return nil, err
			}
			res, err := workflow.DecodeResult[workflow.ForEachOutput](s, "apply")
			if err != nil {
				return nil, err
			}
			return BulkOperationOutput{
				Operation: in.Operation,
				Total:     res.Total,
				Succeeded: res.Succeeded,
				Failed:    res.Failed,
				Skipped:   res.Skipped,
				Batches:   res.Batches,
				Errors:    res.Errors,
				Reported:  succeeded(s, "report"),

				PartialFailures: s.Failures(),
			}, nil
		},
	}
}
