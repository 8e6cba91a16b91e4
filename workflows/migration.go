package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/services"
	"github.com/xraph/saga/workflow"
)

// TenantMigrationInput moves a user's data from one tenant to another.
type TenantMigrationInput struct {
	UserID         string `json:"user_id"`
	SourceTenantID string `json:"source_tenant_id"`
	TargetTenantID string `json:"target_tenant_id"`

	// KeepSource skips purging the source tenant's copy.
	KeepSource bool `json:"keep_source,omitempty"`
}

func (in TenantMigrationInput) check() error {
	if err := required("user_id", in.UserID, "source_tenant_id", in.SourceTenantID, "target_tenant_id", in.TargetTenantID); err != nil {
		return err
	}
	if in.SourceTenantID == in.TargetTenantID {
		return saga.NewValidationError("target_tenant_id", "must differ from source_tenant_id")
	}
	return nil
}

// TenantMigrationOutput is the result of a completed migration.
type TenantMigrationOutput struct {
	UserID         string `json:"user_id"`
	SourceTenantID string `json:"source_tenant_id"`
	TargetTenantID string `json:"target_tenant_id"`
	FilesCopied    int    `json:"files_copied"`
	RecordsCopied  int    `json:"records_copied"`
	SourcePurged   bool   `json:"source_purged"`

	PartialFailures []workflow.StepFailure `json:"partial_failures,omitempty"`
}

// TenantMigration copies a user's data into the target tenant and rebinds
// the user there. A failed copy or rebind rolls back; purging the source
// and notifying are best effort.
func TenantMigration() *workflow.Definition {
	return &workflow.Definition{
		Name:     TypeTenantMigration,
		Version:  1,
		Validate: validate[TenantMigrationInput],
		Deadline: 2 * time.Hour,
		Steps: []workflow.Step{
			{
				Name:      "check_source_access",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.Tenant,
				Operation: services.ValidateAccess.Name,
				Request: request(func(_ *workflow.State, in TenantMigrationInput) (services.ValidateAccessRequest, error) {
					return services.ValidateAccessRequest{UserID: in.UserID, TenantID: in.SourceTenantID}, nil
				}),
			},
			{
				Name:      "check_target_access",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.Tenant,
				Operation: services.ValidateAccess.Name,
				Request: request(func(_ *workflow.State, in TenantMigrationInput) (services.ValidateAccessRequest, error) {
					return services.ValidateAccessRequest{UserID: in.UserID, TenantID: in.TargetTenantID}, nil
				}),
			},
			{
				Name:      "authorize",
				Kind:      workflow.KindDecision,
				OnFailure: workflow.Abort,
				Decide: func(_ context.Context, s *workflow.State) (any, error) {
					in, err := workflow.DecodeInput[TenantMigrationInput](s)
					if err != nil {
						return nil, err
					}
					checks := []struct{ step, tenant string }{
						{"check_source_access", in.SourceTenantID},
						{"check_target_access", in.TargetTenantID},
					}
					for _, c := range checks {
						a, err := workflow.DecodeResult[services.ValidateAccessResponse](s, c.step)
						if err != nil {
							return nil, err
						}
						if !a.HasAccess {
							return nil, saga.NewSecurityError(
								fmt.Sprintf("user %s has no access to tenant %s", in.UserID, c.tenant), nil)
						}
					}
					return map[string]bool{"authorized": true}, nil
				},
			},
			{
				Name:      "copy_data",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.File,
				Operation: services.CopyData.Name,
				Timeout:   10 * time.Minute,
				Request: request(func(_ *workflow.State, in TenantMigrationInput) (services.CopyDataRequest, error) {
					return services.CopyDataRequest{
						UserID:         in.UserID,
						SourceTenantID: in.SourceTenantID,
						TargetTenantID: in.TargetTenantID,
					}, nil
				}),
				Compensation: &workflow.Compensation{
					Service:   services.File,
					Operation: services.DeleteCopy.Name,
					Request: func(s *workflow.State) (any, error) {
						c, err := workflow.DecodeResult[services.CopyDataResponse](s, "copy_data")
						return services.DeleteCopyRequest{CopyID: c.CopyID}, err
					},
				},
			},
			{
				Name:      "rebind_user",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.User,
				Operation: services.UpdateTenantBinding.Name,
				Request: request(func(_ *workflow.State, in TenantMigrationInput) (services.UpdateTenantBindingRequest, error) {
					return services.UpdateTenantBindingRequest{UserID: in.UserID, TenantID: in.TargetTenantID}, nil
				}),
				Compensation: &workflow.Compensation{
					Service:   services.User,
					Operation: services.UpdateTenantBinding.Name,
					Request: request(func(_ *workflow.State, in TenantMigrationInput) (services.UpdateTenantBindingRequest, error) {
						return services.UpdateTenantBindingRequest{UserID: in.UserID, TenantID: in.SourceTenantID}, nil
					}),
				},
			},
			{
				Name:      "purge_source",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.ContinueWithError,
				Service:   services.File,
				Operation: services.PurgeTenantData.Name,
				When: func(s *workflow.State) bool {
					in, err := workflow.DecodeInput[TenantMigrationInput](s)
					return err == nil && !in.KeepSource
				},
				Request: request(func(_ *workflow.State, in TenantMigrationInput) (services.PurgeTenantDataRequest, error) {
					return services.PurgeTenantDataRequest{UserID: in.UserID, TenantID: in.SourceTenantID}, nil
				}),
			},
			{
				Name:      "notify_user",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.ContinueWithError,
				Service:   services.Notification,
				Operation: services.Send.Name,
				Request: request(func(_ *workflow.State, in TenantMigrationInput) (services.SendRequest, error) {
					return services.SendRequest{
						UserID:   in.UserID,
						TenantID: in.TargetTenantID,
						Template: "migration_complete",
						Data:     map[string]any{"source_tenant_id": in.SourceTenantID},
					}, nil
				}),
			},
		},
		Output: func(s *workflow.State) (any, error) {
			in, err := workflow.DecodeInput[TenantMigrationInput](s)
			if err != nil {
				return nil, err
			}
			c, err := workflow.DecodeResult[services.CopyDataResponse](s, "copy_data")
			if err != nil {
				return nil, err
			}
			return TenantMigrationOutput{
				UserID:         in.UserID,
				SourceTenantID: in.SourceTenantID,
				TargetTenantID: in.TargetTenantID,
				FilesCopied:    c.FilesCopied,
				RecordsCopied:  c.RecordsCopied,
				SourcePurged:   succeeded(s, "purge_source"),

				PartialFailures: s.Failures(),
			}, nil
		},
	}
}
