package workflows

import (
	"context"
	"fmt"

	"github.com/xraph/saga"
	"github.com/xraph/saga/services"
	"github.com/xraph/saga/workflow"
)

// TenantSwitchingInput moves a signed-in user's session to another tenant.
// State is the anti-forgery token of the switch request.
type TenantSwitchingInput struct {
	UserID         string `json:"user_id"`
	TargetTenantID string `json:"target_tenant_id"`
	SessionID      string `json:"session_id"`
	State          string `json:"state,omitempty"`
}

func (in TenantSwitchingInput) check() error {
	return required("user_id", in.UserID, "target_tenant_id", in.TargetTenantID, "session_id", in.SessionID)
}

// TenantSwitchingOutput is the result of a completed switch.
type TenantSwitchingOutput struct {
	UserID            string   `json:"user_id"`
	PreviousTenantID  string   `json:"previous_tenant_id"`
	NewTenantID       string   `json:"new_tenant_id"`
	TenantName        string   `json:"tenant_name"`
	SessionID         string   `json:"session_id"`
	Role              string   `json:"role"`
	Permissions       []string `json:"permissions"`
	MembershipUpdated bool     `json:"membership_updated"`

	PartialFailures []workflow.StepFailure `json:"partial_failures,omitempty"`
}

// TenantSwitching validates access to the target tenant, loads its context,
// rebinds the user, rotates the session and refreshes the membership. Only
// the membership refresh may fail without failing the switch.
func TenantSwitching() *workflow.Definition {
	access := func(s *workflow.State) (services.ValidateAccessResponse, error) {
		return workflow.DecodeResult[services.ValidateAccessResponse](s, "validate_access")
	}

	return &workflow.Definition{
		Name:     TypeTenantSwitching,
		Version:  1,
		Validate: validate[TenantSwitchingInput],
		Steps: []workflow.Step{
			{
				Name:      "validate_access",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.Tenant,
				Operation: services.ValidateAccess.Name,
				Request: request(func(_ *workflow.State, in TenantSwitchingInput) (services.ValidateAccessRequest, error) {
					return services.ValidateAccessRequest{UserID: in.UserID, TenantID: in.TargetTenantID}, nil
				}),
			},
			{
				Name:      "authorize",
				Kind:      workflow.KindDecision,
				OnFailure: workflow.Abort,
				Decide: func(_ context.Context, s *workflow.State) (any, error) {
					in, err := workflow.DecodeInput[TenantSwitchingInput](s)
					if err != nil {
						return nil, err
					}
					a, err := access(s)
					if err != nil {
						return nil, err
					}
					if !a.HasAccess {
						return nil, saga.NewSecurityError(
							fmt.Sprintf("user %s has no access to tenant %s", in.UserID, in.TargetTenantID), nil)
					}
					return map[string]any{"role": a.Role}, nil
				},
			},
			{
				Name:      "fetch_tenant_context",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.Tenant,
				Operation: services.GetContext.Name,
				Request: request(func(_ *workflow.State, in TenantSwitchingInput) (services.GetContextRequest, error) {
					return services.GetContextRequest{TenantID: in.TargetTenantID}, nil
				}),
			},
			{
				Name:      "update_binding",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.User,
				Operation: services.UpdateTenantBinding.Name,
				Request: request(func(_ *workflow.State, in TenantSwitchingInput) (services.UpdateTenantBindingRequest, error) {
					return services.UpdateTenantBindingRequest{UserID: in.UserID, TenantID: in.TargetTenantID}, nil
				}),
			},
			{
				Name:      "rotate_session",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.Auth,
				Operation: services.RotateSession.Name,
				Request: request(func(_ *workflow.State, in TenantSwitchingInput) (services.RotateSessionRequest, error) {
					return services.RotateSessionRequest{
						UserID:       in.UserID,
						TenantID:     in.TargetTenantID,
						OldSessionID: in.SessionID,
						State:        in.State,
					}, nil
				}),
			},
			{
				Name:      "update_membership",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.ContinueWithError,
				Service:   services.Tenant,
				Operation: services.UpdateMembership.Name,
				Request: request(func(s *workflow.State, in TenantSwitchingInput) (services.MembershipRequest, error) {
					a, err := access(s)
					return services.MembershipRequest{
						UserID:      in.UserID,
						TenantID:    in.TargetTenantID,
						Role:        a.Role,
						Permissions: a.Permissions,
					}, err
				}),
			},
		},
		Output: func(s *workflow.State) (any, error) {
			in, err := workflow.DecodeInput[TenantSwitchingInput](s)
			if err != nil {
				return nil, err
			}
			a, err := access(s)
			if err != nil {
				return nil, err
			}
			tc, err := workflow.DecodeResult[services.GetContextResponse](s, "fetch_tenant_context")
			if err != nil {
				return nil, err
			}
			b, err := workflow.DecodeResult[services.UpdateTenantBindingResponse](s, "update_binding")
			if err != nil {
				return nil, err
			}
			sess, err := workflow.DecodeResult[services.RotateSessionResponse](s, "rotate_session")
			if err != nil {
				return nil, err
			}
			return TenantSwitchingOutput{
				UserID:            in.UserID,
				PreviousTenantID:  b.PreviousTenantID,
				NewTenantID:       b.TenantID,
				TenantName:        tc.Name,
				SessionID:         sess.SessionID,
				Role:              a.Role,
				Permissions:       a.Permissions,
				MembershipUpdated: succeeded(s, "update_membership"),

				PartialFailures: s.Failures(),
			}, nil
		},
	}
}
