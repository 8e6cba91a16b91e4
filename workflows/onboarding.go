package workflows

import (
	"encoding/json"

	"github.com/xraph/saga/services"
	"github.com/xraph/saga/workflow"
)

// UserOnboardingInput adds a new user to an existing tenant. TenantID
// defaults to the submitting scope's tenant.
type UserOnboardingInput struct {
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	Role        string            `json:"role"`
	TenantID    string            `json:"tenant_id,omitempty"`
	ProfileData json.RawMessage   `json:"profile_data,omitempty"`
	Workspace   map[string]string `json:"workspace_config,omitempty"`
}

func (in UserOnboardingInput) check() error {
	return required("email", in.Email, "name", in.Name)
}

func (in UserOnboardingInput) role() string {
	if in.Role == "" {
		return "member"
	}
	return in.Role
}

// UserOnboardingOutput is the result of a completed onboarding.
type UserOnboardingOutput struct {
	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id"`
	ProfileID   string `json:"profile_id"`
	WorkspaceID string `json:"workspace_id"`
	WelcomeSent bool   `json:"welcome_sent"`

	PartialFailures []workflow.StepFailure `json:"partial_failures,omitempty"`
}

// UserOnboarding creates the account, profile, membership and workspace of
// a new user, then sends a welcome message. A failed welcome does not fail
// the onboarding.
func UserOnboarding() *workflow.Definition {
	account := func(s *workflow.State) (services.CreateUserAccountResponse, error) {
		return workflow.DecodeResult[services.CreateUserAccountResponse](s, "create_account")
	}

	return &workflow.Definition{
		Name:     TypeUserOnboarding,
		Version:  1,
		Validate: validate[UserOnboardingInput],
		Steps: []workflow.Step{
			{
				Name:      "create_account",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.Auth,
				Operation: services.CreateUserAccount.Name,
				Request: request(func(s *workflow.State, in UserOnboardingInput) (services.CreateUserAccountRequest, error) {
					return services.CreateUserAccountRequest{
						Email:    in.Email,
						Name:     in.Name,
						Role:     in.role(),
						TenantID: tenantOf(s, in.TenantID),
					}, nil
				}),
				Compensation: deleteAccount("create_account"),
			},
			{
				Name:      "create_profile",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.User,
				Operation: services.CreateProfile.Name,
				Request: request(func(s *workflow.State, in UserOnboardingInput) (services.CreateProfileRequest, error) {
					u, err := account(s)
					return services.CreateProfileRequest{
						UserID:      u.UserID,
						TenantID:    tenantOf(s, in.TenantID),
						ProfileData: in.ProfileData,
					}, err
				}),
				Compensation: deleteProfile("create_account"),
			},
			{
				Name:      "add_membership",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.Tenant,
				Operation: services.AddMember.Name,
				Request: request(func(s *workflow.State, in UserOnboardingInput) (services.MembershipRequest, error) {
					u, err := account(s)
					return services.MembershipRequest{
						UserID:   u.UserID,
						TenantID: tenantOf(s, in.TenantID),
						Role:     in.role(),
					}, err
				}),
				Compensation: &workflow.Compensation{
					Service:   services.Tenant,
					Operation: services.RemoveMember.Name,
					Request: request(func(s *workflow.State, in UserOnboardingInput) (services.RemoveMemberRequest, error) {
						u, err := account(s)
						return services.RemoveMemberRequest{UserID: u.UserID, TenantID: tenantOf(s, in.TenantID)}, err
					}),
				},
			},
			{
				Name:      "setup_workspace",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.File,
				Operation: services.SetupWorkspace.Name,
				Request: request(func(s *workflow.State, in UserOnboardingInput) (services.SetupWorkspaceRequest, error) {
					u, err := account(s)
					return services.SetupWorkspaceRequest{
						UserID:   u.UserID,
						TenantID: tenantOf(s, in.TenantID),
						Config:   in.Workspace,
					}, err
				}),
				Compensation: deleteWorkspace("setup_workspace"),
			},
			{
				Name:      "send_welcome",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.ContinueWithError,
				Service:   services.Notification,
				Operation: services.Send.Name,
				Request: request(func(s *workflow.State, in UserOnboardingInput) (services.SendRequest, error) {
					u, err := account(s)
					return services.SendRequest{
						UserID:   u.UserID,
						TenantID: tenantOf(s, in.TenantID),
						Template: "welcome",
						Data:     map[string]any{"name": in.Name},
					}, err
				}),
			},
		},
		Output: func(s *workflow.State) (any, error) {
			in, err := workflow.DecodeInput[UserOnboardingInput](s)
			if err != nil {
				return nil, err
			}
			u, err := account(s)
			if err != nil {
				return nil, err
			}
			p, err := workflow.DecodeResult[services.CreateProfileResponse](s, "create_profile")
			if err != nil {
				return nil, err
			}
			w, err := workflow.DecodeResult[services.SetupWorkspaceResponse](s, "setup_workspace")
			if err != nil {
				return nil, err
			}
			return UserOnboardingOutput{
				UserID:      u.UserID,
				TenantID:    tenantOf(s, in.TenantID),
				ProfileID:   p.ProfileID,
				WorkspaceID: w.WorkspaceID,
				WelcomeSent: succeeded(s, "send_welcome"),

				PartialFailures: s.Failures(),
			}, nil
		},
	}
}
