package workflows

import (
	"time"

	"github.com/xraph/saga/services"
	"github.com/xraph/saga/workflow"
)

// TenantProvisioningInput creates a tenant with its first owner.
type TenantProvisioningInput struct {
	Name       string            `json:"name"`
	Plan       string            `json:"plan"`
	OwnerEmail string            `json:"owner_email"`
	OwnerName  string            `json:"owner_name"`
	Workspace  map[string]string `json:"workspace_config,omitempty"`
}

func (in TenantProvisioningInput) check() error {
	return required("name", in.Name, "owner_email", in.OwnerEmail)
}

// TenantProvisioningOutput is the result of a completed provisioning.
type TenantProvisioningOutput struct {
	TenantID    string `json:"tenant_id"`
	OwnerUserID string `json:"owner_user_id"`
	ProfileID   string `json:"profile_id"`
	WorkspaceID string `json:"workspace_id"`
	Notified    bool   `json:"notified"`

	PartialFailures []workflow.StepFailure `json:"partial_failures,omitempty"`
}

// TenantProvisioning creates the tenant, its owner account, profile and
// membership, and a workspace. Any failure before the notification rolls
// back everything created so far.
func TenantProvisioning() *workflow.Definition {
	return &workflow.Definition{
		Name:     TypeTenantProvisioning,
		Version:  1,
		Validate: validate[TenantProvisioningInput],
		Deadline: 30 * time.Minute,
		Steps: []workflow.Step{
			{
				Name:      "create_tenant",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.Tenant,
				Operation: services.CreateTenant.Name,
				Request: request(func(_ *workflow.State, in TenantProvisioningInput) (services.CreateTenantRequest, error) {
					plan := in.Plan
					if plan == "" {
						plan = "free"
					}
					return services.CreateTenantRequest{Name: in.Name, Plan: plan, OwnerEmail: in.OwnerEmail}, nil
				}),
				Compensation: &workflow.Compensation{
					Service:   services.Tenant,
					Operation: services.DeleteTenant.Name,
					Request: func(s *workflow.State) (any, error) {
						t, err := workflow.DecodeResult[services.CreateTenantResponse](s, "create_tenant")
						return services.DeleteTenantRequest{TenantID: t.TenantID}, err
					},
				},
			},
			{
				Name:      "create_owner_account",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.Auth,
				Operation: services.CreateUserAccount.Name,
				Request: request(func(s *workflow.State, in TenantProvisioningInput) (services.CreateUserAccountRequest, error) {
					t, err := workflow.DecodeResult[services.CreateTenantResponse](s, "create_tenant")
					return services.CreateUserAccountRequest{
						Email:    in.OwnerEmail,
						Name:     in.OwnerName,
						Role:     "owner",
						TenantID: t.TenantID,
					}, err
				}),
				Compensation: deleteAccount("create_owner_account"),
			},
			{
				Name:      "create_owner_profile",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.User,
				Operation: services.CreateProfile.Name,
				Request: func(s *workflow.State) (any, error) {
					t, err := workflow.DecodeResult[services.CreateTenantResponse](s, "create_tenant")
					if err != nil {
						return nil, err
					}
					u, err := workflow.DecodeResult[services.CreateUserAccountResponse](s, "create_owner_account")
					return services.CreateProfileRequest{UserID: u.UserID, TenantID: t.TenantID}, err
				},
				Compensation: deleteProfile("create_owner_account"),
			},
			{
				Name:      "grant_owner",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.Tenant,
				Operation: services.AddMember.Name,
				Request: func(s *workflow.State) (any, error) {
					t, err := workflow.DecodeResult[services.CreateTenantResponse](s, "create_tenant")
					if err != nil {
						return nil, err
					}
					u, err := workflow.DecodeResult[services.CreateUserAccountResponse](s, "create_owner_account")
					return services.MembershipRequest{
						UserID:      u.UserID,
						TenantID:    t.TenantID,
						Role:        "owner",
						Permissions: []string{"*"},
					}, err
				},
				Compensation: &workflow.Compensation{
					Service:   services.Tenant,
					Operation: services.RemoveMember.Name,
					Request: func(s *workflow.State) (any, error) {
						t, err := workflow.DecodeResult[services.CreateTenantResponse](s, "create_tenant")
						if err != nil {
							return nil, err
						}
						u, err := workflow.DecodeResult[services.CreateUserAccountResponse](s, "create_owner_account")
						return services.RemoveMemberRequest{UserID: u.UserID, TenantID: t.TenantID}, err
					},
				},
			},
			{
				Name:      "setup_workspace",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.File,
				Operation: services.SetupWorkspace.Name,
				Request: request(func(s *workflow.State, in TenantProvisioningInput) (services.SetupWorkspaceRequest, error) {
					t, err := workflow.DecodeResult[services.CreateTenantResponse](s, "create_tenant")
					if err != nil {
						return services.SetupWorkspaceRequest{}, err
					}
					u, err := workflow.DecodeResult[services.CreateUserAccountResponse](s, "create_owner_account")
					return services.SetupWorkspaceRequest{UserID: u.UserID, TenantID: t.TenantID, Config: in.Workspace}, err
				}),
				Compensation: deleteWorkspace("setup_workspace"),
			},
			{
				Name:      "notify_owner",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.ContinueWithError,
				Service:   services.Notification,
				Operation: services.Send.Name,
				Request: request(func(s *workflow.State, in TenantProvisioningInput) (services.SendRequest, error) {
					t, err := workflow.DecodeResult[services.CreateTenantResponse](s, "create_tenant")
					if err != nil {
						return services.SendRequest{}, err
					}
					u, err := workflow.DecodeResult[services.CreateUserAccountResponse](s, "create_owner_account")
					return services.SendRequest{
						UserID:   u.UserID,
						TenantID: t.TenantID,
						Template: "tenant_ready",
						Data:     map[string]any{"tenant_name": in.Name},
					}, err
				}),
			},
		},
		Output: func(s *workflow.State) (any, error) {
			t, err := workflow.DecodeResult[services.CreateTenantResponse](s, "create_tenant")
			if err != nil {
				return nil, err
			}
			u, err := workflow.DecodeResult[services.CreateUserAccountResponse](s, "create_owner_account")
			if err != nil {
				return nil, err
			}
			p, err := workflow.DecodeResult[services.CreateProfileResponse](s, "create_owner_profile")
			if err != nil {
				return nil, err
			}
			w, err := workflow.DecodeResult[services.SetupWorkspaceResponse](s, "setup_workspace")
			if err != nil {
				return nil, err
			}
			return TenantProvisioningOutput{
				TenantID:    t.TenantID,
				OwnerUserID: u.UserID,
				ProfileID:   p.ProfileID,
				WorkspaceID: w.WorkspaceID,
				Notified:    succeeded(s, "notify_owner"),

				PartialFailures: s.Failures(),
			}, nil
		},
	}
}

// ── Shared compensations ────────────────────────────

func deleteAccount(accountStep string) *workflow.Compensation {
	return &workflow.Compensation{
		Service:   services.Auth,
		Operation: services.DeleteUserAccount.Name,
		Request: func(s *workflow.State) (any, error) {
			u, err := workflow.DecodeResult[services.CreateUserAccountResponse](s, accountStep)
			return services.DeleteUserAccountRequest{UserID: u.UserID}, err
		},
	}
}

func deleteProfile(accountStep string) *workflow.Compensation {
	return &workflow.Compensation{
		Service:   services.User,
		Operation: services.DeleteProfile.Name,
		Request: func(s *workflow.State) (any, error) {
			u, err := workflow.DecodeResult[services.CreateUserAccountResponse](s, accountStep)
			return services.DeleteProfileRequest{UserID: u.UserID}, err
		},
	}
}

func deleteWorkspace(workspaceStep string) *workflow.Compensation {
	return &workflow.Compensation{
		Service:   services.File,
		Operation: services.DeleteWorkspace.Name,
		Request: func(s *workflow.State) (any, error) {
			w, err := workflow.DecodeResult[services.SetupWorkspaceResponse](s, workspaceStep)
			return services.DeleteWorkspaceRequest{WorkspaceID: w.WorkspaceID}, err
		},
	}
}
