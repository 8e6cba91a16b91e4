// Package services declares the request/response contracts of the
// collaborating services the concrete workflows call: auth, user, tenant,
// file and notification.
//
// Each operation is registered once in a shared activity.Registry and
// exposed as a typed activity.Operation. The workflow registry checks every
// activity step against Contracts() at registration, so a step naming an
// unknown operation never reaches an execution.
package services

import (
	"encoding/json"
	"time"

	"github.com/xraph/saga/activity"
)

// Service names.
const (
	Auth         = "auth"
	User         = "user"
	Tenant       = "tenant"
	File         = "file"
	Notification = "notification"
)

// Names lists every collaborating service.
func Names() []string { return []string{Auth, User, Tenant, File, Notification} }

var contracts = activity.NewRegistry()

// Contracts returns the registry of every declared operation.
func Contracts() *activity.Registry { return contracts }

// ──────────────────────────────────────────────────
// auth
// ──────────────────────────────────────────────────

type CreateUserAccountRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

type CreateUserAccountResponse struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type DeleteUserAccountRequest struct {
	UserID string `json:"user_id"`
}

type DeleteUserAccountResponse struct {
	Deleted bool `json:"deleted"`
}

// RotateSessionRequest re-issues a session bound to TenantID. State is the
// anti-forgery token of the switch request; a mismatch is a security
// violation.
type RotateSessionRequest struct {
	UserID       string `json:"user_id"`
	TenantID     string `json:"tenant_id"`
	OldSessionID string `json:"old_session_id"`
	State        string `json:"state,omitempty"`
}

type RotateSessionResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	CreateUserAccount = activity.Register[CreateUserAccountRequest, CreateUserAccountResponse](contracts, Auth, "create_user_account")
	DeleteUserAccount = activity.Register[DeleteUserAccountRequest, DeleteUserAccountResponse](contracts, Auth, "delete_user_account")
	RotateSession     = activity.Register[RotateSessionRequest, RotateSessionResponse](contracts, Auth, "rotate_session")
)

// ──────────────────────────────────────────────────
// user
// ──────────────────────────────────────────────────

type CreateProfileRequest struct {
	UserID      string          `json:"user_id"`
	TenantID    string          `json:"tenant_id"`
	ProfileData json.RawMessage `json:"profile_data,omitempty"`
}

type CreateProfileResponse struct {
	ProfileID string `json:"profile_id"`
}

type DeleteProfileRequest struct {
	UserID string `json:"user_id"`
}

type DeleteProfileResponse struct {
	RecordsDeleted int `json:"records_deleted"`
}

type RestoreProfileRequest struct {
	UserID   string `json:"user_id"`
	BackupID string `json:"backup_id"`
}

type RestoreProfileResponse struct {
	ProfileID string `json:"profile_id"`
}

type UpdateTenantBindingRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

type UpdateTenantBindingResponse struct {
	PreviousTenantID string `json:"previous_tenant_id"`
	TenantID         string `json:"tenant_id"`
}

type ExportDataRequest struct {
	UserID string `json:"user_id"`
}

type ExportDataResponse struct {
	Records int             `json:"records"`
	Data    json.RawMessage `json:"data"`
}

// ApplyOperationRequest is one entity of a bulk administrative operation.
type ApplyOperationRequest struct {
	UserID    string          `json:"user_id"`
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// BatchKey names the entity in batch error reports.
func (r ApplyOperationRequest) BatchKey() string { return r.UserID }

type ApplyOperationResponse struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

var (
	CreateProfile       = activity.Register[CreateProfileRequest, CreateProfileResponse](contracts, User, "create_profile")
	DeleteProfile       = activity.Register[DeleteProfileRequest, DeleteProfileResponse](contracts, User, "delete_profile")
	RestoreProfile      = activity.Register[RestoreProfileRequest, RestoreProfileResponse](contracts, User, "restore_profile")
	UpdateTenantBinding = activity.Register[UpdateTenantBindingRequest, UpdateTenantBindingResponse](contracts, User, "update_tenant_binding")
	ExportData          = activity.Register[ExportDataRequest, ExportDataResponse](contracts, User, "export_data")
	ApplyOperation      = activity.Register[ApplyOperationRequest, ApplyOperationResponse](contracts, User, "apply_operation")
)

// ──────────────────────────────────────────────────
// tenant
// ──────────────────────────────────────────────────

type CreateTenantRequest struct {
	Name       string `json:"name"`
	Plan       string `json:"plan"`
	OwnerEmail string `json:"owner_email"`
}

type CreateTenantResponse struct {
	TenantID string `json:"tenant_id"`
}

type DeleteTenantRequest struct {
	TenantID string `json:"tenant_id"`
}

type DeleteTenantResponse struct {
	Deleted bool `json:"deleted"`
}

type ValidateAccessRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

type ValidateAccessResponse struct {
	HasAccess   bool     `json:"has_access"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type GetContextRequest struct {
	TenantID string `json:"tenant_id"`
}

type GetContextResponse struct {
	TenantID string            `json:"tenant_id"`
	Name     string            `json:"name"`
	Plan     string            `json:"plan"`
	Settings map[string]string `json:"settings,omitempty"`
}

type MembershipRequest struct {
	UserID      string   `json:"user_id"`
	TenantID    string   `json:"tenant_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

type MembershipResponse struct {
	MembershipID string `json:"membership_id"`
}

type RemoveMemberRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

type RemoveMemberResponse struct {
	Removed bool `json:"removed"`
}

var (
	CreateTenant     = activity.Register[CreateTenantRequest, CreateTenantResponse](contracts, Tenant, "create_tenant")
	DeleteTenant     = activity.Register[DeleteTenantRequest, DeleteTenantResponse](contracts, Tenant, "delete_tenant")
	ValidateAccess   = activity.Register[ValidateAccessRequest, ValidateAccessResponse](contracts, Tenant, "validate_access")
	GetContext       = activity.Register[GetContextRequest, GetContextResponse](contracts, Tenant, "get_context")
	AddMember        = activity.Register[MembershipRequest, MembershipResponse](contracts, Tenant, "add_member")
	RemoveMember     = activity.Register[RemoveMemberRequest, RemoveMemberResponse](contracts, Tenant, "remove_member")
	UpdateMembership = activity.Register[MembershipRequest, MembershipResponse](contracts, Tenant, "update_membership")
)

// ──────────────────────────────────────────────────
// file
// ──────────────────────────────────────────────────

type SetupWorkspaceRequest struct {
	UserID   string            `json:"user_id"`
	TenantID string            `json:"tenant_id"`
	Config   map[string]string `json:"config,omitempty"`
}

type SetupWorkspaceResponse struct {
	WorkspaceID string `json:"workspace_id"`
}

type DeleteWorkspaceRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

type DeleteWorkspaceResponse struct {
	Deleted bool `json:"deleted"`
}

// BackupRequest snapshots everything held about a user across services.
type BackupRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
	Reason   string `json:"reason"`
}

type BackupResponse struct {
	BackupID string `json:"backup_id"`
	Records  int    `json:"records"`
}

type DeleteUserFilesRequest struct {
	UserID string `json:"user_id"`
}

type DeleteUserFilesResponse struct {
	FilesDeleted int `json:"files_deleted"`
}

type RestoreFilesRequest struct {
	UserID   string `json:"user_id"`
	BackupID string `json:"backup_id"`
}

type RestoreFilesResponse struct {
	FilesRestored int `json:"files_restored"`
}

type ExportFilesRequest struct {
	UserID string `json:"user_id"`
}

type ExportFilesResponse struct {
	Files int      `json:"files"`
	Paths []string `json:"paths"`
}

type CreateArchiveRequest struct {
	UserID  string          `json:"user_id"`
	Data    json.RawMessage `json:"data"`
	Files   []string        `json:"files"`
	Records int             `json:"records"`
}

type CreateArchiveResponse struct {
	ArchiveID   string    `json:"archive_id"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type CopyDataRequest struct {
	UserID         string `json:"user_id"`
	SourceTenantID string `json:"source_tenant_id"`
	TargetTenantID string `json:"target_tenant_id"`
}

type CopyDataResponse struct {
	CopyID        string `json:"copy_id"`
	FilesCopied   int    `json:"files_copied"`
	RecordsCopied int    `json:"records_copied"`
}

type DeleteCopyRequest struct {
	CopyID string `json:"copy_id"`
}

type DeleteCopyResponse struct {
	Deleted bool `json:"deleted"`
}

type PurgeTenantDataRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

type PurgeTenantDataResponse struct {
	FilesDeleted int `json:"files_deleted"`
}

var (
	SetupWorkspace  = activity.Register[SetupWorkspaceRequest, SetupWorkspaceResponse](contracts, File, "setup_workspace")
	DeleteWorkspace = activity.Register[DeleteWorkspaceRequest, DeleteWorkspaceResponse](contracts, File, "delete_workspace")
	CreateBackup    = activity.Register[BackupRequest, BackupResponse](contracts, File, "create_backup")
	DeleteUserFiles = activity.Register[DeleteUserFilesRequest, DeleteUserFilesResponse](contracts, File, "delete_user_files")
	RestoreFiles    = activity.Register[RestoreFilesRequest, RestoreFilesResponse](contracts, File, "restore_files")
	ExportFiles     = activity.Register[ExportFilesRequest, ExportFilesResponse](contracts, File, "export_files")
	CreateArchive   = activity.Register[CreateArchiveRequest, CreateArchiveResponse](contracts, File, "create_archive")
	CopyData        = activity.Register[CopyDataRequest, CopyDataResponse](contracts, File, "copy_data")
	DeleteCopy      = activity.Register[DeleteCopyRequest, DeleteCopyResponse](contracts, File, "delete_copy")
	PurgeTenantData = activity.Register[PurgeTenantDataRequest, PurgeTenantDataResponse](contracts, File, "purge_tenant_data")
)

// ──────────────────────────────────────────────────
// notification
// ──────────────────────────────────────────────────

type SendRequest struct {
	UserID   string         `json:"user_id"`
	TenantID string         `json:"tenant_id,omitempty"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

type SendResponse struct {
	NotificationID string `json:"notification_id"`
}

var Send = activity.Register[SendRequest, SendResponse](contracts, Notification, "send")
