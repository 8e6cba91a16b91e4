package workflows

import (
	"time"

	"github.com/xraph/saga/services"
	"github.com/xraph/saga/workflow"
)

// ComplianceInput names the data subject of an export or deletion request.
type ComplianceInput struct {
	SubjectUserID string `json:"subject_user_id"`
	RequestedBy   string `json:"requested_by,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (in ComplianceInput) check() error {
	return required("subject_user_id", in.SubjectUserID)
}

// ──────────────────────────────────────────────────
// Export
// ──────────────────────────────────────────────────

// ComplianceExportOutput is the result of a completed export.
type ComplianceExportOutput struct {
	SubjectUserID   string    `json:"subject_user_id"`
	ArchiveID       string    `json:"archive_id"`
	DownloadURL     string    `json:"download_url"`
	ExpiresAt       time.Time `json:"expires_at"`
	RecordsExported int       `json:"records_exported"`
	FilesExported   int       `json:"files_exported"`
	SubjectNotified bool      `json:"subject_notified"`

	PartialFailures []workflow.StepFailure `json:"partial_failures,omitempty"`
}

// ComplianceExport gathers everything held about a subject into one
// downloadable archive.
func ComplianceExport() *workflow.Definition {
	return &workflow.Definition{
		Name:     TypeComplianceExport,
		Version:  1,
		Validate: validate[ComplianceInput],
		Deadline: 24 * time.Hour,
		Steps: []workflow.Step{
			{
				Name:      "export_data",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.User,
				Operation: services.ExportData.Name,
				Request: request(func(_ *workflow.State, in ComplianceInput) (services.ExportDataRequest, error) {
					return services.ExportDataRequest{UserID: in.SubjectUserID}, nil
				}),
			},
			{
				Name:      "export_files",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.File,
				Operation: services.ExportFiles.Name,
				Request: request(func(_ *workflow.State, in ComplianceInput) (services.ExportFilesRequest, error) {
					return services.ExportFilesRequest{UserID: in.SubjectUserID}, nil
				}),
			},
			{
				Name:      "create_archive",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.File,
				Operation: services.CreateArchive.Name,
				Request: request(func(s *workflow.State, in ComplianceInput) (services.CreateArchiveRequest, error) {
					data, err := workflow.DecodeResult[services.ExportDataResponse](s, "export_data")
					if err != nil {
						return services.CreateArchiveRequest{}, err
					}
					files, err := workflow.DecodeResult[services.ExportFilesResponse](s, "export_files")
					return services.CreateArchiveRequest{
						UserID:  in.SubjectUserID,
						Data:    data.Data,
						Files:   files.Paths,
						Records: data.Records,
					}, err
				}),
			},
			{
				Name:      "notify_subject",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.ContinueWithError,
				Service:   services.Notification,
				Operation: services.Send.Name,
				Request: request(func(s *workflow.State, in ComplianceInput) (services.SendRequest, error) {
					a, err := workflow.DecodeResult[services.CreateArchiveResponse](s, "create_archive")
					return services.SendRequest{
						UserID:   in.SubjectUserID,
						Template: "data_export_ready",
						Data:     map[string]any{"download_url": a.DownloadURL, "expires_at": a.ExpiresAt},
					}, err
				}),
			},
		},
		Output: func(s *workflow.State) (any, error) {
			in, err := workflow.DecodeInput[ComplianceInput](s)
			if err != nil {
				return nil, err
			}
			data, err := workflow.DecodeResult[services.ExportDataResponse](s, "export_data")
			if err != nil {
				return nil, err
			}
			files, err := workflow.DecodeResult[services.ExportFilesResponse](s, "export_files")
			if err != nil {
				return nil, err
			}
			a, err := workflow.DecodeResult[services.CreateArchiveResponse](s, "create_archive")
			if err != nil {
				return nil, err
			}
			return ComplianceExportOutput{
				SubjectUserID:   in.SubjectUserID,
				ArchiveID:       a.ArchiveID,
				DownloadURL:     a.DownloadURL,
				ExpiresAt:       a.ExpiresAt,
				RecordsExported: data.Records,
				FilesExported:   files.Files,
				SubjectNotified: succeeded(s, "notify_subject"),

				PartialFailures: s.Failures(),
			}, nil
		},
	}
}

// ──────────────────────────────────────────────────
// Deletion
// ──────────────────────────────────────────────────

// ComplianceDeletionOutput is the result of a completed deletion.
type ComplianceDeletionOutput struct {
	SubjectUserID  string `json:"subject_user_id"`
	BackupCreated  bool   `json:"backup_created"`
	BackupID       string `json:"backup_id"`
	RecordsDeleted int    `json:"records_deleted"`
	FilesDeleted   int    `json:"files_deleted"`
	AccountDeleted bool   `json:"account_deleted"`

	PartialFailures []workflow.StepFailure `json:"partial_failures,omitempty"`
}

// ComplianceDeletion erases a subject across services. A backup is always
// taken first; if a later deletion fails, the deleted profile and files
// are restored from it and the execution ends rolled back. The backup is
// retained in either case.
func ComplianceDeletion() *workflow.Definition {
	backupOf := func(s *workflow.State) (services.BackupResponse, error) {
		return workflow.DecodeResult[services.BackupResponse](s, "create_backup")
	}

	return &workflow.Definition{
		Name:     TypeComplianceDeletion,
		Version:  1,
		Validate: validate[ComplianceInput],
		Deadline: 24 * time.Hour,
		Steps: []workflow.Step{
			{
				Name:      "create_backup",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Abort,
				Service:   services.File,
				Operation: services.CreateBackup.Name,
				Request: request(func(s *workflow.State, in ComplianceInput) (services.BackupRequest, error) {
					reason := in.Reason
					if reason == "" {
						reason = "erasure_request"
					}
					return services.BackupRequest{UserID: in.SubjectUserID, TenantID: s.Scope.TenantID, Reason: reason}, nil
				}),
			},
			{
				Name:      "delete_profile",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.User,
				Operation: services.DeleteProfile.Name,
				Request: request(func(_ *workflow.State, in ComplianceInput) (services.DeleteProfileRequest, error) {
					return services.DeleteProfileRequest{UserID: in.SubjectUserID}, nil
				}),
				Compensation: &workflow.Compensation{
					Service:   services.User,
					Operation: services.RestoreProfile.Name,
					Request: request(func(s *workflow.State, in ComplianceInput) (services.RestoreProfileRequest, error) {
						b, err := backupOf(s)
						return services.RestoreProfileRequest{UserID: in.SubjectUserID, BackupID: b.BackupID}, err
					}),
				},
			},
			{
				Name:      "delete_files",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.File,
				Operation: services.DeleteUserFiles.Name,
				Request: request(func(_ *workflow.State, in ComplianceInput) (services.DeleteUserFilesRequest, error) {
					return services.DeleteUserFilesRequest{UserID: in.SubjectUserID}, nil
				}),
				Compensation: &workflow.Compensation{
					Service:   services.File,
					Operation: services.RestoreFiles.Name,
					Request: request(func(s *workflow.State, in ComplianceInput) (services.RestoreFilesRequest, error) {
						b, err := backupOf(s)
						return services.RestoreFilesRequest{UserID: in.SubjectUserID, BackupID: b.BackupID}, err
					}),
				},
			},
			{
				Name:      "delete_account",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.Compensate,
				Service:   services.Auth,
				Operation: services.DeleteUserAccount.Name,
				Request: request(func(_ *workflow.State, in ComplianceInput) (services.DeleteUserAccountRequest, error) {
					return services.DeleteUserAccountRequest{UserID: in.SubjectUserID}, nil
				}),
			},
			{
				Name:      "confirm",
				Kind:      workflow.KindActivity,
				OnFailure: workflow.ContinueWithError,
				Service:   services.Notification,
				Operation: services.Send.Name,
				When: func(s *workflow.State) bool {
					in, err := workflow.DecodeInput[ComplianceInput](s)
					return err == nil && in.RequestedBy != ""
				},
				Request: request(func(s *workflow.State, in ComplianceInput) (services.SendRequest, error) {
					b, err := backupOf(s)
					return services.SendRequest{
						UserID:   in.RequestedBy,
						TenantID: s.Scope.TenantID,
						Template: "erasure_complete",
						Data:     map[string]any{"subject_user_id": in.SubjectUserID, "backup_id": b.BackupID},
					}, err
				}),
			},
		},
		Output: func(s *workflow.State) (any, error) {
			in, err := workflow.DecodeInput[ComplianceInput](s)
			if err != nil {
				return nil, err
			}
			b, err := backupOf(s)
			if err != nil {
				return nil, err
			}
			p, err := workflow.DecodeResult[services.DeleteProfileResponse](s, "delete_profile")
			if err != nil {
				return nil, err
			}
			f, err := workflow.DecodeResult[services.DeleteUserFilesResponse](s, "delete_files")
			if err != nil {
				return nil, err
			}
			a, err := workflow.DecodeResult[services.DeleteUserAccountResponse](s, "delete_account")
			if err != nil {
				return nil, err
			}
			records := p.RecordsDeleted + f.FilesDeleted
			if a.Deleted {
				records++
			}
			return ComplianceDeletionOutput{
				SubjectUserID:  in.SubjectUserID,
				BackupCreated:  b.BackupID != "",
				BackupID:       b.BackupID,
				RecordsDeleted: records,
				FilesDeleted:   f.FilesDeleted,
				AccountDeleted: a.Deleted,

				PartialFailures: s.Failures(),
			}, nil
		},
	}
}
