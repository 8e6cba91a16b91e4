package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
)

// Fake is an in-memory implementation of every contract, served through an
// activity.Local. It backs the development server and workflow tests.
//
// Successful responses are cached per idempotency key, so a replayed
// invocation returns the first response without a second side effect.
type Fake struct {
	*activity.Local

	mu  sync.Mutex
	now func() time.Time
	seq int

	accounts   map[string]CreateUserAccountRequest
	profiles   map[string]profile
	bindings   map[string]string
	tenants    map[string]GetContextResponse
	members    map[string]MembershipRequest
	workspaces map[string]SetupWorkspaceRequest
	files      map[string]map[string]int // user → tenant → files
	backups    map[string]backup
	copies     map[string]CopyDataRequest
	sessions   map[string]string
	archives   map[string]CreateArchiveRequest
	sent       []SendRequest
	applied    map[string][]string // user → operations

	replies map[string]any
	calls   map[string]int
	faults  map[string]*fault
	down    map[string]bool
}

type profile struct {
	ProfileID string          `json:"profile_id"`
	TenantID  string          `json:"tenant_id"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type backup struct {
	UserID  string
	Profile *profile
	Files   map[string]int
}

type fault struct {
	remaining int // negative means forever
	err       error
}

// NewFake creates a Fake with every operation and health probe installed.
func NewFake() *Fake {
	f := &Fake{
		Local:      activity.NewLocal(),
		now:        func() time.Time { return time.Now().UTC() },
		accounts:   make(map[string]CreateUserAccountRequest),
		profiles:   make(map[string]profile),
		bindings:   make(map[string]string),
		tenants:    make(map[string]GetContextResponse),
		members:    make(map[string]MembershipRequest),
		workspaces: make(map[string]SetupWorkspaceRequest),
		files:      make(map[string]map[string]int),
		backups:    make(map[string]backup),
		copies:     make(map[string]CopyDataRequest),
		sessions:   make(map[string]string),
		archives:   make(map[string]CreateArchiveRequest),
		applied:    make(map[string][]string),
		replies:    make(map[string]any),
		calls:      make(map[string]int),
		faults:     make(map[string]*fault),
		down:       make(map[string]bool),
	}
	f.install()
	for _, svc := range Names() {
		svc := svc
		f.SetHealth(svc, func(context.Context) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.down[svc] {
				return &activity.RejectedError{Target: svc + ".health", Status: http.StatusServiceUnavailable}
			}
			return nil
		})
	}
	return f
}

// ──────────────────────────────────────────────────
// Seeding and fault injection
// ──────────────────────────────────────────────────

// AddTenant seeds a tenant.
func (f *Fake) AddTenant(tenantID, name, plan string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[tenantID] = GetContextResponse{TenantID: tenantID, Name: name, Plan: plan}
}

// AddUser seeds an account, a profile bound to tenantID and files in it.
func (f *Fake) AddUser(userID, tenantID string, files int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[userID] = CreateUserAccountRequest{TenantID: tenantID, Role: "member"}
	f.profiles[userID] = profile{ProfileID: "prof_" + userID, TenantID: tenantID}
	f.bindings[userID] = tenantID
	f.members[memberKey(userID, tenantID)] = MembershipRequest{UserID: userID, TenantID: tenantID, Role: "member"}
	if files > 0 {
		f.userFiles(userID)[tenantID] = files
	}
}

// Grant gives userID a role in tenantID.
func (f *Fake) Grant(userID, tenantID, role string, permissions ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[memberKey(userID, tenantID)] = MembershipRequest{
		UserID: userID, TenantID: tenantID, Role: role, Permissions: permissions,
	}
}

// Fail makes target ("service.operation") return err on every call.
func (f *Fake) Fail(target string, err error) { f.FailTimes(target, -1, err) }

// FailTimes makes the next n calls of target return err.
func (f *Fake) FailTimes(target string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[target] = &fault{remaining: n, err: err}
}

// SetDown marks a service unhealthy.
func (f *Fake) SetDown(service string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[service] = down
}

// ──────────────────────────────────────────────────
// Inspection
// ──────────────────────────────────────────────────

// Calls returns how many invocations of target reached the fake, including
// failed and replayed ones.
func (f *Fake) Calls(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[target]
}

// HasAccount reports whether userID has an account.
func (f *Fake) HasAccount(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.accounts[userID]
	return ok
}

// HasProfile reports whether userID has a profile.
func (f *Fake) HasProfile(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.profiles[userID]
	return ok
}

// HasTenant reports whether tenantID exists.
func (f *Fake) HasTenant(tenantID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tenants[tenantID]
	return ok
}

// Member returns the membership of userID in tenantID.
func (f *Fake) Member(userID, tenantID string) (MembershipRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberKey(userID, tenantID)]
	return m, ok
}

// Binding returns the tenant userID is bound to.
func (f *Fake) Binding(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bindings[userID]
}

// Files returns how many files userID holds in tenantID.
func (f *Fake) Files(userID, tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[userID][tenantID]
}

// Workspaces returns how many workspaces exist.
func (f *Fake) Workspaces() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.workspaces)
}

// Backups returns the ids of every retained backup, sorted.
func (f *Fake) Backups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.backups))
	for id := range f.backups {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Applied returns the bulk operations applied to userID.
func (f *Fake) Applied(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied[userID]...)
}

// Sent returns every notification sent.
func (f *Fake) Sent() []SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SendRequest(nil), f.sent...)
}

// ──────────────────────────────────────────────────
// Handlers
// ──────────────────────────────────────────────────

// serve installs fn for op. Handlers run under f.mu.
func serve[Req, Resp any](f *Fake, op activity.Operation[Req, Resp], fn func(inv *activity.Invocation, req Req) (Resp, error)) {
	op.Serve(f.Local, func(_ context.Context, inv *activity.Invocation, req Req) (Resp, error) {
		var zero Resp
		target := op.Target()

		f.mu.Lock()
		defer f.mu.Unlock()

		f.calls[target]++
		if ft := f.faults[target]; ft != nil && ft.remaining != 0 {
			if ft.remaining > 0 {
				ft.remaining--
			}
			return zero, ft.err
		}

		key := ""
		if inv.IdempotencyKey != "" {
			key = target + "|" + inv.IdempotencyKey
			if cached, ok := f.replies[key]; ok {
				return cached.(Resp), nil
			}
		}
		resp, err := fn(inv, req)
		if err != nil {
			return zero, err
		}
		if key != "" {
			f.replies[key] = resp
		}
		return resp, nil
	})
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%04d", prefix, f.seq)
}

func (f *Fake) userFiles(userID string) map[string]int {
	m := f.files[userID]
	if m == nil {
		m = make(map[string]int)
		f.files[userID] = m
	}
	return m
}

func memberKey(userID, tenantID string) string { return userID + "|" + tenantID }

func rejected(target string, status int, body string) error {
	return &activity.RejectedError{Target: target, Status: status, Body: body}
}

func required(target, field, value string) error {
	if value == "" {
		return rejected(target, http.StatusBadRequest, field+" is required")
	}
	return nil
}

func (f *Fake) install() {
	// auth
	serve(f, CreateUserAccount, func(_ *activity.Invocation, req CreateUserAccountRequest) (CreateUserAccountResponse, error) {
		if err := required(CreateUserAccount.Target(), "email", req.Email); err != nil {
			return CreateUserAccountResponse{}, err
		}
		for _, a := range f.accounts {
			if a.Email == req.Email {
				return CreateUserAccountResponse{}, rejected(CreateUserAccount.Target(), http.StatusConflict, "email already registered")
			}
		}
		userID := f.nextID("usr")
		f.accounts[userID] = req
		return CreateUserAccountResponse{UserID: userID, CreatedAt: f.now()}, nil
	})
	serve(f, DeleteUserAccount, func(_ *activity.Invocation, req DeleteUserAccountRequest) (DeleteUserAccountResponse, error) {
		_, ok := f.accounts[req.UserID]
		delete(f.accounts, req.UserID)
		delete(f.sessions, req.UserID)
		return DeleteUserAccountResponse{Deleted: ok}, nil
	})
	serve(f, RotateSession, func(inv *activity.Invocation, req RotateSessionRequest) (RotateSessionResponse, error) {
		if req.State == "forged" {
			return RotateSessionResponse{}, saga.NewSecurityError("anti-forgery state mismatch", nil)
		}
		if _, ok := f.accounts[req.UserID]; !ok {
			return RotateSessionResponse{}, rejected(RotateSession.Target(), http.StatusNotFound, "unknown user")
		}
		sid := f.nextID("sess")
		f.sessions[req.UserID] = sid
		return RotateSessionResponse{SessionID: sid, ExpiresAt: f.now().Add(12 * time.Hour)}, nil
	})

	// user
	serve(f, CreateProfile, func(_ *activity.Invocation, req CreateProfileRequest) (CreateProfileResponse, error) {
		if err := required(CreateProfile.Target(), "user_id", req.UserID); err != nil {
			return CreateProfileResponse{}, err
		}
		p := profile{ProfileID: f.nextID("prof"), TenantID: req.TenantID, Data: req.ProfileData}
		f.profiles[req.UserID] = p
		f.bindings[req.UserID] = req.TenantID
		return CreateProfileResponse{ProfileID: p.ProfileID}, nil
	})
	serve(f, DeleteProfile, func(_ *activity.Invocation, req DeleteProfileRequest) (DeleteProfileResponse, error) {
		if _, ok := f.profiles[req.UserID]; !ok {
			return DeleteProfileResponse{}, nil
		}
		delete(f.profiles, req.UserID)
		delete(f.bindings, req.UserID)
		return DeleteProfileResponse{RecordsDeleted: 1}, nil
	})
	serve(f, RestoreProfile, func(_ *activity.Invocation, req RestoreProfileRequest) (RestoreProfileResponse, error) {
		b, ok := f.backups[req.BackupID]
		if !ok || b.UserID != req.UserID {
			return RestoreProfileResponse{}, rejected(RestoreProfile.Target(), http.StatusNotFound, "unknown backup")
		}
		if b.Profile == nil {
			return RestoreProfileResponse{}, nil
		}
		f.profiles[req.UserID] = *b.Profile
		f.bindings[req.UserID] = b.Profile.TenantID
		return RestoreProfileResponse{ProfileID: b.Profile.ProfileID}, nil
	})
	serve(f, UpdateTenantBinding, func(_ *activity.Invocation, req UpdateTenantBindingRequest) (UpdateTenantBindingResponse, error) {
		if _, ok := f.tenants[req.TenantID]; !ok {
			return UpdateTenantBindingResponse{}, rejected(UpdateTenantBinding.Target(), http.StatusNotFound, "unknown tenant")
		}
		prev := f.bindings[req.UserID]
		f.bindings[req.UserID] = req.TenantID
		if p, ok := f.profiles[req.UserID]; ok {
			p.TenantID = req.TenantID
			f.profiles[req.UserID] = p
		}
		return UpdateTenantBindingResponse{PreviousTenantID: prev, TenantID: req.TenantID}, nil
	})
	serve(f, ExportData, func(_ *activity.Invocation, req ExportDataRequest) (ExportDataResponse, error) {
		p, ok := f.profiles[req.UserID]
		if !ok {
			return ExportDataResponse{}, rejected(ExportData.Target(), http.StatusNotFound, "unknown user")
		}
		data, err := json.Marshal(map[string]any{
			"account": f.accounts[req.UserID],
			"profile": p,
			"tenant":  f.bindings[req.UserID],
		})
		if err != nil {
			return ExportDataResponse{}, err
		}
		return ExportDataResponse{Records: 2, Data: data}, nil
	})
	serve(f, ApplyOperation, func(_ *activity.Invocation, req ApplyOperationRequest) (ApplyOperationResponse, error) {
		if _, ok := f.accounts[req.UserID]; !ok {
			return ApplyOperationResponse{}, rejected(ApplyOperation.Target(), http.StatusNotFound, "unknown user "+req.UserID)
		}
		f.applied[req.UserID] = append(f.applied[req.UserID], req.Operation)
		return ApplyOperationResponse{UserID: req.UserID, Status: "applied"}, nil
	})

	// tenant
	serve(f, CreateTenant, func(_ *activity.Invocation, req CreateTenantRequest) (CreateTenantResponse, error) {
		if err := required(CreateTenant.Target(), "name", req.Name); err != nil {
			return CreateTenantResponse{}, err
		}
		tenantID := f.nextID("tnt")
		f.tenants[tenantID] = GetContextResponse{TenantID: tenantID, Name: req.Name, Plan: req.Plan}
		return CreateTenantResponse{TenantID: tenantID}, nil
	})
	serve(f, DeleteTenant, func(_ *activity.Invocation, req DeleteTenantRequest) (DeleteTenantResponse, error) {
		_, ok := f.tenants[req.TenantID]
		delete(f.tenants, req.TenantID)
		return DeleteTenantResponse{Deleted: ok}, nil
	})
	serve(f, ValidateAccess, func(_ *activity.Invocation, req ValidateAccessRequest) (ValidateAccessResponse, error) {
		if _, ok := f.tenants[req.TenantID]; !ok {
			return ValidateAccessResponse{}, rejected(ValidateAccess.Target(), http.StatusNotFound, "unknown tenant")
		}
		m, ok := f.members[memberKey(req.UserID, req.TenantID)]
		if !ok {
			return ValidateAccessResponse{HasAccess: false}, nil
		}
		return ValidateAccessResponse{HasAccess: true, Role: m.Role, Permissions: m.Permissions}, nil
	})
	serve(f, GetContext, func(_ *activity.Invocation, req GetContextRequest) (GetContextResponse, error) {
		t, ok := f.tenants[req.TenantID]
		if !ok {
			return GetContextResponse{}, rejected(GetContext.Target(), http.StatusNotFound, "unknown tenant")
		}
		return t, nil
	})
	serve(f, AddMember, func(_ *activity.Invocation, req MembershipRequest) (MembershipResponse, error) {
		if _, ok := f.tenants[req.TenantID]; !ok {
			return MembershipResponse{}, rejected(AddMember.Target(), http.StatusNotFound, "unknown tenant")
		}
		f.members[memberKey(req.UserID, req.TenantID)] = req
		return MembershipResponse{MembershipID: f.nextID("mbr")}, nil
	})
	serve(f, RemoveMember, func(_ *activity.Invocation, req RemoveMemberRequest) (RemoveMemberResponse, error) {
		_, ok := f.members[memberKey(req.UserID, req.TenantID)]
		delete(f.members, memberKey(req.UserID, req.TenantID))
		return RemoveMemberResponse{Removed: ok}, nil
	})
	serve(f, UpdateMembership, func(_ *activity.Invocation, req MembershipRequest) (MembershipResponse, error) {
		if _, ok := f.members[memberKey(req.UserID, req.TenantID)]; !ok {
			return MembershipResponse{}, rejected(UpdateMembership.Target(), http.StatusNotFound, "no membership")
		}
		f.members[memberKey(req.UserID, req.TenantID)] = req
		return MembershipResponse{MembershipID: f.nextID("mbr")}, nil
	})

	// file
	serve(f, SetupWorkspace, func(_ *activity.Invocation, req SetupWorkspaceRequest) (SetupWorkspaceResponse, error) {
		wsID := f.nextID("ws")
		f.workspaces[wsID] = req
		return SetupWorkspaceResponse{WorkspaceID: wsID}, nil
	})
	serve(f, DeleteWorkspace, func(_ *activity.Invocation, req DeleteWorkspaceRequest) (DeleteWorkspaceResponse, error) {
		_, ok := f.workspaces[req.WorkspaceID]
		delete(f.workspaces, req.WorkspaceID)
		return DeleteWorkspaceResponse{Deleted: ok}, nil
	})
	serve(f, CreateBackup, func(_ *activity.Invocation, req BackupRequest) (BackupResponse, error) {
		b := backup{UserID: req.UserID, Files: make(map[string]int)}
		records := 0
		if p, ok := f.profiles[req.UserID]; ok {
			p := p
			b.Profile = &p
			records++
		}
		for tenant, n := range f.files[req.UserID] {
			b.Files[tenant] = n
			records += n
		}
		backupID := f.nextID("bkp")
		f.backups[backupID] = b
		return BackupResponse{BackupID: backupID, Records: records}, nil
	})
	serve(f, DeleteUserFiles, func(_ *activity.Invocation, req DeleteUserFilesRequest) (DeleteUserFilesResponse, error) {
		n := 0
		for _, c := range f.files[req.UserID] {
			n += c
		}
		delete(f.files, req.UserID)
		return DeleteUserFilesResponse{FilesDeleted: n}, nil
	})
	serve(f, RestoreFiles, func(_ *activity.Invocation, req RestoreFilesRequest) (RestoreFilesResponse, error) {
		b, ok := f.backups[req.BackupID]
		if !ok || b.UserID != req.UserID {
			return RestoreFilesResponse{}, rejected(RestoreFiles.Target(), http.StatusNotFound, "unknown backup")
		}
		n := 0
		for tenant, c := range b.Files {
			f.userFiles(req.UserID)[tenant] = c
			n += c
		}
		return RestoreFilesResponse{FilesRestored: n}, nil
	})
	serve(f, ExportFiles, func(_ *activity.Invocation, req ExportFilesRequest) (ExportFilesResponse, error) {
		var resp ExportFilesResponse
		tenants := make([]string, 0, len(f.files[req.UserID]))
		for tenant := range f.files[req.UserID] {
			tenants = append(tenants, tenant)
		}
		sort.Strings(tenants)
		for _, tenant := range tenants {
			for i := 0; i < f.files[req.UserID][tenant]; i++ {
				resp.Paths = append(resp.Paths, fmt.Sprintf("%s/%s/file-%03d", tenant, req.UserID, i))
			}
		}
		resp.Files = len(resp.Paths)
		return resp, nil
	})
	serve(f, CreateArchive, func(_ *activity.Invocation, req CreateArchiveRequest) (CreateArchiveResponse, error) {
		archiveID := f.nextID("arc")
		f.archives[archiveID] = req
		return CreateArchiveResponse{
			ArchiveID:   archiveID,
			DownloadURL: "https://files.local/exports/" + archiveID + ".zip",
			ExpiresAt:   f.now().Add(7 * 24 * time.Hour),
		}, nil
	})
	serve(f, CopyData, func(_ *activity.Invocation, req CopyDataRequest) (CopyDataResponse, error) {
		if _, ok := f.tenants[req.TargetTenantID]; !ok {
			return CopyDataResponse{}, rejected(CopyData.Target(), http.StatusNotFound, "unknown target tenant")
		}
		n := f.files[req.UserID][req.SourceTenantID]
		f.userFiles(req.UserID)[req.TargetTenantID] += n
		copyID := f.nextID("cpy")
		f.copies[copyID] = req
		records := 0
		if _, ok := f.profiles[req.UserID]; ok {
			records = 1
		}
		return CopyDataResponse{CopyID: copyID, FilesCopied: n, RecordsCopied: records}, nil
	})
	serve(f, DeleteCopy, func(_ *activity.Invocation, req DeleteCopyRequest) (DeleteCopyResponse, error) {
		c, ok := f.copies[req.CopyID]
		if !ok {
			return DeleteCopyResponse{}, nil
		}
		delete(f.copies, req.CopyID)
		delete(f.userFiles(c.UserID), c.TargetTenantID)
		return DeleteCopyResponse{Deleted: true}, nil
	})
	serve(f, PurgeTenantData, func(_ *activity.Invocation, req PurgeTenantDataRequest) (PurgeTenantDataResponse, error) {
		n := f.files[req.UserID][req.TenantID]
		delete(f.userFiles(req.UserID), req.TenantID)
		return PurgeTenantDataResponse{FilesDeleted: n}, nil
	})

	// notification
	serve(f, Send, func(_ *activity.Invocation, req SendRequest) (SendResponse, error) {
		f.sent = append(f.sent, req)
		return SendResponse{NotificationID: f.nextID("ntf")}, nil
	})
}
