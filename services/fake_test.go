package services_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/services"
)

func TestContracts_CoverEveryService(t *testing.T) {
	reg := services.Contracts()
	want := []string{"auth", "file", "notification", "tenant", "user"}
	if got := reg.Services(); !slices.Equal(got, want) {
		t.Errorf("Services() = %v, want %v", got, want)
	}
	for _, target := range [][2]string{{"tenant", "validate_access"}, {"file", "create_backup"}} {
		if !reg.Has(target[0], target[1]) {
			t.Errorf("missing contract %s.%s", target[0], target[1])
		}
	}

	c, err := reg.Lookup("auth", "create_user_account")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.Request != "services.CreateUserAccountRequest" || c.Response != "services.CreateUserAccountResponse" {
		t.Errorf("contract = %s -> %s", c.Request, c.Response)
	}
}

func TestFake_IdempotentReplay(t *testing.T) {
	f := services.NewFake()
	ctx := context.Background()
	base := activity.Invocation{IdempotencyKey: "exec_1:0:0"}
	req := services.CreateUserAccountRequest{Email: "a@example.com"}

	first, err := services.CreateUserAccount.Call(ctx, f, req, base)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := services.CreateUserAccount.Call(ctx, f, req, base)
	if err != nil {
		t.Fatalf("replayed call: %v", err)
	}
	if first.UserID != second.UserID {
		t.Errorf("replay user = %q, want %q", second.UserID, first.UserID)
	}
	if got := f.Calls("auth.create_user_account"); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}

	// A different key is a different logical call.
	_, err = services.CreateUserAccount.Call(ctx, f, req, activity.Invocation{IdempotencyKey: "exec_2:0:0"})
	var rej *activity.RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want RejectedError", err)
	}
	if rej.Status != 409 {
		t.Errorf("status = %d, want 409", rej.Status)
	}
}

func TestFake_FailTimes(t *testing.T) {
	f := services.NewFake()
	f.AddTenant("t-1", "Acme", "pro")
	boom := &activity.CommunicationError{Target: "tenant.get_context", Err: errors.New("connection reset")}
	f.FailTimes("tenant.get_context", 1, boom)

	ctx := context.Background()
	req := services.GetContextRequest{TenantID: "t-1"}
	if _, err := services.GetContext.Call(ctx, f, req, activity.Invocation{}); !errors.Is(err, boom) {
		t.Fatalf("first call = %v, want injected failure", err)
	}
	got, err := services.GetContext.Call(ctx, f, req, activity.Invocation{})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got.Name != "Acme" {
		t.Errorf("name = %q, want Acme", got.Name)
	}
}

func TestFake_ValidateAccess(t *testing.T) {
	f := services.NewFake()
	f.AddTenant("t-1", "Acme", "pro")
	f.AddTenant("t-2", "Globex", "free")
	f.AddUser("u-1", "t-1", 3)
	f.Grant("u-1", "t-2", "admin", "users.manage")

	ctx := context.Background()
	got, err := services.ValidateAccess.Call(ctx, f, services.ValidateAccessRequest{UserID: "u-1", TenantID: "t-2"}, activity.Invocation{})
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if !got.HasAccess || got.Role != "admin" {
		t.Errorf("access = %+v, want admin access", got)
	}
	if !slices.Equal(got.Permissions, []string{"users.manage"}) {
		t.Errorf("permissions = %v", got.Permissions)
	}

	got, err = services.ValidateAccess.Call(ctx, f, services.ValidateAccessRequest{UserID: "u-2", TenantID: "t-2"}, activity.Invocation{})
	if err != nil {
		t.Fatalf("ValidateAccess(u-2): %v", err)
	}
	if got.HasAccess {
		t.Error("unknown user granted access")
	}
}

func TestFake_ForgedStateIsSecurityViolation(t *testing.T) {
	f := services.NewFake()
	f.AddTenant("t-1", "Acme", "pro")
	f.AddUser("u-1", "t-1", 0)

	_, err := services.RotateSession.Call(context.Background(), f,
		services.RotateSessionRequest{UserID: "u-1", TenantID: "t-1", State: "forged"}, activity.Invocation{})
	if !errors.Is(err, saga.ErrSecurityViolation) {
		t.Fatalf("err = %v, want ErrSecurityViolation", err)
	}
	if got := saga.KindOf(err); got != saga.KindSecurity {
		t.Errorf("kind = %q, want %q", got, saga.KindSecurity)
	}
}

func TestFake_BackupAndRestore(t *testing.T) {
	f := services.NewFake()
	f.AddTenant("t-1", "Acme", "pro")
	f.AddUser("u-1", "t-1", 4)
	ctx := context.Background()
	none := activity.Invocation{}

	b, err := services.CreateBackup.Call(ctx, f, services.BackupRequest{UserID: "u-1", Reason: "gdpr"}, none)
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if b.Records != 5 {
		t.Errorf("backup records = %d, want 5", b.Records)
	}

	if _, err := services.DeleteProfile.Call(ctx, f, services.DeleteProfileRequest{UserID: "u-1"}, none); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if _, err := services.DeleteUserFiles.Call(ctx, f, services.DeleteUserFilesRequest{UserID: "u-1"}, none); err != nil {
		t.Fatalf("DeleteUserFiles: %v", err)
	}
	if f.HasProfile("u-1") || f.Files("u-1", "t-1") != 0 {
		t.Fatal("profile or files survived deletion")
	}

	if _, err := services.RestoreProfile.Call(ctx, f, services.RestoreProfileRequest{UserID: "u-1", BackupID: b.BackupID}, none); err != nil {
		t.Fatalf("RestoreProfile: %v", err)
	}
	restored, err := services.RestoreFiles.Call(ctx, f, services.RestoreFilesRequest{UserID: "u-1", BackupID: b.BackupID}, none)
	if err != nil {
		t.Fatalf("RestoreFiles: %v", err)
	}
	if !f.HasProfile("u-1") {
		t.Error("profile not restored")
	}
	if restored.FilesRestored != 4 {
		t.Errorf("files restored = %d, want 4", restored.FilesRestored)
	}
	if got := f.Binding("u-1"); got != "t-1" {
		t.Errorf("binding = %q, want t-1", got)
	}
}

func TestFake_Health(t *testing.T) {
	f := services.NewFake()
	ctx := context.Background()

	if err := f.Health(ctx, "user"); err != nil {
		t.Fatalf("Health: %v", err)
	}
	f.SetDown("user", true)
	if err := f.Health(ctx, "user"); err == nil {
		t.Error("Health of a down service = nil")
	}

	if got := activity.CheckAll(ctx, f, services.Names(), time.Second); len(got) != 5 {
		t.Fatalf("CheckAll returned %d results, want 5", len(got))
	}
}
