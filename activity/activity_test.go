package activity_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/scope"
)

type createReq struct {
	Email string `json:"email"`
}

type createResp struct {
	UserID string `json:"user_id"`
}

func TestHTTPClient_InvokeSendsHeadersAndBody(t *testing.T) {
	var gotPath string
	var gotHeader http.Header
	var gotBody createReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{"user_id":"u-1"}`)
	}))
	defer srv.Close()

	c := activity.NewHTTPClient(map[string]string{"auth": srv.URL + "/"})
	reg := activity.NewRegistry()
	op := activity.Register[createReq, createResp](reg, "auth", "create_user_account")

	resp, err := op.Call(context.Background(), c, createReq{Email: "a@b.c"}, activity.Invocation{
		Scope:          scope.Scope{TenantID: "t1", UserID: "u0", SessionID: "s1"},
		CorrelationID:  "corr-1",
		IdempotencyKey: "exec_1:0:0",
		Attempt:        2,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.UserID != "u-1" {
		t.Errorf("UserID = %q, want u-1", resp.UserID)
	}
	if gotPath != "/create_user_account" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.Email != "a@b.c" {
		t.Errorf("body email = %q", gotBody.Email)
	}

	wantHeaders := map[string]string{
		scope.HeaderTenantID:          "t1",
		scope.HeaderUserID:            "u0",
		scope.HeaderSessionID:         "s1",
		scope.HeaderCorrelationID:     "corr-1",
		activity.HeaderIdempotencyKey: "exec_1:0:0",
		activity.HeaderAttempt:        "2",
	}
	for k, want := range wantHeaders {
		if got := gotHeader.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}
}

func TestHTTPClient_ErrorKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/denied":
			http.Error(w, "permission denied", http.StatusForbidden)
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/garbage":
			_, _ = io.WriteString(w, "not json")
		}
	}))
	defer srv.Close()

	c := activity.NewHTTPClient(map[string]string{"svc": srv.URL})
	reg := activity.NewRegistry()
	ctx := context.Background()

	_, err := activity.Register[struct{}, createResp](reg, "svc", "denied").Call(ctx, c, struct{}{}, activity.Invocation{})
	var rej *activity.RejectedError
	if !errors.As(err, &rej) || rej.Status != http.StatusForbidden || rej.Retryable() {
		t.Errorf("denied: err = %v, want terminal RejectedError 403", err)
	}
	if !strings.Contains(rej.Body, "permission denied") {
		t.Errorf("body = %q", rej.Body)
	}

	_, err = activity.Register[struct{}, createResp](reg, "svc", "busy").Call(ctx, c, struct{}{}, activity.Invocation{})
	if !errors.As(err, &rej) || !rej.Retryable() {
		t.Errorf("busy: err = %v, want retryable RejectedError", err)
	}

	_, err = activity.Register[struct{}, createResp](reg, "svc", "garbage").Call(ctx, c, struct{}{}, activity.Invocation{})
	var dec *activity.DecodeError
	if !errors.As(err, &dec) || saga.KindOf(err) != saga.KindDecode {
		t.Errorf("garbage: err = %v, want DecodeError", err)
	}
}

func TestHTTPClient_CommunicationError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := activity.NewHTTPClient(map[string]string{"svc": url})
	_, err := c.Invoke(context.Background(), &activity.Invocation{Service: "svc", Operation: "x"})
	var ce *activity.CommunicationError
	if !errors.As(err, &ce) || !ce.Retryable() {
		t.Fatalf("err = %v, want retryable CommunicationError", err)
	}
	if saga.KindOf(err) != saga.KindCommunication {
		t.Errorf("KindOf = %q", saga.KindOf(err))
	}
}

func TestHTTPClient_UnknownService(t *testing.T) {
	c := activity.NewHTTPClient(nil)
	_, err := c.Invoke(context.Background(), &activity.Invocation{Service: "nope", Operation: "x"})
	if !errors.Is(err, saga.ErrUnknownOperation) {
		t.Errorf("err = %v, want ErrUnknownOperation", err)
	}
}

func TestLocal_TypedServe(t *testing.T) {
	l := activity.NewLocal()
	reg := activity.NewRegistry()
	op := activity.Register[createReq, createResp](reg, "auth", "create_user_account")

	var calls atomic.Int32
	op.Serve(l, func(_ context.Context, inv *activity.Invocation, req createReq) (createResp, error) {
		calls.Add(1)
		if inv.Scope.TenantID != "t1" {
			t.Errorf("tenant = %q", inv.Scope.TenantID)
		}
		return createResp{UserID: "u-" + req.Email}, nil
	})

	resp, err := op.Call(context.Background(), l, createReq{Email: "x"}, activity.Invocation{Scope: scope.Scope{TenantID: "t1"}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.UserID != "u-x" || calls.Load() != 1 {
		t.Errorf("resp = %+v, calls = %d", resp, calls.Load())
	}

	_, err = l.Invoke(context.Background(), &activity.Invocation{Service: "auth", Operation: "missing"})
	if !errors.Is(err, saga.ErrUnknownOperation) {
		t.Errorf("missing op err = %v", err)
	}
}

func TestRegistry_Contracts(t *testing.T) {
	reg := activity.NewRegistry()
	activity.Register[createReq, createResp](reg, "user", "create_profile")
	activity.Register[createReq, createResp](reg, "auth", "create_user_account")

	cs := reg.Contracts()
	if len(cs) != 2 || cs[0].Service != "auth" || cs[1].Service != "user" {
		t.Fatalf("Contracts() = %+v", cs)
	}
	if !reg.Has("auth", "create_user_account") || reg.Has("auth", "nope") {
		t.Error("Has() mismatch")
	}
	if _, err := reg.Lookup("x", "y"); !errors.Is(err, saga.ErrUnknownOperation) {
		t.Errorf("Lookup err = %v", err)
	}
	if got := reg.Services(); len(got) != 2 {
		t.Errorf("Services() = %v", got)
	}
}

func TestCheckAll(t *testing.T) {
	l := activity.NewLocal()
	l.SetHealth("auth", nil)
	l.SetHealth("file", func(context.Context) error { return errors.New("disk full") })
	l.SetHealth("user", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	res := activity.CheckAll(context.Background(), l, []string{"user", "file", "auth"}, 20*time.Millisecond)
	if len(res) != 3 {
		t.Fatalf("len = %d", len(res))
	}
	if res[0].Service != "auth" || !res[0].Healthy {
		t.Errorf("auth = %+v", res[0])
	}
	if res[1].Service != "file" || res[1].Healthy || res[1].Error != "disk full" {
		t.Errorf("file = %+v", res[1])
	}
	if res[2].Service != "user" || res[2].Healthy {
		t.Errorf("user = %+v", res[2])
	}
	if activity.AllHealthy(res) {
		t.Error("AllHealthy = true")
	}
}

func TestHTTPClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := activity.NewHTTPClient(map[string]string{"tenant": srv.URL})
	if err := c.Health(context.Background(), "tenant"); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestIdempotencyKey(t *testing.T) {
	a := activity.IdempotencyKey("exec_1", 3, 0)
	if a != activity.IdempotencyKey("exec_1", 3, 0) {
		t.Error("key not deterministic")
	}
	if a == activity.IdempotencyKey("exec_1", 3, 1) || a == activity.IdempotencyKey("exec_1", 4, 0) {
		t.Error("key collision across index or generation")
	}
}
