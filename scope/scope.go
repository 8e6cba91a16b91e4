// Package scope carries the immutable per-call tenant and user context
// (tenant id, user id, session id, correlation id) across every function
// boundary of an execution.
//
// Scope values are plain structs copied by value. They are attached to a
// context.Context only so that middleware deep in the call chain can read
// them; every public operation also accepts the Scope explicitly.
package scope

import (
	"context"
	"net/http"
)

// HTTP header names used to propagate a Scope to downstream services and to
// read it from inbound API requests.
const (
	HeaderTenantID      = "X-Tenant-ID"
	HeaderUserID        = "X-User-ID"
	HeaderSessionID     = "X-Session-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// Scope identifies who an execution acts for.
type Scope struct {
	TenantID      string `json:"tenant_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// IsZero reports whether no field is set.
func (s Scope) IsZero() bool { return s == Scope{} }

// WithTenant returns a copy of s bound to tenantID.
func (s Scope) WithTenant(tenantID string) Scope {
	s.TenantID = tenantID
	return s
}

// WithSession returns a copy of s bound to sessionID.
func (s Scope) WithSession(sessionID string) Scope {
	s.SessionID = sessionID
	return s
}

type ctxKey struct{}

// With attaches s to ctx. A zero Scope leaves ctx unchanged.
func With(ctx context.Context, s Scope) context.Context {
	if s.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, s)
}

// From extracts the Scope from ctx.
func From(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}

// Capture returns the Scope attached to ctx, or the zero Scope.
func Capture(ctx context.Context) Scope {
	s, _ := From(ctx)
	return s
}

// Inject writes the non-empty Scope fields as request headers.
func Inject(h http.Header, s Scope) {
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}
	set(HeaderTenantID, s.TenantID)
	set(HeaderUserID, s.UserID)
	set(HeaderSessionID, s.SessionID)
	set(HeaderCorrelationID, s.CorrelationID)
}

// Extract reads a Scope from request headers.
func Extract(h http.Header) Scope {
	return Scope{
		TenantID:      h.Get(HeaderTenantID),
		UserID:        h.Get(HeaderUserID),
		SessionID:     h.Get(HeaderSessionID),
		CorrelationID: h.Get(HeaderCorrelationID),
	}
}
