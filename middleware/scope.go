package middleware

import (
	"context"

	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/scope"
)

// Scope returns middleware that attaches the invocation's scope to the
// context so handlers and transports below see the caller's tenant.
func Scope() Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) ([]byte, error) {
		s := inv.Scope
		if s.CorrelationID == "" {
			s.CorrelationID = inv.CorrelationID
		}
		return next(scope.With(ctx, s))
	}
}
