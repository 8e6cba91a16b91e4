package middleware

import (
	"context"

	"github.com/xraph/saga/activity"
)

// Timeout returns middleware that bounds the call by inv.Timeout when set.
func Timeout() Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) ([]byte, error) {
		if inv.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
