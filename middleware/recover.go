package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
)

// Recover returns middleware that turns a panic below it into a
// saga.InternalError and logs the stack.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) (out []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("activity handler panicked",
					slog.String("target", inv.Target()),
					slog.String("execution_id", inv.ExecutionID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				out = nil
				retErr = saga.NewInternalError(inv.Target(), fmt.Errorf("panic: %v", r))
			}
		}()
		return next(ctx)
	}
}
