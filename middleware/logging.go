package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/saga/activity"
)

// Logging returns middleware that logs every invocation and its outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) ([]byte, error) {
		logger.Debug("activity invoked",
			slog.String("target", inv.Target()),
			slog.String("execution_id", inv.ExecutionID),
			slog.Int("attempt", inv.Attempt),
		)

		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("activity failed",
				slog.String("target", inv.Target()),
				slog.String("execution_id", inv.ExecutionID),
				slog.String("tenant_id", inv.Scope.TenantID),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("activity completed",
				slog.String("target", inv.Target()),
				slog.String("execution_id", inv.ExecutionID),
				slog.Duration("elapsed", elapsed),
			)
		}
		return out, err
	}
}
