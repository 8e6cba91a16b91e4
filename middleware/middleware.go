package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/saga/activity"
)

// Handler is the next step of the chain.
type Handler func(ctx context.Context) ([]byte, error)

// Middleware wraps an invocation with cross-cutting logic. It must call
// next to continue the chain unless short-circuiting on error.
type Middleware func(ctx context.Context, inv *activity.Invocation, next Handler) ([]byte, error)

// Chain composes multiple middleware into one. Chain(a, b) runs as
// a → b → handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) ([]byte, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) ([]byte, error) {
				return mw(ctx, inv, prev)
			}
		}
		return h(ctx)
	}
}

type wrapped struct {
	activity.Client
	chain Middleware
}

// Wrap returns a client that runs every Invoke through mws. Health probes
// pass through unchanged when the inner client supports them.
func Wrap(c activity.Client, mws ...Middleware) activity.Client {
	if len(mws) == 0 {
		return c
	}
	w := &wrapped{Client: c, chain: Chain(mws...)}
	if hc, ok := c.(activity.HealthChecker); ok {
		return &wrappedHealth{wrapped: w, hc: hc}
	}
	return w
}

func (w *wrapped) Invoke(ctx context.Context, inv *activity.Invocation) ([]byte, error) {
	return w.chain(ctx, inv, func(ctx context.Context) ([]byte, error) {
		return w.Client.Invoke(ctx, inv)
	})
}

type wrappedHealth struct {
	*wrapped
	hc activity.HealthChecker
}

func (w *wrappedHealth) Health(ctx context.Context, service string) error {
	return w.hc.Health(ctx, service)
}

// Default returns the chain the engine installs around its activity client:
// recover, scope, tracing, metrics, logging, then the per-attempt timeout.
func Default(logger *slog.Logger) []Middleware {
	return []Middleware{
		Recover(logger),
		Scope(),
		Tracing(),
		Metrics(),
		Logging(logger),
		Timeout(),
	}
}
