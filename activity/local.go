package activity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/saga"
)

// LocalHandler serves one operation in process.
type LocalHandler func(ctx context.Context, inv *Invocation) ([]byte, error)

// Local routes invocations to in-process handlers. It backs tests and the
// single-binary development server.
type Local struct {
	mu       sync.RWMutex
	handlers map[string]LocalHandler
	health   map[string]func(context.Context) error
}

var (
	_ Client        = (*Local)(nil)
	_ HealthChecker = (*Local)(nil)
)

// NewLocal creates an empty in-process transport.
func NewLocal() *Local {
	return &Local{
		handlers: make(map[string]LocalHandler),
		health:   make(map[string]func(context.Context) error),
	}
}

// Handle registers h for service.operation, replacing any previous handler.
func (l *Local) Handle(service, operation string, h LocalHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[service+"."+operation] = h
	if _, ok := l.health[service]; !ok {
		l.health[service] = nil
	}
}

// SetHealth overrides the health probe of service.
func (l *Local) SetHealth(service string, probe func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.health[service] = probe
}

// Services returns the sorted names of services with at least one handler
// or health probe.
func (l *Local) Services() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.health))
	for svc := range l.health {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

// Invoke dispatches to the registered handler.
func (l *Local) Invoke(ctx context.Context, inv *Invocation) ([]byte, error) {
	l.mu.RLock()
	h, ok := l.handlers[inv.Target()]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", saga.ErrUnknownOperation, inv.Target())
	}
	if err := ctx.Err(); err != nil {
		return nil, &CommunicationError{Target: inv.Target(), Err: err}
	}
	return h(ctx, inv)
}

// Health runs the service's probe. Services without a probe are healthy.
func (l *Local) Health(ctx context.Context, service string) error {
	l.mu.RLock()
	probe, ok := l.health[service]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no service %q", saga.ErrUnknownOperation, service)
	}
	if probe == nil {
		return ctx.Err()
	}
	return probe(ctx)
}
