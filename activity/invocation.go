package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/saga/scope"
)

// Invocation is one call to a collaborating service.
type Invocation struct {
	Service   string          `json:"service"`
	Operation string          `json:"operation"`
	Request   json.RawMessage `json:"request,omitempty"`

	Scope         scope.Scope   `json:"scope"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`

	// IdempotencyKey is stable across retries and crash-resume of the same
	// step, so the downstream service applies the side effect at most once.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Attempt is the 1-indexed retry attempt of this invocation.
	Attempt int `json:"attempt"`

	// ExecutionID and Step identify the driving step for logs and traces.
	ExecutionID string `json:"execution_id,omitempty"`
	Step        string `json:"step,omitempty"`
}

// Target returns "service.operation".
func (inv *Invocation) Target() string { return inv.Service + "." + inv.Operation }

// Client performs one outbound call per Invoke and returns the raw response
// body.
type Client interface {
	Invoke(ctx context.Context, inv *Invocation) ([]byte, error)
}

// HealthChecker is implemented by clients that can probe a service.
type HealthChecker interface {
	Health(ctx context.Context, service string) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, inv *Invocation) ([]byte, error)

// Invoke calls f.
func (f ClientFunc) Invoke(ctx context.Context, inv *Invocation) ([]byte, error) { return f(ctx, inv) }

// IdempotencyKey derives the key for the step at index of execution
// executionID. generation changes only when an operator re-runs a terminal
// execution, which is the one case where a repeated side effect is wanted.
func IdempotencyKey(executionID string, index, generation int) string {
	return fmt.Sprintf("%s:%d:%d", executionID, index, generation)
}
