package activity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xraph/saga"
	"github.com/xraph/saga/scope"
)

// Header names sent with every invocation in addition to the scope headers.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderAttempt        = "X-Attempt"
)

// maxErrorBody caps how much of a rejected response is kept.
const maxErrorBody = 4 << 10

// HTTPClient invokes operations as JSON POSTs to per-service base URLs.
type HTTPClient struct {
	endpoints map[string]string
	http      *http.Client
	logger    *slog.Logger
}

var (
	_ Client        = (*HTTPClient)(nil)
	_ HealthChecker = (*HTTPClient)(nil)
)

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.http = c }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTPClient) { h.logger = l }
}

// NewHTTPClient returns a client that routes service names to base URLs.
// The default transport propagates trace context with otelhttp.
func NewHTTPClient(endpoints map[string]string, opts ...HTTPOption) *HTTPClient {
	eps := make(map[string]string, len(endpoints))
	for svc, base := range endpoints {
		eps[svc] = strings.TrimRight(base, "/")
	}
	h := &HTTPClient{
		endpoints: eps,
		http:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Services returns the configured service names.
func (h *HTTPClient) Services() []string {
	out := make([]string, 0, len(h.endpoints))
	for svc := range h.endpoints {
		out = append(out, svc)
	}
	return out
}

func (h *HTTPClient) base(service string) (string, error) {
	b, ok := h.endpoints[service]
	if !ok {
		return "", fmt.Errorf("%w: no endpoint for service %q", saga.ErrUnknownOperation, service)
	}
	return b, nil
}

// Invoke posts inv.Request to {base}/{operation}.
func (h *HTTPClient) Invoke(ctx context.Context, inv *Invocation) ([]byte, error) {
	base, err := h.base(inv.Service)
	if err != nil {
		return nil, err
	}
	target := inv.Target()

	body := inv.Request
	if len(body) == 0 {
		body = []byte("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/"+inv.Operation, bytes.NewReader(body))
	if err != nil {
		return nil, &CommunicationError{Target: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	sc := inv.Scope
	if sc.CorrelationID == "" {
		sc.CorrelationID = inv.CorrelationID
	}
	scope.Inject(req.Header, sc)
	if inv.IdempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, inv.IdempotencyKey)
	}
	req.Header.Set(HeaderAttempt, strconv.Itoa(max(inv.Attempt, 1)))

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, &CommunicationError{Target: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RejectedError{Target: target, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CommunicationError{Target: target, Err: err}
	}
	return raw, nil
}

// Health issues a no-body GET to {base}/health.
func (h *HTTPClient) Health(ctx context.Context, service string) error {
	base, err := h.base(service)
	if err != nil {
		return err
	}
	target := service + ".health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", http.NoBody)
	if err != nil {
		return &CommunicationError{Target: target, Err: err}
	}
	resp, err := h.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &CommunicationError{Target: target, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RejectedError{Target: target, Status: resp.StatusCode}
	}
	return nil
}
