// Package api exposes the saga orchestrator over HTTP.
//
// Routes live under /v1. Tenant and user context is read from the
// X-Tenant-ID, X-User-ID, X-Session-ID and X-Correlation-ID headers; a
// request carrying a tenant only ever sees that tenant's executions.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/xraph/saga"
	"github.com/xraph/saga/engine"
	"github.com/xraph/saga/scope"
)

// ServiceName is the span service name reported by the HTTP middleware.
const ServiceName = "sagad"

// API wires the HTTP handlers to an Engine.
type API struct {
	eng            *engine.Engine
	logger         *slog.Logger
	allowedOrigins []string
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithAllowedOrigins restricts websocket upgrades to origins with one of
// the given prefixes. Requests without an Origin header are always
// accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.allowedOrigins = origins }
}

// New creates an API for eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: eng.Orchestrator().Logger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns an echo instance with every route registered.
func (a *API) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = a.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	e.Use(otelecho.Middleware(ServiceName))
	e.Use(a.requestLogger())

	a.RegisterRoutes(e.Group("/v1"))
	return e
}

// RegisterRoutes registers the saga routes on g.
func (a *API) RegisterRoutes(g *echo.Group) {
	g.Use(scopeMiddleware)

	g.GET("/workflows", a.listTypes)
	g.GET("/workflows/analytics", a.analytics)
	g.GET("/executions", a.listExecutions)

	g.POST("/workflows/:type", a.submit)
	g.GET("/workflows/:id", a.status)
	g.GET("/workflows/:id/debug", a.debug)
	g.POST("/workflows/:id/cancel", a.cancel)
	g.POST("/workflows/:id/retry", a.retry)
	g.GET("/workflows/:id/stream", a.stream)

	g.GET("/health/issues", a.healthIssues)
	g.GET("/health/services", a.healthServices)
	g.GET("/health/workers", a.healthWorkers)
}

// ──────────────────────────────────────────────────
// Middleware
// ──────────────────────────────────────────────────

const scopeKey = "saga.scope"

// scopeMiddleware reads the request Scope from headers and attaches it to
// both the echo context and the request context.
func scopeMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sc := scope.Extract(c.Request().Header)
		c.Set(scopeKey, sc)
		c.SetRequest(c.Request().WithContext(scope.With(c.Request().Context(), sc)))
		return next(c)
	}
}

func requestScope(c echo.Context) scope.Scope {
	sc, _ := c.Get(scopeKey).(scope.Scope)
	return sc
}

func (a *API) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			a.logger.Debug("http request", attrs...)
			return nil
		},
	})
}

// ──────────────────────────────────────────────────
// Errors
// ──────────────────────────────────────────────────

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string         `json:"error"`
	Kind  saga.ErrorKind `json:"kind,omitempty"`
}

// httpStatus maps a saga error to a response status.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, saga.ErrExecutionNotFound),
		errors.Is(err, saga.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, saga.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, saga.ErrSecurityViolation):
		return http.StatusForbidden
	case errors.Is(err, saga.ErrInvalidState),
		errors.Is(err, saga.ErrExecutionExists):
		return http.StatusConflict
	case errors.Is(err, saga.ErrLeaseConflict):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := ErrorResponse{Error: err.Error()}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = strings.ToLower(http.StatusText(status))
		}
	} else {
		status = httpStatus(err)
		body.Kind = saga.KindOf(err)
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
		// Internal details stay in the log.
		if body.Kind == saga.KindInternal || body.Kind == saga.KindUnknown {
			body.Error = "internal error"
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		a.logger.Warn("write error response", slog.String("error", err.Error()))
	}
}
