package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xraph/saga"
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/workflow"
)

const maxInputBytes = 1 << 20

func (a *API) listTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, ListTypesResponse{Workflows: a.eng.Registry().Types()})
}

func (a *API) submit(c echo.Context) error {
	typ := c.Param("type")
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxInputBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	if len(body) > maxInputBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "input too large")
	}

	e, err := a.eng.Submit(c.Request().Context(), typ, body, requestScope(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, SubmitResponse{
		ExecutionID: e.ID,
		Status:      "accepted",
	})
}

func (a *API) status(c echo.Context) error {
	e, err := a.execution(c)
	if err != nil {
		return err
	}
	rep, err := a.eng.Monitor().Status(c.Request().Context(), e.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (a *API) debug(c echo.Context) error {
	e, err := a.execution(c)
	if err != nil {
		return err
	}
	rep, err := a.eng.Monitor().Debug(c.Request().Context(), e.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (a *API) cancel(c echo.Context) error {
	e, err := a.execution(c)
	if err != nil {
		return err
	}
	if err := a.eng.Runner().Cancel(c.Request().Context(), e.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, ActionResponse{
		ExecutionID: e.ID,
		Status:      e.Status,
		Message:     "cancel requested",
	})
}

func (a *API) retry(c echo.Context) error {
	e, err := a.execution(c)
	if err != nil {
		return err
	}
	e, err = a.eng.Runner().Retry(c.Request().Context(), e.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, ActionResponse{
		ExecutionID: e.ID,
		Status:      e.Status,
		Message:     "retry scheduled",
	})
}

func (a *API) analytics(c echo.Context) error {
	var req AnalyticsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	window, err := parseTimeRange(req.TimeRange)
	if err != nil {
		return saga.NewValidationError("time_range", err.Error())
	}

	now := time.Now().UTC()
	rep, err := a.eng.Monitor().Analytics(c.Request().Context(), monitor.Query{
		From:     now.Add(-window),
		To:       now,
		Type:     req.Type,
		TenantID: requestScope(c).TenantID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (a *API) listExecutions(c echo.Context) error {
	var req ListExecutionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	opts := workflow.ListOpts{
		Type:     req.Type,
		TenantID: requestScope(c).TenantID,
		Limit:    listLimit(req.Limit),
		Offset:   req.Offset,
	}
	for _, s := range strings.Split(req.Status, ",") {
		if s = strings.TrimSpace(s); s != "" {
			opts.Statuses = append(opts.Statuses, workflow.Status(s))
		}
	}

	execs, err := a.eng.Store().ListExecutions(c.Request().Context(), opts)
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}
	return c.JSON(http.StatusOK, execs)
}

// execution loads the execution named by the :id parameter. Executions of
// another tenant are reported as not found.
func (a *API) execution(c echo.Context) (*workflow.Execution, error) {
	executionID, err := id.ParseExecutionID(c.Param("id"))
	if err != nil {
		return nil, saga.NewValidationError("id", err.Error())
	}
	e, err := a.eng.Store().GetExecution(c.Request().Context(), executionID)
	if err != nil {
		return nil, err
	}
	if tenant := requestScope(c).TenantID; tenant != "" && e.Scope.TenantID != tenant {
		return nil, fmt.Errorf("%w: %s", saga.ErrExecutionNotFound, executionID)
	}
	return e, nil
}

var errBadRange = errors.New("expected a duration such as 24h or 7d")

// parseTimeRange accepts Go durations plus a day suffix. Empty means 24h.
func parseTimeRange(s string) (time.Duration, error) {
	if s == "" {
		return 24 * time.Hour, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, errBadRange
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, errBadRange
	}
	return d, nil
}
