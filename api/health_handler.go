package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/saga/monitor"
)

// HealthIssuesResponse is returned by GET /v1/health/issues.
type HealthIssuesResponse struct {
	Issues   []monitor.HealthIssue `json:"issues"`
	Critical int                   `json:"critical"`
	Warning  int                   `json:"warning"`
}

func (a *API) healthIssues(c echo.Context) error {
	issues, err := a.eng.Monitor().DetectHealthIssues(c.Request().Context())
	if err != nil {
		return err
	}

	// Issues are detected fleet-wide; a tenant-scoped caller sees its own.
	if tenant := requestScope(c).TenantID; tenant != "" {
		kept := issues[:0]
		for _, is := range issues {
			e, err := a.eng.Store().GetExecution(c.Request().Context(), is.ExecutionID)
			if err == nil && e.Scope.TenantID == tenant {
				kept = append(kept, is)
			}
		}
		issues = kept
	}

	resp := HealthIssuesResponse{Issues: issues}
	if resp.Issues == nil {
		resp.Issues = []monitor.HealthIssue{}
	}
	for _, is := range issues {
		switch is.Severity {
		case monitor.SeverityCritical:
			resp.Critical++
		case monitor.SeverityWarning:
			resp.Warning++
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *API) healthServices(c echo.Context) error {
	services := a.eng.Monitor().Services(c.Request().Context())
	status := http.StatusOK
	for _, s := range services {
		if !s.Healthy {
			status = http.StatusServiceUnavailable
			break
		}
	}
	return c.JSON(status, services)
}

func (a *API) healthWorkers(c echo.Context) error {
	workers, err := a.eng.Monitor().Workers(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, workers)
}
