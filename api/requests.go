package api

import (
	"github.com/xraph/saga/id"
	"github.com/xraph/saga/workflow"
)

// SubmitResponse is returned by POST /v1/workflows/:type.
type SubmitResponse struct {
	ExecutionID id.ExecutionID `json:"execution_id"`
	Status      string         `json:"status"`
}

// ListTypesResponse is returned by GET /v1/workflows.
type ListTypesResponse struct {
	Workflows []workflow.TypeInfo `json:"workflows"`
}

// ListExecutionsRequest binds the query of GET /v1/executions.
type ListExecutionsRequest struct {
	Status string `query:"status"`
	Type   string `query:"workflow_type"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

// AnalyticsRequest binds the query of GET /v1/workflows/analytics.
type AnalyticsRequest struct {
	TimeRange string `query:"time_range"`
	Type      string `query:"workflow_type"`
}

// ActionResponse acknowledges cancel and retry.
type ActionResponse struct {
	ExecutionID id.ExecutionID  `json:"execution_id"`
	Status      workflow.Status `json:"status"`
	Message     string          `json:"message,omitempty"`
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func listLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}
