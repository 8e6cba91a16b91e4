// Package workflows holds the concrete business processes of the platform,
// each a fixed step sequence over the collaborator contracts in package
// services.
//
// Every step declares its failure policy. Steps that create state carry a
// compensation so a later Compensate failure can undo them; best-effort
// notifications continue with error.
package workflows

import (
	"encoding/json"
	"fmt"

	"github.com/xraph/saga"
	"github.com/xraph/saga/batch"
	"github.com/xraph/saga/workflow"
)

// Workflow type names.
const (
	TypeTenantProvisioning = "tenant_provisioning"
	TypeUserOnboarding     = "user_onboarding"
	TypeTenantSwitching    = "tenant_switching"
	TypeTenantMigration    = "cross_tenant_migration"
	TypeBulkOperation      = "bulk_operation"
	TypeComplianceExport   = "compliance_export"
	TypeComplianceDeletion = "compliance_deletion"
)

// Definitions returns the latest version of every concrete workflow.
func Definitions() []*workflow.Definition {
	return []*workflow.Definition{
		TenantProvisioning(),
		UserOnboarding(),
		TenantSwitching(),
		TenantMigration(),
		BulkOperation(DefaultBulkOptions),
		ComplianceExport(),
		ComplianceDeletion(),
	}
}

// RegisterAll registers every concrete workflow in reg.
func RegisterAll(reg *workflow.Registry) error {
	for _, def := range Definitions() {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// checker is implemented by workflow inputs.
type checker interface {
	check() error
}

// validate decodes the raw input into T and runs its check.
func validate[T checker](raw []byte) error {
	var in T
	if err := json.Unmarshal(raw, &in); err != nil {
		return saga.NewValidationError("input", err.Error())
	}
	return in.check()
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i+1] == "" {
			return saga.NewValidationError(fields[i], "is required")
		}
	}
	return nil
}

// request adapts a typed builder to a workflow.RequestFunc.
func request[In, Req any](build func(s *workflow.State, in In) (Req, error)) workflow.RequestFunc {
	return func(s *workflow.State) (any, error) {
		in, err := workflow.DecodeInput[In](s)
		if err != nil {
			return nil, err
		}
		return build(s, in)
	}
}

// succeeded reports whether a best-effort step produced a result.
func succeeded(s *workflow.State, step string) bool {
	_, ok := s.Result(step)
	return ok
}

// tenantOf prefers an explicit tenant over the execution scope.
func tenantOf(s *workflow.State, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.Scope.TenantID
}

// DefaultBulkOptions partitions bulk operations into batches of 25 with
// five entities in flight.
var DefaultBulkOptions = batch.Options{
	BatchSize:       25,
	Parallelism:     5,
	ContinueOnError: true,
}
