package routes

import (
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/types"
)

// AppliedRoute records a successfully upserted route rule.
type AppliedRoute struct {
	Resource types.NamespacedName
	RuleName string
	Hostname string
	Port     uint32
}

// SkippedRoute records a Service that was not reconciled, with the
// reason it was skipped.
type SkippedRoute struct {
	Resource types.NamespacedName
	Reason   string
}

// FailedRoute records a Service whose upsert failed. Failures are
// isolated; they never abort the rest of the pass.
type FailedRoute struct {
	Resource types.NamespacedName
	Err      error
}

// Report aggregates the outcome of one reconciliation pass. It always
// covers every matched Service.
type Report struct {
	RunID   string
	Applied []AppliedRoute
	Skipped []SkippedRoute
	Failed  []FailedRoute
}

// NewReport creates an empty report with a fresh run ID.
func NewReport() *Report {
	return &Report{
		RunID: uuid.NewString(),
	}
}

// HasFailures reports whether any Service upsert failed.
func (r *Report) HasFailures() bool {
	return len(r.Failed) > 0
}

// Total returns the number of Services covered by the report.
func (r *Report) Total() int {
	return len(r.Applied) + len(r.Skipped) + len(r.Failed)
}
