package metrics

import "time"

// RepairMetrics observes consistency repair runs.
type RepairMetrics interface {
	// RecordRun records a completed job run.
	RecordRun(job string, dryRun bool, duration time.Duration, err error)

	// RecordRows adds n rows with outcome ("scanned", "eligible", "written",
	// "already_satisfied", "skipped_ineligible", "failed") for job.
	RecordRows(job, outcome string, n int)
}

type noopRepairMetrics struct{}

// NewNoopRepairMetrics returns a RepairMetrics that does nothing.
func NewNoopRepairMetrics() RepairMetrics {
	return noopRepairMetrics{}
}

func (noopRepairMetrics) RecordRun(string, bool, time.Duration, error) {}
func (noopRepairMetrics) RecordRows(string, string, int)               {}

// OrNoopRepair returns m, or a no-op implementation when m is nil.
func OrNoopRepair(m RepairMetrics) RepairMetrics {
	if m == nil {
		return NewNoopRepairMetrics()
	}
	return m
}
