package metrics

import "time"

// PurgeMetrics observes purge reconciler runs.
type PurgeMetrics interface {
	// RecordRun records one completed run.
	RecordRun(duration time.Duration, err error)

	// RecordItems adds n to the counter of items with outcome
	// ("purged", "already_absent", "pending", "stale", "failed").
	RecordItems(outcome string, n int)
}

type noopPurgeMetrics struct{}

// NewNoopPurgeMetrics returns a PurgeMetrics that does nothing.
func NewNoopPurgeMetrics() PurgeMetrics {
	return noopPurgeMetrics{}
}

func (noopPurgeMetrics) RecordRun(time.Duration, error) {}
func (noopPurgeMetrics) RecordItems(string, int)        {}

// OrNoopPurge returns m, or a no-op implementation when m is nil.
func OrNoopPurge(m PurgeMetrics) PurgeMetrics {
	if m == nil {
		return NewNoopPurgeMetrics()
	}
	return m
}
