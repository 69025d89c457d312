package metrics

import "time"

// LifecycleMetrics observes file lifecycle transitions (trash, restore,
// purge-now, mark-purged) and namespace writes (upsert, move).
//
// Example usage:
//
//	m := prometheus.NewLifecycleMetrics()
//	manager := lifecycle.New(repo, blobs, m)
//
//	// Without metrics
//	manager := lifecycle.New(repo, blobs, nil)
type LifecycleMetrics interface {
	// RecordOperation records a completed operation.
	//
	// Parameters:
	//   - operation: e.g. "trash", "restore", "purge_now", "upsert"
	//   - duration: time taken
	//   - err: the returned error, nil on success
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordTagFailure counts best-effort blob tagging failures.
	RecordTagFailure(tag string)
}

type noopLifecycleMetrics struct{}

// NewNoopLifecycleMetrics returns a LifecycleMetrics that does nothing.
func NewNoopLifecycleMetrics() LifecycleMetrics {
	return noopLifecycleMetrics{}
}

func (noopLifecycleMetrics) RecordOperation(string, time.Duration, error) {}
func (noopLifecycleMetrics) RecordTagFailure(string)                      {}

// OrNoopLifecycle returns m, or a no-op implementation when m is nil.
func OrNoopLifecycle(m LifecycleMetrics) LifecycleMetrics {
	if m == nil {
		return NewNoopLifecycleMetrics()
	}
	return m
}
