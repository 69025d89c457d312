package metrics

import "time"

// ThumbnailMetrics observes the thumbnail pipeline.
type ThumbnailMetrics interface {
	// RecordJob records one processed delivery.
	//
	// Parameters:
	//   - outcome: "ready", "unsupported", "stale", "skipped", "retried",
	//     "dead_lettered" or "error"
	//   - duration: processing time
	RecordJob(outcome string, duration time.Duration)

	// RecordDeadLetter counts dead letters by reason.
	RecordDeadLetter(reason string)

	// RecordEnqueued counts jobs sent to the queue.
	RecordEnqueued()
}

type noopThumbnailMetrics struct{}

// NewNoopThumbnailMetrics returns a ThumbnailMetrics that does nothing.
func NewNoopThumbnailMetrics() ThumbnailMetrics {
	return noopThumbnailMetrics{}
}

func (noopThumbnailMetrics) RecordJob(string, time.Duration) {}
func (noopThumbnailMetrics) RecordDeadLetter(string)         {}
func (noopThumbnailMetrics) RecordEnqueued()                 {}

// OrNoopThumbnail returns m, or a no-op implementation when m is nil.
func OrNoopThumbnail(m ThumbnailMetrics) ThumbnailMetrics {
	if m == nil {
		return NewNoopThumbnailMetrics()
	}
	return m
}
