package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittodrive/pkg/metrics"
)

type thumbnailMetrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	deadLetters *prometheus.CounterVec
	enqueued    prometheus.Counter
}

// NewThumbnailMetrics creates a Prometheus-backed ThumbnailMetrics.
func NewThumbnailMetrics() metrics.ThumbnailMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopThumbnailMetrics()
	}
	reg := metrics.GetRegistry()

	return &thumbnailMetrics{
		jobsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_thumbnail_jobs_total",
				Help: "Thumbnail deliveries processed by outcome",
			},
			[]string{"outcome"},
		),
		jobDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittodrive_thumbnail_job_duration_seconds",
				Help: "Thumbnail processing time by outcome",
				Buckets: []float64{
					0.01, // 10ms
					0.05, // 50ms
					0.25, // 250ms
					1,    // 1s
					5,    // 5s
					30,   // 30s
				},
			},
			[]string{"outcome"},
		),
		deadLetters: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_thumbnail_dead_letters_total",
				Help: "Thumbnail jobs dead-lettered by reason",
			},
			[]string{"reason"},
		),
		enqueued: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrive_thumbnail_enqueued_total",
				Help: "Thumbnail jobs sent to the queue",
			},
		),
	}
}

func (m *thumbnailMetrics) RecordJob(outcome string, duration time.Duration) {
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *thumbnailMetrics) RecordDeadLetter(reason string) {
	m.deadLetters.WithLabelValues(reason).Inc()
}

func (m *thumbnailMetrics) RecordEnqueued() {
	m.enqueued.Inc()
}
