package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittodrive/pkg/metrics"
)

type purgeMetrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram
	lastRun     prometheus.Gauge
	itemsTotal  *prometheus.CounterVec
}

// NewPurgeMetrics creates a Prometheus-backed PurgeMetrics.
func NewPurgeMetrics() metrics.PurgeMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopPurgeMetrics()
	}
	reg := metrics.GetRegistry()

	return &purgeMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_purge_runs_total",
				Help: "Purge reconciler runs by result",
			},
			[]string{"result"},
		),
		runDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittodrive_purge_run_duration_seconds",
				Help:    "Duration of purge reconciler runs",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
		),
		lastRun: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodrive_purge_last_run_timestamp_seconds",
				Help: "Unix time of the last completed purge run",
			},
		),
		itemsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_purge_items_total",
				Help: "Purge-due entries processed by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *purgeMetrics) RecordRun(duration time.Duration, err error) {
	m.runsTotal.WithLabelValues(resultLabel(err)).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.lastRun.SetToCurrentTime()
}

func (m *purgeMetrics) RecordItems(outcome string, n int) {
	if n > 0 {
		m.itemsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}
