package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittodrive/pkg/metrics"
)

type repairMetrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	rowsTotal   *prometheus.CounterVec
}

// NewRepairMetrics creates a Prometheus-backed RepairMetrics.
func NewRepairMetrics() metrics.RepairMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopRepairMetrics()
	}
	reg := metrics.GetRegistry()

	return &repairMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_repair_runs_total",
				Help: "Repair job runs by job, dry-run flag and result",
			},
			[]string{"job", "dry_run", "result"},
		),
		runDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittodrive_repair_run_duration_seconds",
				Help:    "Duration of repair job runs",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"job"},
		),
		rowsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_repair_rows_total",
				Help: "Rows handled by repair jobs by outcome",
			},
			[]string{"job", "outcome"},
		),
	}
}

func (m *repairMetrics) RecordRun(job string, dryRun bool, duration time.Duration, err error) {
	m.runsTotal.WithLabelValues(job, strconv.FormatBool(dryRun), resultLabel(err)).Inc()
	m.runDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *repairMetrics) RecordRows(job, outcome string, n int) {
	if n > 0 {
		m.rowsTotal.WithLabelValues(job, outcome).Add(float64(n))
	}
}
