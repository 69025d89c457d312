// Package prometheus implements the metrics interfaces on the global
// Prometheus registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/metrics"
)

type lifecycleMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	tagFailures       *prometheus.CounterVec
}

// NewLifecycleMetrics creates a Prometheus-backed LifecycleMetrics.
//
// Returns a no-op implementation if metrics are not enabled.
func NewLifecycleMetrics() metrics.LifecycleMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopLifecycleMetrics()
	}
	reg := metrics.GetRegistry()

	return &lifecycleMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_lifecycle_operations_total",
				Help: "Lifecycle and namespace operations by operation and result code",
			},
			[]string{"operation", "result"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittodrive_lifecycle_operation_duration_seconds",
				Help: "Duration of lifecycle operations in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.025, // 25ms
					0.1,   // 100ms
					0.5,   // 500ms
					2.5,   // 2.5s
				},
			},
			[]string{"operation"},
		),
		tagFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_lifecycle_blob_tag_failures_total",
				Help: "Best-effort blob tagging failures by tag value",
			},
			[]string{"tag"},
		),
	}
}

func (m *lifecycleMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *lifecycleMetrics) RecordTagFailure(tag string) {
	m.tagFailures.WithLabelValues(tag).Inc()
}

// resultLabel maps an error to a low-cardinality label.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if se, ok := metadata.AsStoreError(err); ok {
		return se.Code.String()
	}
	return "error"
}
