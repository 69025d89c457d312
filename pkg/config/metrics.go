package config

import (
	"github.com/marmos91/dittodrive/pkg/metrics"
	promMetrics "github.com/marmos91/dittodrive/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Collectors are never nil; they are no-ops when metrics are disabled
	Lifecycle metrics.LifecycleMetrics
	Purge     metrics.PurgeMetrics
	Thumbnail metrics.ThumbnailMetrics
	Repair    metrics.RepairMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Lifecycle: metrics.NewNoopLifecycleMetrics(),
			Purge:     metrics.NewNoopPurgeMetrics(),
			Thumbnail: metrics.NewNoopThumbnailMetrics(),
			Repair:    metrics.NewNoopRepairMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:    metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Lifecycle: promMetrics.NewLifecycleMetrics(),
		Purge:     promMetrics.NewPurgeMetrics(),
		Thumbnail: promMetrics.NewThumbnailMetrics(),
		Repair:    promMetrics.NewRepairMetrics(),
	}
}
