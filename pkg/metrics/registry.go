// Package metrics defines the observability interfaces of the lifecycle
// engine and the registry and HTTP server exposing them.
//
// All metrics are optional: components given nil fall back to no-op
// implementations, so the engine runs the same with collection disabled.
//
// Usage:
//
//	metrics.InitRegistry()
//	purgeMetrics := prometheus.NewPurgeMetrics()
//	scheduler := purge.New(manager, cfg.Purge, purgeMetrics)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry and read-only afterwards
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// Call it before creating metrics instances; later calls are ignored. The
// registry also carries the Go runtime and process collectors.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
