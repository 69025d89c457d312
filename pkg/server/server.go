// Package server assembles the lifecycle engine from configuration and runs
// its background components.
//
// Architecture:
// Runtime owns the opened backends and every service built on them. The
// request-path services (directory, lifecycle, uploads, thumbnail enqueuer)
// are used directly by callers; the background components (purge scheduler,
// thumbnail worker, metrics server) are driven by Serve.
//
// Lifecycle:
//  1. Creation: Open() with a loaded configuration
//  2. Startup: Serve() starts every enabled background component
//  3. Shutdown: context cancellation stops them in reverse start order,
//     bounded by server.shutdown_timeout
//  4. Close() releases the backends
//
// Example usage:
//
//	rt, err := server.Open(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := rt.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/directory"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/lifecycle"
	"github.com/marmos91/dittodrive/pkg/purge"
	"github.com/marmos91/dittodrive/pkg/repair"
	"github.com/marmos91/dittodrive/pkg/thumbnail"
	"github.com/marmos91/dittodrive/pkg/uploads"
)

// healthProbeKey is read by the metadata health check; it never exists.
var healthProbeKey = kv.Key{Partition: "health", Sort: "probe"}

// Runtime is the assembled engine.
//
// Thread safety:
// The exported services are safe for concurrent use. Serve must only be
// called once.
type Runtime struct {
	config  *config.Config
	stores  *config.Stores
	metrics *config.MetricsResult

	Directory  *directory.Repository
	Lifecycle  *lifecycle.Manager
	Uploads    *uploads.Service
	Thumbnails *thumbnail.Enqueuer
	Processor  *thumbnail.Processor
	Worker     *thumbnail.Worker
	Purge      *purge.Scheduler
	Repair     *repair.Runner

	serveMu sync.Mutex
	served  bool
}

// Open initializes metrics, opens the configured backends and wires the
// services on top of them.
func Open(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	m := config.InitializeMetrics(cfg)

	stores, err := config.InitializeStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return New(cfg, stores, m), nil
}

// New wires the services on already-opened stores. m may be nil, in which
// case every component records to no-op metrics.
func New(cfg *config.Config, stores *config.Stores, m *config.MetricsResult) *Runtime {
	if m == nil {
		m = &config.MetricsResult{}
	}

	dir := directory.New(stores.KV, directory.Options{})
	manager := lifecycle.New(dir, stores.Blobs, m.Lifecycle)
	enqueuer := thumbnail.NewEnqueuer(stores.KV, stores.Blobs, stores.Queue, m.Thumbnail)
	processor := thumbnail.NewProcessor(dir, stores.Blobs, stores.Queue, cfg.Thumbnail, m.Thumbnail)

	return &Runtime{
		config:     cfg,
		stores:     stores,
		metrics:    m,
		Directory:  dir,
		Lifecycle:  manager,
		Uploads:    uploads.New(dir, stores.Blobs, enqueuer, cfg.Uploads.URLTTL),
		Thumbnails: enqueuer,
		Processor:  processor,
		Worker:     thumbnail.NewWorker(processor, stores.Queue, cfg.Thumbnail, m.Thumbnail),
		Purge:      purge.New(manager, cfg.Purge, m.Purge),
		Repair:     repair.NewRunner(stores.KV, m.Repair),
	}
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config {
	return r.config
}

// Stores returns the opened backends.
func (r *Runtime) Stores() *config.Stores {
	return r.stores
}

// Retention is the configured default trash retention.
func (r *Runtime) Retention() time.Duration {
	return r.config.Lifecycle.Retention
}

// RepairEnv returns the environment the repair jobs run against.
func (r *Runtime) RepairEnv() repair.Env {
	return repair.Env{
		Store:     r.stores.KV,
		Blobs:     r.stores.Blobs,
		Retention: r.config.Lifecycle.Retention,
		Now:       r.Directory.Now,
	}
}

// Serve starts the background components and blocks until ctx is cancelled
// or the metrics server fails.
//
// Shutdown behavior:
//   - components are stopped in reverse start order
//   - all stops share one server.shutdown_timeout deadline
//   - a component that misses the deadline is logged and abandoned
//
// Returns ctx.Err() after a graceful shutdown triggered by cancellation.
func (r *Runtime) Serve(ctx context.Context) error {
	r.serveMu.Lock()
	if r.served {
		r.serveMu.Unlock()
		return fmt.Errorf("Serve() has already been called on this runtime")
	}
	r.served = true
	r.serveMu.Unlock()

	logger.Info("Starting DittoDrive runtime")

	var (
		wg      sync.WaitGroup
		errChan = make(chan error, 1)
	)

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()

	if srv := r.metrics.Server; srv != nil {
		srv.AddHealthCheck("metadata", r.checkMetadata)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(metricsCtx); err != nil {
				errChan <- err
			}
		}()
	}

	r.Purge.Start()
	r.Worker.Start()
	logger.Info("DittoDrive runtime started (purge=%v thumbnails=%v metrics=%v)",
		r.config.Purge.Enabled, r.config.Thumbnail.Enabled, r.metrics.Server != nil)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		serveErr = ctx.Err()
	case err := <-errChan:
		logger.Error("Metrics server failed: %v - initiating shutdown", err)
		serveErr = err
	}

	r.stopAll()
	stopMetrics()
	wg.Wait()

	logger.Info("DittoDrive runtime stopped")
	return serveErr
}

// stopAll stops the background components in reverse start order.
func (r *Runtime) stopAll() {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Server.ShutdownTimeout)
	defer cancel()

	if err := r.Worker.Stop(ctx); err != nil {
		logger.Error("Error stopping thumbnail worker: %v", err)
	}
	if err := r.Purge.Stop(ctx); err != nil {
		logger.Error("Error stopping purge scheduler: %v", err)
	}
}

func (r *Runtime) checkMetadata(ctx context.Context) error {
	_, err := r.stores.KV.Get(ctx, healthProbeKey)
	if err == nil || errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return err
}

// Close releases the backends.
func (r *Runtime) Close() error {
	return r.stores.Close()
}
