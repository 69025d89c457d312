// Package purge reconciles the purge-due index: every trashed file whose
// retention has elapsed is hard-deleted (or recognized as already gone) and
// marked PURGED.
//
// A run is safe to repeat and to race with user-triggered purges: every
// state change goes through the lifecycle manager's conditional transitions,
// so a second purger loses the condition and becomes a no-op.
package purge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/blob"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/lifecycle"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/metrics"
)

// Scheduler runs the purge reconciler periodically in the background.
//
// Thread Safety: Safe for concurrent use. Runs never overlap.
type Scheduler struct {
	manager *lifecycle.Manager
	store   kv.Store
	blobs   blob.Store
	config  Config
	metrics metrics.PurgeMetrics

	// Now is the clock deciding what is due; replaced in tests.
	Now func() time.Time

	runMu     sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the purge scheduler.
type Config struct {
	// Enabled controls whether the background ticker runs (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often to reconcile (default: 24h)
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// PageSize is the number of due entries read per query (default: 100)
	PageSize int `mapstructure:"page_size" validate:"omitempty,min=1,max=1000" yaml:"page_size"`

	// MaxPages bounds one run; the rest is picked up by the next (default: 50)
	MaxPages int `mapstructure:"max_pages" validate:"omitempty,min=1" yaml:"max_pages"`

	// HardDeleteDue deletes the blob versions of due files. When false, due
	// files whose content still exists are left to bucket lifecycle rules
	// and counted as pending.
	HardDeleteDue bool `mapstructure:"hard_delete_due" yaml:"hard_delete_due"`

	// DryRun logs what would happen without writing (default: false)
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`

	// RunTimeout bounds a background run (default: 30m)
	RunTimeout time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.PageSize <= 0 {
		c.PageSize = kv.DefaultQueryLimit
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 30 * time.Minute
	}
}

// New creates a new purge scheduler.
//
// The scheduler is initialized but not started. Call Start() to begin
// periodic reconciliation. Zero config values are replaced by defaults.
//
// Parameters:
//   - manager: Lifecycle manager that performs the conditional transitions;
//     its directory store and blob store are reused
//   - config: Scheduler configuration (interval, paging, hard-delete, dry-run)
//   - m: Purge metrics; nil disables recording
//
// Returns:
//   - *Scheduler: Initialized scheduler (not started)
func New(manager *lifecycle.Manager, config Config, m metrics.PurgeMetrics) *Scheduler {
	config.ApplyDefaults()
	return &Scheduler{
		manager: manager,
		store:   manager.Directory().Store(),
		blobs:   manager.Blobs(),
		config:  config,
		metrics: metrics.OrNoopPurge(m),
		Now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins periodic reconciliation.
//
// This starts a goroutine that runs the reconciler every Interval until
// Stop() is called. Each run is bounded by RunTimeout. Nothing is started
// when the scheduler is disabled.
//
// Safe to call multiple times (subsequent calls are no-ops).
func (s *Scheduler) Start() {
	if !s.config.Enabled {
		logger.Info("Purge scheduler disabled")
		return
	}
	s.startOnce.Do(func() {
		s.started = true
		logger.Info("Starting purge scheduler: interval=%s page_size=%d max_pages=%d hard_delete=%v dry_run=%v",
			s.config.Interval, s.config.PageSize, s.config.MaxPages, s.config.HardDeleteDue, s.config.DryRun)
		go s.worker()
	})
}

// Stop stops the scheduler and waits for it to finish.
//
// This signals the worker goroutine and waits for any in-progress run to
// complete. Safe to call multiple times, and before Start().
//
// Parameters:
//   - ctx: Context bounding the wait for an in-progress run
//
// Returns:
//   - error: ctx.Err() if the context expires before shutdown completes
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.started {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stopCh) })

	select {
	case <-s.doneCh:
		logger.Info("Purge scheduler stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Purge scheduler shutdown timeout")
		return ctx.Err()
	}
}

// RunNow triggers an immediate reconciler run.
//
// This is useful for:
//   - Testing
//   - The "purge run" command
//   - Catching up after the scheduler was disabled
//
// The method blocks until the run completes or ctx is cancelled. It never
// overlaps a periodic run; it waits for one in progress to finish first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - *Stats: Run statistics
//   - error: Returns error if listing due entries fails or ctx is cancelled
func (s *Scheduler) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running purge reconciler (manual trigger)")
	return s.run(ctx)
}

func (s *Scheduler) worker() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
			stats, err := s.run(ctx)
			cancel()
			if err != nil {
				logger.Error("Purge run failed: %v", err)
			} else {
				logger.Info("Purge run completed: %s", stats.Summary())
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context) (stats *Stats, err error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	stats = &Stats{StartTime: time.Now(), DryRun: s.config.DryRun}
	defer func() {
		stats.EndTime = time.Now()
		s.metrics.RecordRun(stats.Duration(), err)
		s.metrics.RecordItems("purged", stats.Purged)
		s.metrics.RecordItems("already_absent", stats.AlreadyAbsent)
		s.metrics.RecordItems("pending", stats.Pending)
		s.metrics.RecordItems("stale", stats.StaleEntries)
		s.metrics.RecordItems("failed", stats.Failed)
	}()

	upper := metadata.PurgeDueUpperBound(s.Now())
	cursor := ""
	for page := 0; page < s.config.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		res, err := s.store.Query(ctx, kv.QueryInput{
			Partition: metadata.PurgeDuePartition,
			End:       upper,
			Cursor:    cursor,
			Limit:     s.config.PageSize,
		})
		if err != nil {
			return stats, fmt.Errorf("failed to query purge-due index: %w", err)
		}
		stats.Pages++

		for _, item := range res.Items {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Scanned++
			s.reconcile(ctx, item, stats)
		}

		if res.NextCursor == "" {
			return stats, nil
		}
		cursor = res.NextCursor
	}

	stats.Truncated = true
	logger.Info("Purge run stopped after %d pages; remaining due items wait for the next run", s.config.MaxPages)
	return stats, nil
}

// reconcile handles one due entry. Failures are recorded, never returned.
func (s *Scheduler) reconcile(ctx context.Context, item kv.Item, stats *Stats) {
	space, fileID, err := metadata.ParsePurgeDueSort(item.Key.Sort)
	if err != nil {
		stats.fail(item.Key.Sort, err)
		return
	}

	file, err := s.manager.Directory().GetFile(ctx, space, fileID)
	switch {
	case metadata.IsNotFound(err):
		s.removeStale(ctx, item, stats, "file missing")
		return
	case err != nil:
		stats.fail(fileID, err)
		return
	}
	if file.State() != metadata.StateTrash {
		s.removeStale(ctx, item, stats, "file is "+file.State().String())
		return
	}
	if file.PurgeDueAt == nil || metadata.PurgeDueKey(space, fileID, *file.PurgeDueAt) != item.Key {
		s.removeStale(ctx, item, stats, "superseded by a later trash")
		return
	}

	present, err := blob.HasAnyVersion(ctx, s.blobs, file.ContentKeys()...)
	if err != nil {
		stats.fail(fileID, err)
		return
	}

	switch {
	case !present:
		stats.AlreadyAbsent++
		if s.config.DryRun {
			logger.Info("Purge: DRY RUN - would mark %s/%s PURGED (content already gone)", space, fileID)
			return
		}
		if err := s.manager.SweepThumbnails(ctx, space, fileID); err != nil {
			stats.AlreadyAbsent--
			stats.fail(fileID, err)
			return
		}
		if _, err := s.manager.MarkPurged(ctx, space, fileID); err != nil {
			stats.AlreadyAbsent--
			s.handleTransitionError(space, fileID, err, stats)
		}

	case !s.config.HardDeleteDue:
		stats.Pending++
		logger.Debug("Purge: %s/%s pending, content still present", space, fileID)

	default:
		if s.config.DryRun {
			stats.Purged++
			logger.Info("Purge: DRY RUN - would hard-delete %s/%s (%s)", space, fileID, strings.Join(file.ContentKeys(), ", "))
			return
		}
		if err := s.manager.PurgeNow(ctx, space, fileID); err != nil {
			s.handleTransitionError(space, fileID, err, stats)
			return
		}
		stats.Purged++
	}
}

// handleTransitionError treats a lost race with another purger as a no-op.
func (s *Scheduler) handleTransitionError(space metadata.Space, fileID string, err error, stats *Stats) {
	if se, ok := metadata.AsStoreError(err); ok && se.State == metadata.StatePurged {
		stats.Skipped++
		logger.Debug("Purge: %s/%s already purged by another path", space, fileID)
		return
	}
	stats.fail(fileID, err)
}

func (s *Scheduler) removeStale(ctx context.Context, item kv.Item, stats *Stats, reason string) {
	stats.StaleEntries++
	if s.config.DryRun {
		logger.Info("Purge: DRY RUN - would remove stale due entry %s (%s)", item.Key.Sort, reason)
		return
	}
	if err := s.store.Delete(ctx, item.Key, kv.IfExists()); err != nil && !kv.IsConditionFailed(err) {
		stats.StaleEntries--
		stats.fail(item.Key.Sort, err)
		return
	}
	logger.Debug("Purge: removed stale due entry %s (%s)", item.Key.Sort, reason)
}

// Stats contains statistics from one reconciler run.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time
	DryRun    bool

	Pages         int // index pages read
	Scanned       int // due entries examined
	Purged        int // content deleted and file marked PURGED
	AlreadyAbsent int // content was already gone; file marked PURGED
	Pending       int // content present, hard delete disabled
	StaleEntries  int // index entries whose file is not a due TRASH file
	Skipped       int // lost a race to another purge path
	Failed        int
	Truncated     bool // stopped at MaxPages

	// Errors samples the first per-item failures.
	Errors []string
}

const maxRecordedErrors = 20

func (s *Stats) fail(subject string, err error) {
	s.Failed++
	logger.Warn("Purge: %s: %v", subject, err)
	if len(s.Errors) < maxRecordedErrors {
		s.Errors = append(s.Errors, subject+": "+err.Error())
	}
}

// Duration returns the total run duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the run.
func (s *Stats) Summary() string {
	return fmt.Sprintf("scanned=%d purged=%d already_absent=%d pending=%d stale=%d skipped=%d failed=%d truncated=%v dry_run=%v duration=%s",
		s.Scanned, s.Purged, s.AlreadyAbsent, s.Pending, s.StaleEntries, s.Skipped, s.Failed, s.Truncated, s.DryRun, s.Duration())
}
