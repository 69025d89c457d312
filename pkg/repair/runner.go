// Package repair backfills and verifies the secondary indexes of previously
// written data.
//
// Every job has the same shape: a paginated scan of a space's FileNode rows,
// a cheap eligibility filter applied while scanning, a per-row evaluation
// against one invariant, and a conditional write for rows that violate it.
// Writes are guarded so a re-run, or a run racing live traffic, never
// applies a fix twice; a guard that no longer holds counts the row as
// already satisfied.
package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/internal/ratelimiter"
	"github.com/marmos91/dittodrive/pkg/blob"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/metrics"
)

// Row is one scanned FileNode with the bytes it was decoded from, for
// unchanged-since-read guards.
type Row struct {
	File *metadata.FileNode
	Raw  []byte
}

// Job checks and repairs one invariant.
type Job struct {
	Name string

	// Filter selects eligible rows. Nil means every row is eligible.
	Filter func(file *metadata.FileNode) bool

	// Evaluate returns the conditional writes that make row satisfy the
	// invariant, or nothing when it already does.
	Evaluate func(ctx context.Context, space metadata.Space, row Row) ([]kv.WriteOp, error)

	// Finish, when set, runs after a space is scanned and returns
	// space-level writes.
	Finish func(ctx context.Context, space metadata.Space) ([]kv.WriteOp, error)
}

// Options tune one run.
type Options struct {
	// DryRun evaluates every row but writes nothing; Written then counts
	// the writes that would have been made.
	DryRun bool

	// PageSize is the number of rows read per query (default: 100).
	PageSize int

	// RateLimit bounds scanned rows per second (0: unlimited).
	RateLimit uint

	// Spaces to scan. Required.
	Spaces []metadata.Space
}

// Stats reports the tallies of one run.
type Stats struct {
	Job    string
	DryRun bool

	Scanned           int
	Eligible          int
	SkippedIneligible int
	Written           int
	AlreadySatisfied  int
	Failed            int

	StartTime time.Time
	EndTime   time.Time

	// Errors samples the first per-row failures.
	Errors []string
}

const maxRecordedErrors = 20

func (s *Stats) fail(subject string, err error) {
	s.Failed++
	logger.Warn("repair %s: %s: %v", s.Job, subject, err)
	if len(s.Errors) < maxRecordedErrors {
		s.Errors = append(s.Errors, subject+": "+err.Error())
	}
}

// Duration returns the run duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the run.
func (s *Stats) Summary() string {
	return fmt.Sprintf("job=%s scanned=%d eligible=%d skipped_ineligible=%d written=%d already_satisfied=%d failed=%d dry_run=%v duration=%s",
		s.Job, s.Scanned, s.Eligible, s.SkippedIneligible, s.Written, s.AlreadySatisfied, s.Failed, s.DryRun, s.Duration())
}

// Env is what jobs read and write.
type Env struct {
	Store kv.Store
	Blobs blob.Store

	// Retention backfills purgeDueAt for trashed files missing it.
	Retention time.Duration

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// Runner executes jobs.
type Runner struct {
	store   kv.Store
	metrics metrics.RepairMetrics
}

// NewRunner creates a Runner over store. m may be nil.
func NewRunner(store kv.Store, m metrics.RepairMetrics) *Runner {
	return &Runner{store: store, metrics: metrics.OrNoopRepair(m)}
}

// Run scans every requested space with job. Per-row failures are counted
// and never abort the run; store query failures and cancellation do.
func (r *Runner) Run(ctx context.Context, job *Job, opts Options) (stats *Stats, err error) {
	if job == nil || job.Evaluate == nil {
		return nil, metadata.NewInvalidArgumentError("repair job has no evaluator")
	}
	if len(opts.Spaces) == 0 {
		return nil, metadata.NewInvalidArgumentError("repair %s: no spaces selected", job.Name)
	}
	for _, space := range opts.Spaces {
		if err := space.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = kv.DefaultQueryLimit
	}

	stats = &Stats{Job: job.Name, DryRun: opts.DryRun, StartTime: time.Now()}
	defer func() {
		stats.EndTime = time.Now()
		r.metrics.RecordRun(job.Name, opts.DryRun, stats.Duration(), err)
		r.metrics.RecordRows(job.Name, "scanned", stats.Scanned)
		r.metrics.RecordRows(job.Name, "eligible", stats.Eligible)
		r.metrics.RecordRows(job.Name, "skipped_ineligible", stats.SkippedIneligible)
		r.metrics.RecordRows(job.Name, "written", stats.Written)
		r.metrics.RecordRows(job.Name, "already_satisfied", stats.AlreadySatisfied)
		r.metrics.RecordRows(job.Name, "failed", stats.Failed)
	}()

	limiter := ratelimiter.New(opts.RateLimit, 0)
	logger.Info("Starting repair %s over %d space(s): dry_run=%v page_size=%d rate=%d/s",
		job.Name, len(opts.Spaces), opts.DryRun, opts.PageSize, opts.RateLimit)

	for _, space := range opts.Spaces {
		if err := r.scanSpace(ctx, job, space, opts, limiter, stats); err != nil {
			return stats, err
		}
		if job.Finish == nil {
			continue
		}
		ops, err := job.Finish(ctx, space)
		if err != nil {
			stats.fail(space.String(), err)
			continue
		}
		r.apply(ctx, space.String(), ops, opts.DryRun, stats)
	}

	logger.Info("Repair finished: %s", stats.Summary())
	return stats, nil
}

func (r *Runner) scanSpace(ctx context.Context, job *Job, space metadata.Space, opts Options, limiter *ratelimiter.RateLimiter, stats *Stats) error {
	cursor := ""
	for {
		res, err := r.store.Query(ctx, kv.QueryInput{
			Partition: space.Partition(),
			Prefix:    metadata.FilePrefix(),
			Cursor:    cursor,
			Limit:     opts.PageSize,
		})
		if err != nil {
			return fmt.Errorf("failed to scan files of %s: %w", space, err)
		}
		if err := limiter.WaitN(ctx, len(res.Items)); err != nil {
			return err
		}

		for _, item := range res.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.visit(ctx, job, space, item, opts.DryRun, stats)
		}

		if res.NextCursor == "" {
			return nil
		}
		cursor = res.NextCursor
	}
}

func (r *Runner) visit(ctx context.Context, job *Job, space metadata.Space, item kv.Item, dryRun bool, stats *Stats) {
	stats.Scanned++
	subject := space.String() + "/" + metadata.IDFromSort(item.Key.Sort)

	file, err := metadata.DecodeAs[*metadata.FileNode](item.Value)
	if err != nil {
		stats.fail(subject, err)
		return
	}
	if job.Filter != nil && !job.Filter(file) {
		stats.SkippedIneligible++
		return
	}
	stats.Eligible++

	ops, err := job.Evaluate(ctx, space, Row{File: file, Raw: item.Value})
	if err != nil {
		stats.fail(subject, err)
		return
	}
	if len(ops) == 0 {
		stats.AlreadySatisfied++
		return
	}
	r.apply(ctx, subject, ops, dryRun, stats)
}

func (r *Runner) apply(ctx context.Context, subject string, ops []kv.WriteOp, dryRun bool, stats *Stats) {
	if len(ops) == 0 {
		return
	}
	if dryRun {
		stats.Written++
		logger.Debug("repair %s: DRY RUN - would apply %d write(s) to %s", stats.Job, len(ops), subject)
		return
	}

	err := r.store.TransactWrite(ctx, ops)
	switch {
	case err == nil:
		stats.Written++
		logger.Debug("repair %s: repaired %s", stats.Job, subject)
	case kv.IsConditionFailed(err), errors.Is(err, kv.ErrTransactionConflict):
		stats.AlreadySatisfied++
		logger.Debug("repair %s: %s changed concurrently, skipping: %v", stats.Job, subject, err)
	default:
		stats.fail(subject, err)
	}
}
