package thumbnail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/blob"
	"github.com/marmos91/dittodrive/pkg/directory"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/queue"
)

// Outcome is the result of processing one delivery.
type Outcome string

const (
	OutcomeReady        Outcome = "ready"
	OutcomeUnsupported  Outcome = "unsupported"
	OutcomeStale        Outcome = "stale"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeRetried      Outcome = "retried"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Processor turns thumbnail jobs into derived objects and metadata rows.
//
// Processing is idempotent per (file, etag): redelivered or duplicated jobs
// either find the file changed (stale) or the thumbnail already READY.
type Processor struct {
	dir      *directory.Repository
	store    kv.Store
	blobs    blob.Store
	queue    queue.Queue
	renderer *Renderer
	config   Config
	metrics  metrics.ThumbnailMetrics

	// Frames extracts video frames; replaced in tests.
	Frames FrameExtractor

	// Now is the clock; replaced in tests.
	Now func() time.Time
}

// NewProcessor creates a Processor. m may be nil.
func NewProcessor(dir *directory.Repository, blobs blob.Store, q queue.Queue, config Config, m metrics.ThumbnailMetrics) *Processor {
	config.ApplyDefaults()
	return &Processor{
		dir:      dir,
		store:    dir.Store(),
		blobs:    blobs,
		queue:    q,
		renderer: NewRenderer(config.MaxDimension, config.JPEGQuality),
		config:   config,
		metrics:  metrics.OrNoopThumbnail(m),
		Frames:   &FFmpeg{Path: config.FFmpegPath},
		Now:      time.Now,
	}
}

// Process handles one message body.
//
// A nil error means the delivery is finished and may be acknowledged: the
// job succeeded, was discarded, was re-sent for a later attempt, or was
// dead-lettered. A non-nil error is an infrastructure failure; the message
// should stay unacknowledged so the queue redelivers it.
func (p *Processor) Process(ctx context.Context, body []byte) (Outcome, error) {
	job, reason, err := ParseJob(body)
	if err != nil {
		logger.Warn("thumbnail: rejecting message: %v", err)
		return OutcomeDeadLettered, p.deadLetter(ctx, reason, err, body, nil)
	}
	space := job.Space()

	// 1. The job applies only to the file's current content.
	file, err := p.dir.GetFile(ctx, space, job.FileID)
	if metadata.IsNotFound(err) {
		logger.Debug("thumbnail: %s/%s no longer exists, discarding", space, job.FileID)
		return OutcomeStale, nil
	}
	if err != nil {
		return "", err
	}
	if file.State() != metadata.StateActive || file.ETag != job.ETag {
		logger.Debug("thumbnail: discarding stale job for %s/%s (state=%s etag=%s job_etag=%s)",
			space, file.ID, file.State(), file.ETag, job.ETag)
		return OutcomeStale, nil
	}

	// 2. Idempotent skip unless the derived object went missing.
	current, err := GetMetadata(ctx, p.store, space, file.ID)
	if err != nil && !metadata.IsNotFound(err) {
		return "", err
	}
	if current.ReadyFor(job.ETag) {
		exists, err := blob.CurrentExists(ctx, p.blobs, current.ThumbnailKey)
		if err != nil {
			return "", err
		}
		if exists {
			return OutcomeSkipped, nil
		}
		logger.Info("thumbnail: %s/%s READY but %s is missing, regenerating", space, file.ID, current.ThumbnailKey)
	}

	// 3. Only images and videos have previews.
	if !file.IsMedia() {
		row := p.row(file, metadata.ThumbnailUnsupported, job.Attempt)
		if err := p.writeRow(ctx, space, file, row, false); err != nil {
			return p.resolveWriteError(err)
		}
		return OutcomeUnsupported, nil
	}

	// 4. Render and store.
	rendered, err := p.render(ctx, space, file)
	if err != nil {
		return p.fail(ctx, job, file, body, err)
	}

	key := metadata.ThumbnailObjectKey(space, file.ID, file.ETag)
	info, err := p.blobs.Put(ctx, key, bytes.NewReader(rendered.Data), int64(len(rendered.Data)), ThumbnailContentType)
	if err != nil {
		return p.fail(ctx, job, file, body, fmt.Errorf("failed to store thumbnail: %w", err))
	}

	row := p.row(file, metadata.ThumbnailReady, job.Attempt)
	row.ThumbnailKey = key
	row.Width = rendered.Width
	row.Height = rendered.Height
	row.Size = info.Size
	if err := p.writeRow(ctx, space, file, row, false); err != nil {
		return p.resolveWriteError(err)
	}
	logger.Debug("thumbnail: %s/%s READY %dx%d (%d bytes)", space, file.ID, row.Width, row.Height, row.Size)
	return OutcomeReady, nil
}

// render produces the preview of file's current content.
func (p *Processor) render(ctx context.Context, space metadata.Space, file *metadata.FileNode) (*Rendered, error) {
	if metadata.IsVideoType(file.ContentType) {
		exists, err := blob.CurrentExists(ctx, p.blobs, file.StorageKey)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, file.StorageKey)
		}
		url, err := p.blobs.PresignGet(ctx, file.StorageKey, p.config.SourceURLTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to presign video source: %w", err)
		}
		frame, err := p.Frames.ExtractFrame(ctx, url)
		if err != nil {
			return nil, err
		}
		return p.renderer.Render(frame)
	}

	data, _, err := blob.ReadAll(ctx, p.blobs, file.StorageKey, p.config.MaxSourceBytes)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, file.StorageKey)
	}
	if err != nil {
		return nil, err
	}
	return p.renderer.Render(data)
}

// fail classifies a processing failure (step 5).
func (p *Processor) fail(ctx context.Context, job *Job, file *metadata.FileNode, body []byte, cause error) (Outcome, error) {
	space := job.Space()

	if !IsNonRetryable(cause) && job.Attempt < p.config.MaxAttempts {
		row := p.row(file, metadata.ThumbnailPending, job.Attempt)
		row.LastError = cause.Error()
		if err := p.writeRow(ctx, space, file, row, true); err != nil {
			return p.resolveWriteError(err)
		}

		next, err := job.Next().Encode()
		if err != nil {
			return "", err
		}
		delay := RetryDelay(job.Attempt)
		if _, err := p.queue.Send(ctx, next, delay); err != nil {
			return "", fmt.Errorf("failed to re-enqueue thumbnail job: %w", err)
		}
		logger.Warn("thumbnail: %s/%s attempt %d failed, retrying in %s: %v", space, file.ID, job.Attempt, delay, cause)
		return OutcomeRetried, nil
	}

	reason := ReasonNonRetryableFailure
	if !IsNonRetryable(cause) {
		reason = ReasonAttemptsExceeded
	}

	row := p.row(file, metadata.ThumbnailFailed, job.Attempt)
	row.LastError = cause.Error()
	if err := p.writeRow(ctx, space, file, row, true); err != nil {
		return p.resolveWriteError(err)
	}
	logger.Error("thumbnail: %s/%s failed permanently (%s) after attempt %d: %v", space, file.ID, reason, job.Attempt, cause)
	return OutcomeDeadLettered, p.deadLetter(ctx, reason, cause, body, job)
}

func (p *Processor) deadLetter(ctx context.Context, reason DeadLetterReason, cause error, body []byte, job *Job) error {
	record, err := json.Marshal(newDeadLetter(reason, cause, body, job, p.Now()))
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	if err := p.queue.SendDeadLetter(ctx, record); err != nil {
		return fmt.Errorf("failed to dead-letter thumbnail job: %w", err)
	}
	p.metrics.RecordDeadLetter(string(reason))
	return nil
}

func (p *Processor) row(file *metadata.FileNode, status metadata.ThumbnailStatus, attempt int) *metadata.ThumbnailMetadata {
	return &metadata.ThumbnailMetadata{
		FileID:            file.ID,
		Status:            status,
		SourceETag:        file.ETag,
		SourceContentType: file.ContentType,
		Attempts:          attempt,
		UpdatedAt:         p.Now().UTC(),
	}
}

// writeRow stores row together with a check that the file is still ACTIVE
// with the etag the row describes. With keepReady set, an existing READY
// row for the same etag is left alone.
func (p *Processor) writeRow(ctx context.Context, space metadata.Space, file *metadata.FileNode, row *metadata.ThumbnailMetadata, keepReady bool) error {
	var cond *kv.Condition
	if keepReady {
		cond = notReadyFor(row.SourceETag)
	}
	etag := file.ETag
	err := p.store.TransactWrite(ctx, []kv.WriteOp{
		kv.Put(metadata.ThumbnailKey(space, file.ID), metadata.MustEncode(row), cond),
		kv.Check(metadata.FileKey(space, file.ID), metadata.FileMatches("file_active_etag_"+etag, func(f *metadata.FileNode) bool {
			return f.State() == metadata.StateActive && f.ETag == etag
		})),
	})
	if failed, ok := kv.FailedCondition(err); ok {
		if failed.Index == 0 {
			return errAlreadyReady
		}
		return errStale
	}
	if err != nil {
		return fmt.Errorf("failed to write thumbnail metadata: %w", err)
	}
	return nil
}

func (p *Processor) resolveWriteError(err error) (Outcome, error) {
	switch {
	case errors.Is(err, errStale):
		return OutcomeStale, nil
	case errors.Is(err, errAlreadyReady):
		return OutcomeSkipped, nil
	default:
		return "", err
	}
}
