package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/blob"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/queue"
)

// Enqueuer requests thumbnails for file versions.
type Enqueuer struct {
	store   kv.Store
	blobs   blob.Store
	queue   queue.Queue
	metrics metrics.ThumbnailMetrics

	// Now is the clock; replaced in tests.
	Now func() time.Time
}

// NewEnqueuer creates an Enqueuer. blobs is used to confirm that READY
// thumbnails still exist. m may be nil.
func NewEnqueuer(store kv.Store, blobs blob.Store, q queue.Queue, m metrics.ThumbnailMetrics) *Enqueuer {
	return &Enqueuer{store: store, blobs: blobs, queue: q, metrics: metrics.OrNoopThumbnail(m), Now: time.Now}
}

// Enqueue marks the thumbnail of file's current etag PENDING and sends the
// first-attempt job. It returns false without sending when a READY
// thumbnail for that etag already exists and its object is still stored.
// A READY row whose object is gone is reset to PENDING and re-enqueued.
func (e *Enqueuer) Enqueue(ctx context.Context, space metadata.Space, file *metadata.FileNode) (bool, error) {
	if err := space.Validate(); err != nil {
		return false, err
	}
	if state := file.State(); state != metadata.StateActive {
		return false, metadata.NewConflictError("file is not active", file.ID, state)
	}
	if file.ETag == "" {
		return false, metadata.NewInvalidArgumentError("file %s has no etag", file.ID)
	}

	now := e.Now().UTC()
	pending := &metadata.ThumbnailMetadata{
		FileID:            file.ID,
		Status:            metadata.ThumbnailPending,
		SourceETag:        file.ETag,
		SourceContentType: file.ContentType,
		UpdatedAt:         now,
	}
	key := metadata.ThumbnailKey(space, file.ID)
	err := e.store.Put(ctx, key, metadata.MustEncode(pending), notReadyFor(file.ETag))
	if kv.IsConditionFailed(err) {
		ready, err := e.replaceMissingReady(ctx, key, pending)
		if err != nil || ready {
			if ready {
				logger.Debug("thumbnail: %s/%s already READY for etag %s", space, file.ID, file.ETag)
			}
			return false, err
		}
		logger.Info("thumbnail: %s/%s READY for etag %s but object is missing, regenerating", space, file.ID, file.ETag)
	} else if err != nil {
		return false, fmt.Errorf("failed to write pending thumbnail metadata: %w", err)
	}

	body, err := NewJob(space, file, now).Encode()
	if err != nil {
		return false, err
	}
	if _, err := e.queue.Send(ctx, body, 0); err != nil {
		return false, fmt.Errorf("failed to enqueue thumbnail job: %w", err)
	}
	e.metrics.RecordEnqueued()
	logger.Debug("thumbnail: enqueued %s/%s etag=%s", space, file.ID, file.ETag)
	return true, nil
}

// replaceMissingReady handles a READY row for pending's etag. It reports
// true when the thumbnail object exists and nothing should be sent.
// Otherwise the row is swapped for pending, provided it has not changed
// since it was read.
func (e *Enqueuer) replaceMissingReady(ctx context.Context, key kv.Key, pending *metadata.ThumbnailMetadata) (bool, error) {
	raw, err := e.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read thumbnail metadata: %w", err)
	}
	row, err := metadata.DecodeAs[*metadata.ThumbnailMetadata](raw)
	if err != nil {
		return false, err
	}
	if !row.ReadyFor(pending.SourceETag) {
		// Changed between the conditional write and the read; the writer
		// that changed it owns the job.
		return true, nil
	}
	if row.ThumbnailKey != "" {
		exists, err := blob.CurrentExists(ctx, e.blobs, row.ThumbnailKey)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}

	err = e.store.Put(ctx, key, metadata.MustEncode(pending), unchanged(raw))
	if kv.IsConditionFailed(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to reset thumbnail metadata: %w", err)
	}
	return false, nil
}

// GetMetadata returns the thumbnail row of a file, or NotFound.
func GetMetadata(ctx context.Context, store kv.Store, space metadata.Space, fileID string) (*metadata.ThumbnailMetadata, error) {
	raw, err := store.Get(ctx, metadata.ThumbnailKey(space, fileID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, metadata.NewNotFoundError("thumbnail", fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thumbnail metadata: %w", err)
	}
	return metadata.DecodeAs[*metadata.ThumbnailMetadata](raw)
}

// notReadyFor holds unless the row is already READY for etag.
func notReadyFor(etag string) *kv.Condition {
	return kv.IfAbsentOr("thumbnail_not_ready_"+etag, func(current []byte) bool {
		m, err := metadata.DecodeAs[*metadata.ThumbnailMetadata](current)
		return err != nil || !m.ReadyFor(etag)
	})
}

// unchanged holds while the row still has the bytes it was read with.
func unchanged(raw []byte) *kv.Condition {
	return kv.IfMatch("thumbnail_unchanged", func(current []byte) bool {
		return bytes.Equal(current, raw)
	})
}
