// Package uploads implements the direct-to-storage upload flow: the client
// obtains a presigned PUT for a fresh object key, uploads, and confirms;
// confirmation applies the space's duplicate policy and records the file.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/blob"
	"github.com/marmos91/dittodrive/pkg/dedup"
	"github.com/marmos91/dittodrive/pkg/directory"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/paths"
	"github.com/marmos91/dittodrive/pkg/thumbnail"
)

// DefaultURLTTL is the lifetime of presigned upload and download URLs.
const DefaultURLTTL = 15 * time.Minute

const genericContentType = "application/octet-stream"

// Service confirms uploads into the directory.
type Service struct {
	dir    *directory.Repository
	index  *dedup.Index
	blobs  blob.Store
	thumbs *thumbnail.Enqueuer
	ttl    time.Duration

	// NewObjectID allocates object ids; replaced in tests.
	NewObjectID func() string
}

// New creates a Service. thumbs may be nil to disable thumbnail requests;
// ttl <= 0 selects DefaultURLTTL.
func New(dir *directory.Repository, blobs blob.Store, thumbs *thumbnail.Enqueuer, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Service{
		dir:         dir,
		index:       dedup.New(dir.Store()),
		blobs:       blobs,
		thumbs:      thumbs,
		ttl:         ttl,
		NewObjectID: uuid.NewString,
	}
}

// PreparedUpload is where and until when a client may upload.
type PreparedUpload struct {
	StorageKey string
	URL        string
	ExpiresAt  time.Time
}

// PrepareUpload validates path and issues a presigned PUT for a new object
// key of the space.
func (s *Service) PrepareUpload(ctx context.Context, space metadata.Space, path, contentType string) (*PreparedUpload, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if _, _, err := paths.Split(path); err != nil {
		return nil, err
	}

	key := metadata.ContentObjectKey(space, s.NewObjectID())
	url, err := s.blobs.PresignPut(ctx, key, contentType, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}
	return &PreparedUpload{StorageKey: key, URL: url, ExpiresAt: s.dir.Now().Add(s.ttl)}, nil
}

// ConfirmInput describes an uploaded object.
type ConfirmInput struct {
	Path       string
	StorageKey string

	// ContentType overrides the type recorded on the object. When both are
	// empty or generic, the type is sniffed from the content.
	ContentType string

	// ContentHash is the client-computed SHA-256 (hex); optional.
	ContentHash string
}

// ConfirmResult reports a confirmed upload.
type ConfirmResult struct {
	File            *metadata.FileNode
	Created         bool
	ThumbnailQueued bool
}

// ConfirmUpload records an uploaded object as the ACTIVE file at in.Path.
//
// In spaces that deduplicate media, a media upload whose hash belongs to a
// different ACTIVE file is rejected with ErrDuplicateContent naming that
// file; no FileNode is written and the uploaded object is deleted
// best-effort. Media files get a thumbnail request after the write.
func (s *Service) ConfirmUpload(ctx context.Context, space metadata.Space, in ConfirmInput) (*ConfirmResult, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(in.StorageKey, metadata.ContentObjectPrefix(space)) {
		return nil, metadata.NewInvalidArgumentError("storage key %q does not belong to %s", in.StorageKey, space)
	}

	info, err := s.blobs.Head(ctx, in.StorageKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, metadata.NewNotFoundError("uploaded object", in.StorageKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to head upload %s: %w", in.StorageKey, err)
	}

	contentType, err := s.contentType(ctx, in, info)
	if err != nil {
		return nil, err
	}

	if space.DedupsMedia() && metadata.IsMediaType(contentType) && in.ContentHash != "" {
		if err := s.rejectDuplicate(ctx, space, in); err != nil {
			return nil, err
		}
	}

	res, err := s.dir.UpsertActiveFile(ctx, space, directory.UpsertFileInput{
		Path:        in.Path,
		StorageKey:  in.StorageKey,
		Size:        info.Size,
		ContentType: contentType,
		ContentHash: in.ContentHash,
		ETag:        info.ETag,
	})
	if err != nil {
		return nil, err
	}

	out := &ConfirmResult{File: res.File, Created: res.Created}
	if s.thumbs != nil && res.File.IsMedia() {
		queued, err := s.thumbs.Enqueue(ctx, space, res.File)
		if err != nil {
			logger.Warn("uploads: thumbnail request for %s/%s failed: %v", space, res.File.ID, err)
		}
		out.ThumbnailQueued = queued
	}
	return out, nil
}

// rejectDuplicate fails when the hash is held by an ACTIVE file other than
// the one being overwritten at in.Path.
func (s *Service) rejectDuplicate(ctx context.Context, space metadata.Space, in ConfirmInput) error {
	candidate, found, err := s.index.FindDuplicateCandidate(ctx, space, in.ContentHash)
	if err != nil || !found {
		return err
	}

	existing, err := s.dir.LookupFile(ctx, space, in.Path)
	switch {
	case err == nil && existing.ID == candidate:
		return nil
	case err != nil && !metadata.IsNotFound(err):
		return err
	}

	if _, remaining, err := blob.DeleteAllVersions(ctx, s.blobs, []string{in.StorageKey}, nil); err != nil || remaining > 0 {
		logger.Warn("uploads: could not remove duplicate upload %s (remaining=%d): %v", in.StorageKey, remaining, err)
	}
	logger.Info("uploads: rejected duplicate of %s in %s (hash %s)", candidate, space, in.ContentHash)
	return metadata.NewDuplicateContentError(in.ContentHash, candidate)
}

func (s *Service) contentType(ctx context.Context, in ConfirmInput, info *blob.ObjectInfo) (string, error) {
	for _, ct := range []string{in.ContentType, info.ContentType} {
		if ct != "" && ct != genericContentType {
			return ct, nil
		}
	}

	body, _, err := s.blobs.Get(ctx, in.StorageKey)
	if err != nil {
		return "", fmt.Errorf("failed to read upload for type detection: %w", err)
	}
	defer body.Close()

	mt, err := mimetype.DetectReader(body)
	if err != nil {
		return "", fmt.Errorf("failed to detect type of %s: %w", in.StorageKey, err)
	}
	detected := mt.String()
	logger.Debug("uploads: detected %s for %s", detected, in.StorageKey)
	return detected, nil
}

// DownloadURL returns a presigned GET for an ACTIVE file's content.
func (s *Service) DownloadURL(ctx context.Context, space metadata.Space, fileID string) (string, time.Time, error) {
	file, err := s.dir.GetFile(ctx, space, fileID)
	if err != nil {
		return "", time.Time{}, err
	}
	if state := file.State(); state != metadata.StateActive {
		return "", time.Time{}, metadata.NewConflictError("file is not active", fileID, state)
	}
	url, err := s.blobs.PresignGet(ctx, file.StorageKey, s.ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign download: %w", err)
	}
	return url, s.dir.Now().Add(s.ttl), nil
}
