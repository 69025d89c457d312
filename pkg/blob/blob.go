// Package blob defines the versioned object store holding file content and
// derived thumbnails.
//
// The metadata engine relies on versioning in two places: restore refuses to
// resurrect a file whose current version is gone, and purge must remove
// every version (and every delete marker) of a key before a file may be
// marked PURGED.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrNotFound indicates the key has no current version.
	ErrNotFound = errors.New("blob: object not found")

	// ErrTooLarge indicates an object exceeds a caller-imposed read bound.
	ErrTooLarge = errors.New("blob: object too large")
)

// Tag keys and values set on content blobs after lifecycle transitions.
// Bucket lifecycle rules may key off them.
const (
	TagLifecycle       = "lifecycle"
	TagLifecycleActive = "active"
	TagLifecycleTrash  = "trash"
)

// ObjectInfo describes the current version of an object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	VersionID    string
	LastModified time.Time
}

// Version is one entry of a key's version history.
type Version struct {
	Key          string
	VersionID    string
	IsLatest     bool
	DeleteMarker bool
	Size         int64
	LastModified time.Time
}

// Store is the versioned object store contract.
//
// Thread safety:
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes a new current version of key.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*ObjectInfo, error)

	// Get opens the current version of key. Returns ErrNotFound when the key
	// has no current version.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Head describes the current version of key or returns ErrNotFound.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// ListVersions returns every version and delete marker of exactly key.
	ListVersions(ctx context.Context, key string) ([]Version, error)

	// ListVersionsByPrefix returns every version and delete marker of every
	// key starting with prefix.
	ListVersionsByPrefix(ctx context.Context, prefix string) ([]Version, error)

	// DeleteVersion permanently removes one version (or delete marker).
	// Removing an already-removed version is not an error.
	DeleteVersion(ctx context.Context, key, versionID string) error

	// PresignPut returns a URL a client can upload key to directly.
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)

	// PresignGet returns a time-limited download URL for key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// SetTags replaces the tag set of the current version of key.
	SetTags(ctx context.Context, key string, tags map[string]string) error
}

// CurrentExists reports whether key has a current (non-delete-marker) version.
func CurrentExists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to head %s: %w", key, err)
	}
	return true, nil
}

// HasAnyVersion reports whether any data version of any of keys remains,
// current or not. Delete markers do not count.
func HasAnyVersion(ctx context.Context, s Store, keys ...string) (bool, error) {
	for _, key := range keys {
		versions, err := s.ListVersions(ctx, key)
		if err != nil {
			return false, fmt.Errorf("failed to list versions of %s: %w", key, err)
		}
		for _, v := range versions {
			if !v.DeleteMarker {
				return true, nil
			}
		}
	}
	return false, nil
}

// DeleteAllVersions removes every version and delete marker under keys and
// prefixes, then re-lists to confirm nothing remains.
//
// Returns the number of versions removed and the number still present after
// the sweep. remaining > 0 means the purge is incomplete.
func DeleteAllVersions(ctx context.Context, s Store, keys []string, prefixes []string) (deleted, remaining int, err error) {
	list := func() ([]Version, error) {
		var all []Version
		for _, key := range keys {
			versions, err := s.ListVersions(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to list versions of %s: %w", key, err)
			}
			all = append(all, versions...)
		}
		for _, prefix := range prefixes {
			versions, err := s.ListVersionsByPrefix(ctx, prefix)
			if err != nil {
				return nil, fmt.Errorf("failed to list versions under %s: %w", prefix, err)
			}
			all = append(all, versions...)
		}
		return all, nil
	}

	versions, err := list()
	if err != nil {
		return 0, 0, err
	}

	var firstErr error
	for _, v := range versions {
		if err := s.DeleteVersion(ctx, v.Key, v.VersionID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete %s@%s: %w", v.Key, v.VersionID, err)
			}
			continue
		}
		deleted++
	}

	left, err := list()
	if err != nil {
		return deleted, 0, err
	}
	if len(left) > 0 && firstErr != nil {
		return deleted, len(left), firstErr
	}
	return deleted, len(left), nil
}

// ReadAll reads the current version of key, refusing objects larger than maxBytes.
func ReadAll(ctx context.Context, s Store, key string, maxBytes int64) ([]byte, *ObjectInfo, error) {
	body, info, err := s.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer body.Close()

	if maxBytes > 0 && info.Size > maxBytes {
		return nil, info, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, key, info.Size, maxBytes)
	}

	reader := io.Reader(body)
	if maxBytes > 0 {
		reader = io.LimitReader(body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, info, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, info, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, key, maxBytes)
	}
	return data, info, nil
}
