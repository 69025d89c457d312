// Package memory implements an in-process versioned blob.Store.
//
// Semantics follow a versioned S3 bucket: every Put creates a new version,
// Remove adds a delete marker, and DeleteVersion permanently drops one
// version or marker. Intended for tests and local runs.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/blob"
)

type version struct {
	id           string
	data         []byte
	contentType  string
	etag         string
	deleteMarker bool
	modified     time.Time
	tags         map[string]string
}

// Store is an in-memory versioned object store.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]*version // oldest first
	nextID  uint64
	baseURL string
	now     func() time.Time

	// FailDelete, when set, is consulted before each DeleteVersion. A
	// non-nil result is returned instead of deleting.
	FailDelete func(key, versionID string) error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		objects: make(map[string][]*version),
		baseURL: "memory://blobs",
		now:     time.Now,
	}
}

func (s *Store) current(key string) *version {
	versions := s.objects[key]
	if len(versions) == 0 {
		return nil
	}
	latest := versions[len(versions)-1]
	if latest.deleteMarker {
		return nil
	}
	return latest
}

func (s *Store) newVersionID() string {
	s.nextID++
	return strconv.FormatUint(s.nextID, 10)
}

func (s *Store) info(key string, v *version) *blob.ObjectInfo {
	return &blob.ObjectInfo{
		Key:          key,
		Size:         int64(len(v.data)),
		ETag:         v.etag,
		ContentType:  v.contentType,
		VersionID:    v.id,
		LastModified: v.modified,
	}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*blob.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch for %s: declared %d, got %d", key, size, len(data))
	}

	sum := md5.Sum(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	v := &version{
		id:          s.newVersionID(),
		data:        data,
		contentType: contentType,
		etag:        hex.EncodeToString(sum[:]),
		modified:    s.now(),
	}
	s.objects[key] = append(s.objects[key], v)
	return s.info(key, v), nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, *blob.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.current(key)
	if v == nil {
		return nil, nil, fmt.Errorf("%s: %w", key, blob.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(v.data)), s.info(key, v), nil
}

func (s *Store) Head(ctx context.Context, key string) (*blob.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.current(key)
	if v == nil {
		return nil, fmt.Errorf("%s: %w", key, blob.ErrNotFound)
	}
	return s.info(key, v), nil
}

func (s *Store) listLocked(key string) []blob.Version {
	versions := s.objects[key]
	out := make([]blob.Version, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		out = append(out, blob.Version{
			Key:          key,
			VersionID:    v.id,
			IsLatest:     i == len(versions)-1,
			DeleteMarker: v.deleteMarker,
			Size:         int64(len(v.data)),
			LastModified: v.modified,
		})
	}
	return out
}

func (s *Store) ListVersions(ctx context.Context, key string) ([]blob.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(key), nil
}

func (s *Store) ListVersionsByPrefix(ctx context.Context, prefix string) ([]blob.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []blob.Version
	for _, key := range keys {
		out = append(out, s.listLocked(key)...)
	}
	return out, nil
}

func (s *Store) DeleteVersion(ctx context.Context, key, versionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailDelete != nil {
		if err := s.FailDelete(key, versionID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.objects[key]
	for i, v := range versions {
		if v.id == versionID {
			s.objects[key] = append(versions[:i:i], versions[i+1:]...)
			break
		}
	}
	if len(s.objects[key]) == 0 {
		delete(s.objects, key)
	}
	return nil
}

// Remove places a delete marker on key, hiding its current version while
// keeping older versions, like an unversioned DELETE on a versioned bucket.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = append(s.objects[key], &version{
		id:           s.newVersionID(),
		deleteMarker: true,
		modified:     s.now(),
	})
	return nil
}

func (s *Store) presign(method, key string, ttl time.Duration) string {
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", strconv.FormatInt(s.now().Add(ttl).Unix(), 10))
	return s.baseURL + "/" + url.PathEscape(key) + "?" + q.Encode()
}

func (s *Store) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return s.presign("PUT", key, ttl), ctx.Err()
}

func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return s.presign("GET", key, ttl), ctx.Err()
}

func (s *Store) SetTags(ctx context.Context, key string, tags map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.current(key)
	if v == nil {
		return fmt.Errorf("%s: %w", key, blob.ErrNotFound)
	}
	v.tags = make(map[string]string, len(tags))
	for k, val := range tags {
		v.tags[k] = val
	}
	return nil
}

// Tags returns a copy of the current version's tags.
func (s *Store) Tags(key string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.current(key)
	if v == nil {
		return nil
	}
	out := make(map[string]string, len(v.tags))
	for k, val := range v.tags {
		out[k] = val
	}
	return out
}

// VersionCount returns the number of versions and markers stored for key.
func (s *Store) VersionCount(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects[key])
}

var _ blob.Store = (*Store)(nil)
