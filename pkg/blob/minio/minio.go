// Package minio implements blob.Store on MinIO (or any S3-compatible
// endpoint) using minio-go.
package minio

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/blob"
)

// Config configures the MinIO backend.
type Config struct {
	// Endpoint without scheme, e.g. "localhost:9000".
	Endpoint  string `mapstructure:"endpoint" validate:"required"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket" validate:"required"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`

	// CreateBucket creates the bucket (with versioning) when missing.
	CreateBucket bool `mapstructure:"create_bucket"`
}

// Store is a blob.Store backed by a MinIO bucket with versioning enabled.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and optionally prepares the bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &Store{client: client, bucket: cfg.Bucket}
	if cfg.CreateBucket {
		if err := s.ensureBucket(ctx, cfg.Region); err != nil {
			return nil, err
		}
	}

	logger.Info("MinIO blob store initialized: endpoint=%s, bucket=%s", cfg.Endpoint, cfg.Bucket)
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	if err := s.client.EnableVersioning(ctx, s.bucket); err != nil {
		return fmt.Errorf("enable versioning: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchVersion", "NotFound", "MethodNotAllowed":
		return true
	}
	return false
}

func toInfo(key string, oi minio.ObjectInfo) *blob.ObjectInfo {
	return &blob.ObjectInfo{
		Key:          key,
		Size:         oi.Size,
		ETag:         oi.ETag,
		ContentType:  oi.ContentType,
		VersionID:    oi.VersionID,
		LastModified: oi.LastModified,
	}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*blob.ObjectInfo, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}
	return &blob.ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  contentType,
		VersionID:    info.VersionID,
		LastModified: info.LastModified,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, *blob.ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object %s: %w", key, err)
	}

	// GetObject is lazy; Stat surfaces a missing key.
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, nil, fmt.Errorf("%s: %w", key, blob.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	if stat.IsDeleteMarker {
		obj.Close()
		return nil, nil, fmt.Errorf("%s: %w", key, blob.ErrNotFound)
	}
	return obj, toInfo(key, stat), nil
}

func (s *Store) Head(ctx context.Context, key string) (*blob.ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, blob.ErrNotFound)
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	if stat.IsDeleteMarker {
		return nil, fmt.Errorf("%s: %w", key, blob.ErrNotFound)
	}
	return toInfo(key, stat), nil
}

func (s *Store) listVersions(ctx context.Context, prefix string, exact bool) ([]blob.Version, error) {
	var out []blob.Version
	for oi := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithVersions: true,
	}) {
		if oi.Err != nil {
			return nil, fmt.Errorf("list versions of %s: %w", prefix, oi.Err)
		}
		if exact && oi.Key != prefix {
			continue
		}
		out = append(out, blob.Version{
			Key:          oi.Key,
			VersionID:    oi.VersionID,
			IsLatest:     oi.IsLatest,
			DeleteMarker: oi.IsDeleteMarker,
			Size:         oi.Size,
			LastModified: oi.LastModified,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out, nil
}

func (s *Store) ListVersions(ctx context.Context, key string) ([]blob.Version, error) {
	return s.listVersions(ctx, key, true)
}

func (s *Store) ListVersionsByPrefix(ctx context.Context, prefix string) ([]blob.Version, error) {
	return s.listVersions(ctx, prefix, false)
}

func (s *Store) DeleteVersion(ctx context.Context, key, versionID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{VersionID: versionID})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remove object %s@%s: %w", key, versionID, err)
	}
	return nil
}

func (s *Store) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *Store) SetTags(ctx context.Context, key string, tagMap map[string]string) error {
	t, err := tags.NewTags(tagMap, true)
	if err != nil {
		return fmt.Errorf("build tags for %s: %w", key, err)
	}
	if err := s.client.PutObjectTagging(ctx, s.bucket, key, t, minio.PutObjectTaggingOptions{}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", key, blob.ErrNotFound)
		}
		return fmt.Errorf("put object tagging %s: %w", key, err)
	}
	return nil
}

var _ blob.Store = (*Store)(nil)
