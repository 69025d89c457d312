// Package s3 implements blob.Store on a versioned S3 bucket using the AWS SDK v2.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/blob"
)

// Config configures the S3 backend.
type Config struct {
	Bucket          string `mapstructure:"bucket" validate:"required"`
	Region          string `mapstructure:"region" validate:"required"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`

	// KeyPrefix is prepended to every object key.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Store is a blob.Store backed by S3. The bucket must have versioning enabled.
type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	keyPrefix string
}

// NewClient builds an S3 client from Config.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	// Static credentials when provided, otherwise the default chain.
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle || cfg.Endpoint != ""
	})
	return client, nil
}

// New creates an S3-backed store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("S3 blob store initialized: bucket=%s, region=%s, prefix=%s", cfg.Bucket, cfg.Region, cfg.KeyPrefix)
	return NewWithClient(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket, keyPrefix string) *Store {
	return &Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		keyPrefix: keyPrefix,
	}
}

func (s *Store) objectKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) logicalKey(objectKey string) string {
	return strings.TrimPrefix(objectKey, s.keyPrefix)
}

// isNotFound matches both typed and generic S3 not-found errors. HEAD
// responses carry no body, so they surface as a bare "NotFound" code.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchVersion", "MethodNotAllowed":
			return true
		}
	}
	return false
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*blob.ObjectInfo, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to put %s: %w", key, err)
	}
	return &blob.ObjectInfo{
		Key:          key,
		Size:         size,
		ETag:         trimETag(out.ETag),
		ContentType:  contentType,
		VersionID:    aws.ToString(out.VersionId),
		LastModified: time.Now(),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, *blob.ObjectInfo, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, fmt.Errorf("%s: %w", key, blob.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	info := &blob.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         trimETag(out.ETag),
		ContentType:  aws.ToString(out.ContentType),
		VersionID:    aws.ToString(out.VersionId),
		LastModified: aws.ToTime(out.LastModified),
	}
	return out.Body, info, nil
}

func (s *Store) Head(ctx context.Context, key string) (*blob.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, blob.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to head %s: %w", key, err)
	}
	if aws.ToBool(out.DeleteMarker) {
		return nil, fmt.Errorf("%s: %w", key, blob.ErrNotFound)
	}
	return &blob.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         trimETag(out.ETag),
		ContentType:  aws.ToString(out.ContentType),
		VersionID:    aws.ToString(out.VersionId),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// listVersions pages through ListObjectVersions for prefix. When exact is
// set only versions of exactly that key are kept.
func (s *Store) listVersions(ctx context.Context, prefix string, exact bool) ([]blob.Version, error) {
	objectPrefix := s.objectKey(prefix)
	input := &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(objectPrefix),
	}

	var out []blob.Version
	for {
		page, err := s.client.ListObjectVersions(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list versions of %s: %w", prefix, err)
		}
		for _, v := range page.Versions {
			if exact && aws.ToString(v.Key) != objectPrefix {
				continue
			}
			out = append(out, blob.Version{
				Key:          s.logicalKey(aws.ToString(v.Key)),
				VersionID:    aws.ToString(v.VersionId),
				IsLatest:     aws.ToBool(v.IsLatest),
				Size:         aws.ToInt64(v.Size),
				LastModified: aws.ToTime(v.LastModified),
			})
		}
		for _, m := range page.DeleteMarkers {
			if exact && aws.ToString(m.Key) != objectPrefix {
				continue
			}
			out = append(out, blob.Version{
				Key:          s.logicalKey(aws.ToString(m.Key)),
				VersionID:    aws.ToString(m.VersionId),
				IsLatest:     aws.ToBool(m.IsLatest),
				DeleteMarker: true,
				LastModified: aws.ToTime(m.LastModified),
			})
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		input.KeyMarker = page.NextKeyMarker
		input.VersionIdMarker = page.NextVersionIdMarker
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
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:    aws.String(s.bucket),
		Key:       aws.String(s.objectKey(key)),
		VersionId: aws.String(versionID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s@%s: %w", key, versionID, err)
	}
	return nil
}

func (s *Store) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign put %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign get %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *Store) SetTags(ctx context.Context, key string, tags map[string]string) error {
	tagSet := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(s.objectKey(key)),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", key, blob.ErrNotFound)
		}
		return fmt.Errorf("failed to tag %s: %w", key, err)
	}
	return nil
}

// EnsureVersioning enables bucket versioning if it is not already enabled.
func (s *Store) EnsureVersioning(ctx context.Context) error {
	out, err := s.client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("failed to read versioning of %s: %w", s.bucket, err)
	}
	if out.Status == types.BucketVersioningStatusEnabled {
		return nil
	}
	_, err = s.client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(s.bucket),
		VersioningConfiguration: &types.VersioningConfiguration{
			Status: types.BucketVersioningStatusEnabled,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable versioning on %s: %w", s.bucket, err)
	}
	logger.Info("S3: enabled versioning on bucket %s", s.bucket)
	return nil
}

var _ blob.Store = (*Store)(nil)
