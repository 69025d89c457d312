package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/blob"
	"github.com/marmos91/dittodrive/pkg/blob/memory"
	"github.com/marmos91/dittodrive/pkg/blob/minio"
	"github.com/marmos91/dittodrive/pkg/blob/s3"
	"github.com/marmos91/dittodrive/pkg/kv"
	kvbadger "github.com/marmos91/dittodrive/pkg/kv/badger"
	"github.com/marmos91/dittodrive/pkg/kv/postgres"
	queuebadger "github.com/marmos91/dittodrive/pkg/queue/badger"
)

// decodeOptions decodes a backend-specific options map. Durations may be
// given as strings ("5m") and scalars as strings, as they arrive from
// environment overrides.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return fmt.Errorf("failed to decode options: %w", err)
	}
	return nil
}

// CreateKVStore creates the metadata KV store based on configuration.
//
// Supported types:
//   - "badger": Uses pkg/kv/badger (embedded, persistent)
//   - "postgres": Uses pkg/kv/postgres (runs migrations unless skip_migrations)
func CreateKVStore(ctx context.Context, cfg *MetadataConfig) (kv.Store, error) {
	switch cfg.Type {
	case "badger":
		var storeCfg kvbadger.Config
		if err := decodeOptions(cfg.Badger, &storeCfg); err != nil {
			return nil, fmt.Errorf("badger metadata store: %w", err)
		}
		if storeCfg.DBPath == "" && !storeCfg.InMemory {
			return nil, fmt.Errorf("badger metadata store: db_path is required")
		}
		store, err := kvbadger.Open(ctx, storeCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Badger metadata store opened: path=%s in_memory=%v", storeCfg.DBPath, storeCfg.InMemory)
		return store, nil

	case "postgres":
		var storeCfg postgres.Config
		if err := decodeOptions(cfg.Postgres, &storeCfg); err != nil {
			return nil, fmt.Errorf("postgres metadata store: %w", err)
		}
		if storeCfg.DSN == "" {
			return nil, fmt.Errorf("postgres metadata store: dsn is required")
		}
		store, err := postgres.Open(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres metadata store: %w", err)
		}
		logger.Info("Postgres metadata store opened (max_open_conns=%d)", storeCfg.MaxOpenConns)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown metadata store type: %q (supported: badger, postgres)", cfg.Type)
	}
}

// CreateBlobStore creates the versioned blob store based on configuration.
//
// Supported types:
//   - "memory": Uses pkg/blob/memory (ephemeral, for development)
//   - "s3": Uses pkg/blob/s3 (Amazon S3 or compatible, bucket versioning required)
//   - "minio": Uses pkg/blob/minio (optionally creates a versioned bucket)
func CreateBlobStore(ctx context.Context, cfg *BlobConfig) (blob.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		logger.Warn("Using in-memory blob store: content is lost on restart")
		return memory.New(), nil

	case "s3":
		var storeCfg s3.Config
		if err := decodeOptions(cfg.S3, &storeCfg); err != nil {
			return nil, fmt.Errorf("s3 blob store: %w", err)
		}
		if storeCfg.Bucket == "" {
			return nil, fmt.Errorf("s3 blob store: bucket is required")
		}
		if storeCfg.Region == "" {
			return nil, fmt.Errorf("s3 blob store: region is required")
		}
		store, err := s3.New(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 blob store: %w", err)
		}
		return store, nil

	case "minio":
		var storeCfg minio.Config
		if err := decodeOptions(cfg.Minio, &storeCfg); err != nil {
			return nil, fmt.Errorf("minio blob store: %w", err)
		}
		if storeCfg.Endpoint == "" || storeCfg.Bucket == "" {
			return nil, fmt.Errorf("minio blob store: endpoint and bucket are required")
		}
		store, err := minio.New(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create minio blob store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown blob store type: %q (supported: memory, s3, minio)", cfg.Type)
	}
}

// CreateQueue opens the thumbnail job queue based on configuration.
func CreateQueue(ctx context.Context, cfg *QueueConfig) (*queuebadger.Queue, error) {
	switch cfg.Type {
	case "badger":
		var queueCfg queuebadger.Config
		if err := decodeOptions(cfg.Badger, &queueCfg); err != nil {
			return nil, fmt.Errorf("badger queue: %w", err)
		}
		if queueCfg.DBPath == "" && !queueCfg.InMemory {
			return nil, fmt.Errorf("badger queue: db_path is required")
		}
		q, err := queuebadger.Open(ctx, queueCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Badger queue opened: name=%s path=%s", queueCfg.Name, queueCfg.DBPath)
		return q, nil

	default:
		return nil, fmt.Errorf("unknown queue type: %q (supported: badger)", cfg.Type)
	}
}
