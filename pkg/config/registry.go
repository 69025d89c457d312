package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/blob"
	"github.com/marmos91/dittodrive/pkg/kv"
	queuebadger "github.com/marmos91/dittodrive/pkg/queue/badger"
)

// Stores holds the backends opened from configuration.
type Stores struct {
	KV    kv.Store
	Blobs blob.Store
	Queue *queuebadger.Queue
}

// InitializeStores opens every backend named by cfg.
//
// Backends are opened in dependency order (KV, blob, queue). If any of them
// fails, the ones already opened are closed before the error is returned.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	stores, err := config.InitializeStores(ctx, cfg)
//	if err != nil {
//	    log.Fatalf("Failed to open stores: %v", err)
//	}
//	defer stores.Close()
func InitializeStores(ctx context.Context, cfg *Config) (*Stores, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	logger.Debug("Initializing stores (metadata=%s blob=%s queue=%s)", cfg.Metadata.Type, cfg.Blob.Type, cfg.Queue.Type)

	stores := &Stores{}

	store, err := CreateKVStore(ctx, &cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata store: %w", err)
	}
	stores.KV = store

	blobs, err := CreateBlobStore(ctx, &cfg.Blob)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}
	stores.Blobs = blobs

	q, err := CreateQueue(ctx, &cfg.Queue)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	stores.Queue = q

	return stores, nil
}

// Close releases every opened backend. Blob stores hold no resources.
func (s *Stores) Close() error {
	var errs []error
	if s.Queue != nil {
		if err := s.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if s.KV != nil {
		if err := s.KV.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close metadata store: %w", err))
		}
	}
	return errors.Join(errs...)
}
