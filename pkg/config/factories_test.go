package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/dittodrive/pkg/blob/memory"
)

func TestCreateKVStore_Badger(t *testing.T) {
	cfg := &MetadataConfig{
		Type:   "badger",
		Badger: map[string]any{"db_path": filepath.Join(t.TempDir(), "meta"), "sync_writes": "true"},
	}

	store, err := CreateKVStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create badger store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCreateKVStore_BadgerMissingPath(t *testing.T) {
	_, err := CreateKVStore(context.Background(), &MetadataConfig{Type: "badger", Badger: map[string]any{}})
	if err == nil {
		t.Fatal("Expected error for missing db_path")
	}
	if !strings.Contains(err.Error(), "db_path is required") {
		t.Errorf("Expected 'db_path is required' error, got: %v", err)
	}
}

func TestCreateKVStore_PostgresMissingDSN(t *testing.T) {
	_, err := CreateKVStore(context.Background(), &MetadataConfig{Type: "postgres", Postgres: map[string]any{}})
	if err == nil || !strings.Contains(err.Error(), "dsn is required") {
		t.Fatalf("Expected 'dsn is required' error, got: %v", err)
	}
}

func TestCreateKVStore_UnknownType(t *testing.T) {
	_, err := CreateKVStore(context.Background(), &MetadataConfig{Type: "etcd"})
	if err == nil || !strings.Contains(err.Error(), "unknown metadata store type") {
		t.Fatalf("Expected unknown type error, got: %v", err)
	}
}

func TestCreateBlobStore_Memory(t *testing.T) {
	store, err := CreateBlobStore(context.Background(), &BlobConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create memory blob store: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Errorf("Expected *memory.Store, got %T", store)
	}
}

func TestCreateBlobStore_MissingBucket(t *testing.T) {
	tests := []struct {
		name string
		cfg  *BlobConfig
		want string
	}{
		{"s3", &BlobConfig{Type: "s3", S3: map[string]any{"region": "eu-west-1"}}, "bucket is required"},
		{"s3 without region", &BlobConfig{Type: "s3", S3: map[string]any{"bucket": "b"}}, "region is required"},
		{"minio", &BlobConfig{Type: "minio", Minio: map[string]any{"endpoint": "localhost:9000"}}, "endpoint and bucket are required"},
		{"unknown", &BlobConfig{Type: "gcs"}, "unknown blob store type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateBlobStore(context.Background(), tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Expected %q error, got: %v", tt.want, err)
			}
		})
	}
}

func TestCreateBlobStore_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := CreateBlobStore(ctx, &BlobConfig{Type: "memory"}); err == nil {
		t.Fatal("Expected error for canceled context")
	}
}

func TestCreateQueue_InMemory(t *testing.T) {
	q, err := CreateQueue(context.Background(), &QueueConfig{
		Type:   "badger",
		Badger: map[string]any{"in_memory": true, "name": "thumbnails"},
	})
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	defer func() { _ = q.Close() }()

	if _, err := q.Send(context.Background(), []byte("job"), 0); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	n, err := q.Len(context.Background())
	if err != nil || n != 1 {
		t.Errorf("Expected 1 queued message, got %d (%v)", n, err)
	}
}

func TestInitializeStores(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metadata.Badger = map[string]any{"in_memory": true}
	cfg.Queue.Badger = map[string]any{"in_memory": true, "name": "thumbnails"}

	stores, err := InitializeStores(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitializeStores failed: %v", err)
	}
	if stores.KV == nil || stores.Blobs == nil || stores.Queue == nil {
		t.Fatalf("Expected every store to be opened, got %+v", stores)
	}
	if err := stores.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestInitializeStores_ClosesOnFailure(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metadata.Badger = map[string]any{"in_memory": true}
	cfg.Blob.Type = "gcs"

	if _, err := InitializeStores(context.Background(), cfg); err == nil {
		t.Fatal("Expected error for unknown blob type")
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	res := InitializeMetrics(GetDefaultConfig())
	if res.Server != nil {
		t.Error("Expected no metrics server when disabled")
	}
	if res.Lifecycle == nil || res.Purge == nil || res.Thumbnail == nil || res.Repair == nil {
		t.Error("Expected no-op collectors when disabled")
	}
}
