package config

import (
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/uploads"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "debug"
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Backends(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Metadata.Type != "badger" {
		t.Errorf("Expected default metadata type 'badger', got %q", cfg.Metadata.Type)
	}
	if _, ok := cfg.Metadata.Badger["db_path"]; !ok {
		t.Error("Expected default badger db_path")
	}
	if cfg.Metadata.Postgres["max_open_conns"] != 16 {
		t.Errorf("Expected default max_open_conns 16, got %v", cfg.Metadata.Postgres["max_open_conns"])
	}
	if cfg.Blob.Type != "memory" {
		t.Errorf("Expected default blob type 'memory', got %q", cfg.Blob.Type)
	}
	if cfg.Blob.S3["region"] != "us-east-1" {
		t.Errorf("Expected default s3 region, got %v", cfg.Blob.S3["region"])
	}
	if cfg.Queue.Type != "badger" || cfg.Queue.Badger["name"] != "thumbnails" {
		t.Errorf("Expected badger queue named thumbnails, got %q %v", cfg.Queue.Type, cfg.Queue.Badger["name"])
	}
}

func TestApplyDefaults_Engine(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Uploads.URLTTL != uploads.DefaultURLTTL {
		t.Errorf("Expected default url_ttl, got %v", cfg.Uploads.URLTTL)
	}
	if cfg.Repair.PageSize != kv.DefaultQueryLimit {
		t.Errorf("Expected default repair page size, got %d", cfg.Repair.PageSize)
	}
	if cfg.Purge.PageSize != kv.DefaultQueryLimit || cfg.Purge.MaxPages != 50 {
		t.Errorf("Expected purge paging defaults, got %d/%d", cfg.Purge.PageSize, cfg.Purge.MaxPages)
	}
	if cfg.Thumbnail.VisibilityTimeout != 5*time.Minute {
		t.Errorf("Expected default visibility timeout 5m, got %v", cfg.Thumbnail.VisibilityTimeout)
	}
	if cfg.Thumbnail.FFmpegPath != "ffmpeg" {
		t.Errorf("Expected default ffmpeg path, got %q", cfg.Thumbnail.FFmpegPath)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging:   LoggingConfig{Level: "WARN", Format: "json", Output: "stderr"},
		Server:    ServerConfig{ShutdownTimeout: time.Minute},
		Metadata:  MetadataConfig{Type: "postgres", Postgres: map[string]any{"dsn": "postgres://x", "max_open_conns": 4}},
		Lifecycle: LifecycleConfig{Retention: 48 * time.Hour},
		Repair:    RepairConfig{PageSize: 7, Rate: 50},
	}
	cfg.Thumbnail.MaxAttempts = 9
	ApplyDefaults(cfg)

	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Expected explicit logging values kept, got %+v", cfg.Logging)
	}
	if cfg.Server.ShutdownTimeout != time.Minute {
		t.Errorf("Expected shutdown timeout 1m, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Metadata.Type != "postgres" || cfg.Metadata.Postgres["max_open_conns"] != 4 {
		t.Errorf("Expected explicit postgres settings kept, got %+v", cfg.Metadata)
	}
	if cfg.Lifecycle.Retention != 48*time.Hour {
		t.Errorf("Expected retention 48h, got %v", cfg.Lifecycle.Retention)
	}
	if cfg.Repair.PageSize != 7 || cfg.Repair.Rate != 50 {
		t.Errorf("Expected explicit repair settings kept, got %+v", cfg.Repair)
	}
	if cfg.Thumbnail.MaxAttempts != 9 {
		t.Errorf("Expected max_attempts 9, got %d", cfg.Thumbnail.MaxAttempts)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
}
