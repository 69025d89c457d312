package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/lifecycle"
	"github.com/marmos91/dittodrive/pkg/uploads"
)

// defaultDataDir is where the Badger backends keep their files by default.
var defaultDataDir = filepath.Join(".", "data")

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "") are replaced with defaults
//   - Explicit values are preserved
//   - Boolean toggles are defaulted by Load and GetDefaultConfig, since false
//     cannot be told apart from unset here
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyMetadataDefaults(&cfg.Metadata)
	applyBlobDefaults(&cfg.Blob)
	applyQueueDefaults(&cfg.Queue)
	applyLifecycleDefaults(&cfg.Lifecycle)
	applyUploadsDefaults(&cfg.Uploads)
	applyRepairDefaults(&cfg.Repair)

	cfg.Purge.ApplyDefaults()
	cfg.Thumbnail.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyMetadataDefaults sets KV backend defaults.
func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Postgres == nil {
		cfg.Postgres = make(map[string]any)
	}

	// Defaults for every backend so generated config files are complete
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(defaultDataDir, "metadata")
	}
	if _, ok := cfg.Postgres["max_open_conns"]; !ok {
		cfg.Postgres["max_open_conns"] = 16
	}
}

// applyBlobDefaults sets blob backend defaults.
func applyBlobDefaults(cfg *BlobConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if cfg.Minio == nil {
		cfg.Minio = make(map[string]any)
	}

	if _, ok := cfg.S3["region"]; !ok {
		cfg.S3["region"] = "us-east-1"
	}
	if _, ok := cfg.Minio["endpoint"]; !ok {
		cfg.Minio["endpoint"] = "localhost:9000"
	}
}

// applyQueueDefaults sets queue backend defaults.
func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(defaultDataDir, "queue")
	}
	if _, ok := cfg.Badger["name"]; !ok {
		cfg.Badger["name"] = "thumbnails"
	}
}

func applyLifecycleDefaults(cfg *LifecycleConfig) {
	if cfg.Retention == 0 {
		cfg.Retention = lifecycle.DefaultRetention
	}
}

func applyUploadsDefaults(cfg *UploadsConfig) {
	if cfg.URLTTL == 0 {
		cfg.URLTTL = uploads.DefaultURLTTL
	}
}

func applyRepairDefaults(cfg *RepairConfig) {
	if cfg.PageSize == 0 {
		cfg.PageSize = kv.DefaultQueryLimit
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Purge.Enabled = true
	cfg.Purge.HardDeleteDue = true
	cfg.Thumbnail.Enabled = true

	ApplyDefaults(cfg)
	return cfg
}
