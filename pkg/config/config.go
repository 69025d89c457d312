package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/dittodrive/pkg/purge"
	"github.com/marmos91/dittodrive/pkg/thumbnail"
)

// Config represents the complete DittoDrive configuration.
//
// This structure captures all configurable aspects of the lifecycle engine:
//   - Logging and process settings
//   - Metadata (KV) backend selection and backend-specific options
//   - Blob backend selection and backend-specific options
//   - Queue backend for the thumbnail pipeline
//   - Lifecycle, purge, thumbnail, upload and repair tuning
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTODRIVE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend defines its own configuration type. The sections below carry
// type-specific maps (e.g. blob.s3, blob.minio) and only the map matching the
// selected type is decoded, by the factories in this package.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Metadata selects the KV backend holding the namespace
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Blob selects the versioned object store holding content
	Blob BlobConfig `mapstructure:"blob" yaml:"blob"`

	// Queue selects the thumbnail job queue backend
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// Lifecycle holds trash settings
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" yaml:"lifecycle"`

	// Uploads holds presigned upload settings
	Uploads UploadsConfig `mapstructure:"uploads" yaml:"uploads"`

	// Purge configures the purge reconciler
	Purge purge.Config `mapstructure:"purge" yaml:"purge"`

	// Thumbnail configures the thumbnail pipeline
	Thumbnail thumbnail.Config `mapstructure:"thumbnail" yaml:"thumbnail"`

	// Repair configures the consistency repair jobs
	Repair RepairConfig `mapstructure:"repair" yaml:"repair"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// MetricsConfig controls the metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns on Prometheus collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of /metrics and /healthz
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// MetadataConfig specifies the KV backend.
//
// The Type field determines which backend is used. Only the corresponding
// type-specific map is decoded.
type MetadataConfig struct {
	// Type specifies which KV backend to use
	// Valid values: badger, postgres
	Type string `mapstructure:"type" validate:"required,oneof=badger postgres" yaml:"type"`

	// Badger contains BadgerDB-specific configuration (kv/badger.Config)
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// Postgres contains PostgreSQL-specific configuration (kv/postgres.Config)
	// Only used when Type = "postgres"
	Postgres map[string]any `mapstructure:"postgres" yaml:"postgres"`
}

// BlobConfig specifies the versioned blob backend.
type BlobConfig struct {
	// Type specifies which blob backend to use
	// Valid values: memory, s3, minio
	Type string `mapstructure:"type" validate:"required,oneof=memory s3 minio" yaml:"type"`

	// S3 contains S3-specific configuration (blob/s3.Config)
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`

	// Minio contains MinIO-specific configuration (blob/minio.Config)
	// Only used when Type = "minio"
	Minio map[string]any `mapstructure:"minio" yaml:"minio"`
}

// QueueConfig specifies the thumbnail queue backend.
type QueueConfig struct {
	// Type specifies which queue backend to use
	// Valid values: badger
	Type string `mapstructure:"type" validate:"required,oneof=badger" yaml:"type"`

	// Badger contains configuration of the Badger queue (queue/badger.Config)
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// LifecycleConfig holds trash settings.
type LifecycleConfig struct {
	// Retention is how long trashed files are kept before purge
	Retention time.Duration `mapstructure:"retention" validate:"gte=0" yaml:"retention"`
}

// UploadsConfig holds presigned URL settings.
type UploadsConfig struct {
	// URLTTL is the lifetime of presigned upload and download URLs
	URLTTL time.Duration `mapstructure:"url_ttl" validate:"gte=0" yaml:"url_ttl"`
}

// RepairConfig holds defaults of the repair jobs; CLI flags override them.
type RepairConfig struct {
	// PageSize is the number of rows read per query
	PageSize int `mapstructure:"page_size" validate:"omitempty,min=1,max=1000" yaml:"page_size"`

	// Rate bounds scanned rows per second (0 = unlimited)
	Rate uint `mapstructure:"rate" yaml:"rate"`
}

// envPrefix is the prefix of environment overrides, e.g.
// DITTODRIVE_LOGGING_LEVEL=DEBUG.
const envPrefix = "DITTODRIVE"

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTODRIVE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables, defaults and
// config file settings.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Boolean toggles whose zero value is not the default, and keys that
	// must be overridable from the environment without a config file.
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metadata.type", "badger")
	v.SetDefault("blob.type", "memory")
	v.SetDefault("queue.type", "badger")
	v.SetDefault("purge.enabled", true)
	v.SetDefault("purge.hard_delete_due", true)
	v.SetDefault("purge.dry_run", false)
	v.SetDefault("thumbnail.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittodrive/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittodrive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittodrive")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
