package thumbnail

import "time"

// Config contains configuration for the thumbnail pipeline.
type Config struct {
	// Enabled controls whether the worker consumes the queue (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MaxAttempts bounds retryable failures before dead-lettering (default: 5)
	MaxAttempts int `mapstructure:"max_attempts" validate:"omitempty,min=1,max=50" yaml:"max_attempts"`

	// BatchSize is the number of messages received per poll (default: 10)
	BatchSize int `mapstructure:"batch_size" validate:"omitempty,min=1,max=100" yaml:"batch_size"`

	// VisibilityTimeout hides a received message while it is processed (default: 5m)
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" yaml:"visibility_timeout"`

	// PollInterval is the pause after an empty receive (default: 2s)
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// MaxDimension bounds the thumbnail's long edge in pixels (default: 512)
	MaxDimension int `mapstructure:"max_dimension" validate:"omitempty,min=16,max=4096" yaml:"max_dimension"`

	// JPEGQuality is the encoder quality, 1-100 (default: 80)
	JPEGQuality int `mapstructure:"jpeg_quality" validate:"omitempty,min=1,max=100" yaml:"jpeg_quality"`

	// MaxSourceBytes bounds image sources read into memory (default: 64 MiB)
	MaxSourceBytes int64 `mapstructure:"max_source_bytes" validate:"omitempty,min=1" yaml:"max_source_bytes"`

	// FFmpegPath is the ffmpeg executable used for videos (default: "ffmpeg")
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`

	// SourceURLTTL is the lifetime of the presigned URL handed to ffmpeg (default: 15m)
	SourceURLTTL time.Duration `mapstructure:"source_url_ttl" yaml:"source_url_ttl"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxDimension <= 0 {
		c.MaxDimension = DefaultMaxDimension
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	if c.MaxSourceBytes <= 0 {
		c.MaxSourceBytes = 64 << 20
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.SourceURLTTL <= 0 {
		c.SourceURLTTL = 15 * time.Minute
	}
}
