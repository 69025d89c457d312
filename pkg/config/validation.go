package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittodrive/pkg/blob/minio"
	"github.com/marmos91/dittodrive/pkg/blob/s3"
	"github.com/marmos91/dittodrive/pkg/kv/postgres"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
//
// The backend-specific maps are decoded into their backend Config types and
// validated with those types' tags, so a missing bucket or DSN is reported
// at load time instead of when the store is opened.
func validateCustomRules(cfg *Config) error {
	switch cfg.Metadata.Type {
	case "postgres":
		var pg postgres.Config
		if err := decodeAndValidate("metadata.postgres", cfg.Metadata.Postgres, &pg); err != nil {
			return err
		}
	case "badger":
		if err := requireBadgerPath("metadata.badger", cfg.Metadata.Badger); err != nil {
			return err
		}
	}

	switch cfg.Blob.Type {
	case "s3":
		var s3Cfg s3.Config
		if err := decodeAndValidate("blob.s3", cfg.Blob.S3, &s3Cfg); err != nil {
			return err
		}
	case "minio":
		var minioCfg minio.Config
		if err := decodeAndValidate("blob.minio", cfg.Blob.Minio, &minioCfg); err != nil {
			return err
		}
	}

	if err := requireBadgerPath("queue.badger", cfg.Queue.Badger); err != nil {
		return err
	}

	if cfg.Metadata.Type == "badger" && !isInMemory(cfg.Metadata.Badger) && !isInMemory(cfg.Queue.Badger) &&
		cfg.Metadata.Badger["db_path"] == cfg.Queue.Badger["db_path"] {
		return fmt.Errorf("queue.badger: db_path must differ from metadata.badger.db_path")
	}

	if cfg.Purge.Enabled && cfg.Purge.Interval < time.Minute {
		return fmt.Errorf("purge: interval %s is below the 1m minimum", cfg.Purge.Interval)
	}

	return nil
}

func decodeAndValidate(section string, options map[string]any, out any) error {
	if err := decodeOptions(options, out); err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%s: %w", section, formatValidationError(err))
	}
	return nil
}

func requireBadgerPath(section string, options map[string]any) error {
	if isInMemory(options) {
		return nil
	}
	if path, _ := options["db_path"].(string); path == "" {
		return fmt.Errorf("%s: db_path is required unless in_memory is set", section)
	}
	return nil
}

func isInMemory(options map[string]any) bool {
	var flags struct {
		InMemory bool `mapstructure:"in_memory"`
	}
	_ = decodeOptions(options, &flags)
	return flags.InMemory
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
