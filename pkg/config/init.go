package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoDrive Configuration File
#
# Every key can be overridden from the environment with the DITTODRIVE_
# prefix, e.g. DITTODRIVE_LOGGING_LEVEL=DEBUG or DITTODRIVE_PURGE_DRY_RUN=true.
`

// sectionComments documents the top-level sections of a generated file.
var sectionComments = map[string]string{
	"logging":   "Logging: level DEBUG|INFO|WARN|ERROR, format text|json, output stdout|stderr|<path>",
	"server":    "Process settings",
	"metrics":   "Prometheus /metrics and /healthz endpoint",
	"metadata":  "Namespace store: type badger|postgres; only the matching section is used",
	"blob":      "Versioned content store: type memory|s3|minio; the bucket must have versioning enabled",
	"queue":     "Thumbnail job queue",
	"lifecycle": "Trash retention applied when a caller does not pass one",
	"uploads":   "Lifetime of presigned upload and download URLs",
	"purge":     "Purge reconciler: hard-deletes trashed files whose retention elapsed",
	"thumbnail": "Thumbnail worker: retries back off from 30s doubling up to 15m",
	"repair":    "Defaults of the repair jobs (overridable with CLI flags)",
}

// InitConfig writes a commented default configuration to the default
// location and returns its path. An existing file is only replaced when
// force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration to path,
// creating parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above each top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// doc is a mapping node: keys at even indexes, values at odd ones
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if comment, ok := sectionComments[doc.Content[i].Value]; ok {
			doc.Content[i].HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}

	return buf.String(), nil
}

// Render returns cfg as YAML, for `config show`.
func Render(cfg *Config) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(out), nil
}
