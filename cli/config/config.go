package config

import (
	"fmt"
	"time"
)

// Config represents a folio.yaml configuration file.
// All values are optional and act as defaults for folio flags.
// CLI flags always override config values.
type Config struct {
	// Session is an optional fixed session id.
	Session string        `yaml:"session"`
	Kernel  KernelConfig  `yaml:"kernel"`
	Watcher WatcherConfig `yaml:"watcher"`
	Adapter AdapterConfig `yaml:"adapter"`
}

// KernelConfig holds kernel launch defaults from the config file.
type KernelConfig struct {
	// Path is the kernel binary.
	Path string `yaml:"path"`
	// Args are extra arguments passed to the kernel.
	Args []string `yaml:"args"`
}

// WatcherConfig holds file watching defaults from the config file.
type WatcherConfig struct {
	// Debounce coalesces editor write bursts (default 100ms).
	Debounce Duration `yaml:"debounce"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
