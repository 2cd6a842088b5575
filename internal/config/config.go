// Package config loads the daemon configuration: coded defaults,
// optionally overridden by a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "15m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type SessionConfig struct {
	MaxIdleTime   Duration `yaml:"max_idle_time"`
	WarningTime   Duration `yaml:"warning_time"`
	CheckInterval Duration `yaml:"check_interval"`
}

type Config struct {
	// StoragePath is the SQLite database file.
	StoragePath string `yaml:"storage_path"`

	// Namespace prefixes every storage key.
	Namespace string `yaml:"namespace"`

	// LogLevel is a zerolog level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Session SessionConfig `yaml:"session"`
}

// Default returns the built-in configuration. The database lives under
// the user's home directory.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		StoragePath: filepath.Join(home, ".vaultd", "vault.db"),
		Namespace:   "emberwallet",
		LogLevel:    "info",
		Session: SessionConfig{
			MaxIdleTime:   Duration(15 * time.Minute),
			WarningTime:   Duration(2 * time.Minute),
			CheckInterval: Duration(30 * time.Second),
		},
	}
}

// Load returns defaults overlaid with the YAML file at path. An empty
// path means defaults only; a named file must exist and parse.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if c.StoragePath == "" {
		return fmt.Errorf("storage_path must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
