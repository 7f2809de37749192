// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the hearth server.
//
// Configuration is loaded from a single file specified by:
//   - HEARTH_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
//
// Room presets are separate JSONC files under the configured preset
// directory; see [LoadPresets].
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a hearth server.
type Config struct {
	// ServerName is the domain this server is authoritative for. It
	// is the server part of every local user ID and the origin of
	// every locally created event. Required, immutable once the
	// server has created events.
	ServerName string `yaml:"server_name"`

	// Listen configures the client and federation HTTP listener.
	Listen ListenConfig `yaml:"listen"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Sync configures the long-poll sync engine.
	Sync SyncConfig `yaml:"sync"`

	// Federation configures the server-to-server exchange.
	Federation FederationConfig `yaml:"federation"`

	// Media configures the media store.
	Media MediaConfig `yaml:"media"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	// Address is the host:port to bind. Default: 127.0.0.1:8008.
	Address string `yaml:"address"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for hearth data.
	Root string `yaml:"root"`

	// State is where the signing key material lives.
	State string `yaml:"state"`

	// Events is the path of the event graph database file.
	Events string `yaml:"events"`

	// Media is the media store directory.
	Media string `yaml:"media"`

	// Presets is the directory of room preset JSONC files. Optional;
	// when empty only the built-in presets are available.
	Presets string `yaml:"presets"`
}

// SyncConfig configures the long-poll sync engine.
type SyncConfig struct {
	// Timeout is the default long-poll wait when the request does not
	// specify one. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// TimelineLimit caps the number of timeline events per room per
	// sync response. Default: 100.
	TimelineLimit int `yaml:"timeline_limit"`
}

// FederationConfig configures the server-to-server exchange.
type FederationConfig struct {
	// Enabled turns federation on. When false the server never sends
	// or accepts remote events. Default: true.
	Enabled bool `yaml:"enabled"`

	// MaxBackfillAttempts bounds admission retries when a received
	// event references unknown history. Default: 3.
	MaxBackfillAttempts int `yaml:"max_backfill_attempts"`

	// BackfillBackoff is the initial delay between failed backfill
	// rounds; it doubles per round. Default: 500ms.
	BackfillBackoff time.Duration `yaml:"backfill_backoff"`
}

// MediaConfig configures the media store.
type MediaConfig struct {
	// MaxUploadBytes caps a single upload. Default: 50 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// SealKeyFile is an optional path to a 32-byte key that seals
	// media blobs at rest. Empty means blobs are stored in the clear.
	SealKeyFile string `yaml:"seal_key_file"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`

	// Format is "text" or "json". Default: text.
	Format string `yaml:"format"`
}

// Default returns the default configuration. These defaults are the
// base before loading the config file; they exist to give every field
// a sensible zero-value, not as a fallback — the config file and its
// server_name are required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "hearth")

	return &Config{
		Listen: ListenConfig{
			Address: "127.0.0.1:8008",
		},
		Paths: PathsConfig{
			Root:   defaultRoot,
			State:  filepath.Join(defaultRoot, "state"),
			Events: filepath.Join(defaultRoot, "events.db"),
			Media:  filepath.Join(defaultRoot, "media"),
		},
		Sync: SyncConfig{
			Timeout:       30 * time.Second,
			TimelineLimit: 100,
		},
		Federation: FederationConfig{
			Enabled:             true,
			MaxBackfillAttempts: 3,
			BackfillBackoff:     500 * time.Millisecond,
		},
		Media: MediaConfig{
			MaxUploadBytes: 50 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the HEARTH_CONFIG environment
// variable. There are no fallbacks — if HEARTH_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("HEARTH_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("HEARTH_CONFIG environment variable not set; " +
			"set it to the path of your hearth.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values. The only expansion performed is ${HOME} and
// ${HEARTH_ROOT} in paths for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HEARTH_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["HEARTH_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Events = expandVars(c.Paths.Events, vars)
	c.Paths.Media = expandVars(c.Paths.Media, vars)
	c.Paths.Presets = expandVars(c.Paths.Presets, vars)
	c.Media.SealKeyFile = expandVars(c.Media.SealKeyFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerName == "" {
		errs = append(errs, fmt.Errorf("server_name is required"))
	}
	if c.Listen.Address == "" {
		errs = append(errs, fmt.Errorf("listen.address is required"))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Events == "" {
		errs = append(errs, fmt.Errorf("paths.events is required"))
	}
	if c.Sync.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sync.timeout must be positive"))
	}
	if c.Sync.TimelineLimit <= 0 {
		errs = append(errs, fmt.Errorf("sync.timeline_limit must be positive"))
	}
	if c.Federation.MaxBackfillAttempts <= 0 {
		errs = append(errs, fmt.Errorf("federation.max_backfill_attempts must be positive"))
	}
	if c.Media.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("media.max_upload_bytes must be positive"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: text, json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if they don't exist.
// The events path is a file; its parent directory is created.
func (c *Config) EnsurePaths() error {
	dirs := []string{
		c.Paths.Root,
		c.Paths.State,
		c.Paths.Media,
		filepath.Dir(c.Paths.Events),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
