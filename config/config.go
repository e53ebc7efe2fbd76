// Package config handles the orchestrator's operator-facing settings.
//
// Config is stored at $XDG_CONFIG_HOME/warden/config.yaml (defaults to
// ~/.config/warden/config.yaml). Missing file means defaults: an absent
// config must never block a deploy.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"warden/internal/trust"
)

// Quota is the session-wide resource budget. Memory is accepted in
// human form ("4g", "512m"); zero or empty means unlimited.
type Quota struct {
	MaxContainers int     `yaml:"max_containers,omitempty"`
	MaxMemory     string  `yaml:"max_memory,omitempty"`
	MaxCPUCores   float64 `yaml:"max_cpu_cores,omitempty"`
}

// Config is the operator configuration.
type Config struct {
	Quota Quota `yaml:"quota,omitempty"`

	// ApprovalTTLSeconds bounds how long a pending approval stays
	// actionable. Defaults to 300.
	ApprovalTTLSeconds int `yaml:"approval_ttl_seconds,omitempty"`

	// SignatureMode is one of off, opt_in, strict. Defaults to off.
	SignatureMode string `yaml:"signature_mode,omitempty"`

	// SnapshotDir stores volume snapshot archives. Defaults to
	// $XDG_DATA_HOME/warden/snapshots.
	SnapshotDir string `yaml:"snapshot_dir,omitempty"`

	// AuditDB is the sqlite audit trail location. Defaults to
	// $XDG_DATA_HOME/warden/audit.db. Set to "none" to log to stderr
	// only.
	AuditDB string `yaml:"audit_db,omitempty"`

	// BlueprintDir holds blueprint YAML files for the CLI's file-backed
	// resolver. Defaults to $XDG_CONFIG_HOME/warden/blueprints.
	BlueprintDir string `yaml:"blueprint_dir,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/warden/config.yaml.
func Path() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "warden")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "warden")
}

func dataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "share", "warden")
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "warden")
}

// Load reads the config file. A missing file yields defaults, not an
// error.
func Load() (*Config, error) {
	data, err := os.ReadFile(Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to disk, creating directories as needed.
func (c *Config) Save() error {
	p := Path()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the parseable-but-wrong cases: bad memory strings and
// unknown signature modes.
func (c *Config) Validate() error {
	if _, err := c.MaxMemoryBytes(); err != nil {
		return err
	}
	if _, err := trust.ParseSignatureMode(c.SignatureMode); err != nil {
		return err
	}
	return nil
}

// MaxMemoryBytes parses the quota's human-form memory ceiling. Empty
// means unlimited (0).
func (c *Config) MaxMemoryBytes() (int64, error) {
	if c.Quota.MaxMemory == "" {
		return 0, nil
	}
	bytes, err := units.RAMInBytes(c.Quota.MaxMemory)
	if err != nil {
		return 0, fmt.Errorf("parse quota max_memory %q: %w", c.Quota.MaxMemory, err)
	}
	return bytes, nil
}

// ApprovalTTL returns the configured approval lifetime.
func (c *Config) ApprovalTTL() time.Duration {
	if c.ApprovalTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ApprovalTTLSeconds) * time.Second
}

// SnapshotDirOrDefault resolves the snapshot archive directory.
func (c *Config) SnapshotDirOrDefault() string {
	if c.SnapshotDir != "" {
		return c.SnapshotDir
	}
	return filepath.Join(dataDir(), "snapshots")
}

// AuditDBOrDefault resolves the audit database path. Empty string means
// the operator opted out of persistence.
func (c *Config) AuditDBOrDefault() string {
	switch c.AuditDB {
	case "none":
		return ""
	case "":
		return filepath.Join(dataDir(), "audit.db")
	default:
		return c.AuditDB
	}
}

// BlueprintDirOrDefault resolves the blueprint directory.
func (c *Config) BlueprintDirOrDefault() string {
	if c.BlueprintDir != "" {
		return c.BlueprintDir
	}
	return filepath.Join(configDir(), "blueprints")
}
