// Package config defines the Armada control-plane configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fleetsmith/armada/policy"
)

// Config is the top-level Armada configuration.
type Config struct {
	Server   ServerConfig `json:"server" yaml:"server"`
	Auth     AuthConfig   `json:"auth" yaml:"auth"`
	DataDir  string       `json:"data_dir" yaml:"data_dir"`
	LogLevel string       `json:"log_level" yaml:"log_level"`
	Policy   []policy.Rule `json:"policy,omitempty" yaml:"policy"`
	Sweep    SweepConfig   `json:"sweep" yaml:"sweep"`
	Health   HealthConfig  `json:"health" yaml:"health"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user"`
	AdminPass string `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash
}

// SweepConfig controls the daemon's periodic task timeout sweep.
type SweepConfig struct {
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`
}

// HealthConfig controls batched fleet health checks.
type HealthConfig struct {
	BatchSize         int `json:"batch_size" yaml:"batch_size"`
	BatchPauseSeconds int `json:"batch_pause_seconds" yaml:"batch_pause_seconds"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		DataDir:  "./data",
		LogLevel: "info",
		Sweep: SweepConfig{
			IntervalSeconds: 30,
		},
		Health: HealthConfig{
			BatchSize:         4,
			BatchPauseSeconds: 0,
		},
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// TaskDBPath returns the path of the task database under the data dir.
func (c *Config) TaskDBPath() string { return filepath.Join(c.DataDir, "tasks.db") }

// FleetDBPath returns the path of the agent roster database under the data dir.
func (c *Config) FleetDBPath() string { return filepath.Join(c.DataDir, "fleet.db") }

// AuditDBPath returns the path of the audit log database under the data dir.
func (c *Config) AuditDBPath() string { return filepath.Join(c.DataDir, "audit.db") }

// VaultPath returns the path of the encrypted secret vault under the data dir.
func (c *Config) VaultPath() string { return filepath.Join(c.DataDir, "vault.json") }
