// Package daemon manages the coordinator daemon's lifecycle and
// configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration, grounded on the teacher's
// daemon/config.go TOML-plus-struct-tags layout, re-keyed to the
// coordinator's own settings (spec §6 Configuration table).
type Config struct {
	API     APIConfig     `toml:"api"`
	Sweep   SweepConfig   `toml:"sweep"`
	Verify  VerifyConfig  `toml:"verify"`
	Secrets SecretsConfig `toml:"secrets"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SweepConfig controls HeartbeatSync's drain cap and the
// OfflineSweeper's period and silence threshold.
type SweepConfig struct {
	HeartbeatTimeoutMinutes int `toml:"heartbeat_timeout_minutes"`
	SweepIntervalSeconds    int `toml:"sweep_interval_seconds"`
	HeartbeatDrainCap       int `toml:"heartbeat_drain_cap"`
}

// VerifyConfig controls the proof-verification wall-clock budget.
type VerifyConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// SecretsConfig carries the external auth/DB secrets the coordinator
// never parses or validates itself (spec §1 scope) — passed through
// as opaque strings to whatever collaborator actually consumes them.
type SecretsConfig struct {
	JWTSigningKey string `toml:"jwt_signing_key"`
	DatabaseURL   string `toml:"database_url"`
}

// DefaultConfig returns the production defaults (spec §6).
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Sweep: SweepConfig{
			HeartbeatTimeoutMinutes: 5,
			SweepIntervalSeconds:    60,
			HeartbeatDrainCap:       8,
		},
		Verify: VerifyConfig{
			TimeoutSeconds: 30,
		},
	}
}

// LoadConfig reads config from $COORDINATOR_HOME/config.toml, falling
// back to defaults, then applies environment variable overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(CoordinatorHome(), "config.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NODE_HEARTBEAT_TIMEOUT_MINUTES"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.Sweep.HeartbeatTimeoutMinutes = n
		}
	}
	if v := os.Getenv("NODE_OFFLINE_SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.Sweep.SweepIntervalSeconds = n
		}
	}
	if v := os.Getenv("HEARTBEAT_DRAIN_CAP"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.Sweep.HeartbeatDrainCap = n
		}
	}
	if v := os.Getenv("ZK_VERIFY_TIMEOUT_SECONDS"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.Verify.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("COORDINATOR_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("COORDINATOR_API_PORT"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.API.Port = n
		}
	}
	if v := os.Getenv("COORDINATOR_JWT_SIGNING_KEY"); v != "" {
		cfg.Secrets.JWTSigningKey = v
	}
	if v := os.Getenv("COORDINATOR_DATABASE_URL"); v != "" {
		cfg.Secrets.DatabaseURL = v
	}
}

func parseIntEnv(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// HeartbeatTimeout returns the configured silence threshold as a duration.
func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Sweep.HeartbeatTimeoutMinutes) * time.Minute
}

// SweepInterval returns the configured sweep period as a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.SweepIntervalSeconds) * time.Second
}

// VerifyTimeout returns the configured proof-verification budget as a duration.
func (c Config) VerifyTimeout() time.Duration {
	return time.Duration(c.Verify.TimeoutSeconds) * time.Second
}

// CoordinatorHome returns the coordinator's data directory,
// $COORDINATOR_HOME or ~/.coordinator.
func CoordinatorHome() string {
	if env := os.Getenv("COORDINATOR_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".coordinator")
}
