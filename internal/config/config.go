// Package config loads dealflow configuration: built-in defaults, an
// optional YAML file, then DEALFLOW_* environment variables, later sources
// overriding earlier ones.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file consulted when none is given.
const DefaultConfigFile = "dealflow.yaml"

// Config is the full dealflow configuration.
type Config struct {
	Database DatabaseConfig      `yaml:"database"`
	Server   ServerConfig        `yaml:"server"`
	Engine   EngineConfig        `yaml:"engine"`
	Roles    map[string][]string `yaml:"roles,omitempty"` // overrides built-in role patterns
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Dialect string `yaml:"dialect"` // "sqlite" or "postgres"
	DSN     string `yaml:"dsn"`     // file path for sqlite, conn string for postgres
}

// ServerConfig configures the HTTP trigger API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// EngineConfig tunes the instantiation engine.
type EngineConfig struct {
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	Parallelism   int           `yaml:"parallelism"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dialect: "sqlite",
			DSN:     ".dealflow/dealflow.db",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8717",
		},
		Engine: EngineConfig{
			LookupTimeout: 5 * time.Second,
			Parallelism:   4,
		},
	}
}

// Load reads configuration from path (or DefaultConfigFile when path is
// empty), merged over defaults, then applies environment overrides. A
// missing default config file is fine; a missing explicit one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Engine.Parallelism <= 0 {
		cfg.Engine.Parallelism = 1
	}
	return cfg, nil
}

// applyEnv overrides config values from DEALFLOW_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DEALFLOW_DB_DIALECT"); v != "" {
		cfg.Database.Dialect = v
	}
	if v := os.Getenv("DEALFLOW_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DEALFLOW_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DEALFLOW_LOOKUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.LookupTimeout = d
		}
	}
}
