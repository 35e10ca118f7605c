// Package config loads runtime configuration from replica.yaml, REPLICA_*
// environment variables, and defaults, in that order of precedence.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Backend kinds accepted by backend.kind.
const (
	BackendMemory = "memory"
	BackendREST   = "rest"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all configuration for replica.
type Config struct {
	Journal  JournalConfig  `mapstructure:"journal"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// JournalConfig holds the applied-action log settings.
type JournalConfig struct {
	// Path of the journal database. Empty disables journaling.
	Path string `mapstructure:"path"`
}

// BackendConfig selects and configures the persistence service.
type BackendConfig struct {
	Kind   string       `mapstructure:"kind"`
	REST   RESTConfig   `mapstructure:"rest"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// RESTConfig holds HTTP backend settings.
type RESTConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// SQLiteConfig holds file backend settings.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis backend settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MetadataConfig lists the CUE entity-metadata files. An empty list runs
// the store in dynamic mode with default definitions for every type.
type MetadataConfig struct {
	Files []string `mapstructure:"files"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from file and environment variables. An empty
// path searches for replica.yaml in the working directory; a missing
// config file is fine, defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("journal.path", "replica.db")
	v.SetDefault("backend.kind", BackendMemory)
	v.SetDefault("backend.rest.base_url", "")
	v.SetDefault("backend.sqlite.path", "replica-data.db")
	v.SetDefault("backend.redis.addr", "localhost:6379")
	v.SetDefault("backend.redis.password", "")
	v.SetDefault("backend.redis.db", 0)
	v.SetDefault("backend.redis.ttl", time.Duration(0))
	v.SetDefault("metadata.files", []string{})
	v.SetDefault("logging.level", "info")

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("replica")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("REPLICA")
	v.AutomaticEnv()

	_ = v.BindEnv("journal.path", "REPLICA_JOURNAL_PATH")
	_ = v.BindEnv("backend.kind", "REPLICA_BACKEND_KIND")
	_ = v.BindEnv("backend.rest.base_url", "REPLICA_REST_BASE_URL")
	_ = v.BindEnv("backend.sqlite.path", "REPLICA_SQLITE_PATH")
	_ = v.BindEnv("backend.redis.addr", "REPLICA_REDIS_ADDR")
	_ = v.BindEnv("backend.redis.password", "REPLICA_REDIS_PASSWORD")
	_ = v.BindEnv("logging.level", "REPLICA_LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK - use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendMemory:
	case BackendREST:
		if c.Backend.REST.BaseURL == "" {
			return fmt.Errorf("backend.rest.base_url must be set for the rest backend")
		}
	case BackendSQLite:
		if c.Backend.SQLite.Path == "" {
			return fmt.Errorf("backend.sqlite.path must be set for the sqlite backend")
		}
	case BackendRedis:
		if c.Backend.Redis.Addr == "" {
			return fmt.Errorf("backend.redis.addr must be set for the redis backend")
		}
		if c.Backend.Redis.DB < 0 {
			return fmt.Errorf("backend.redis.db must be >= 0")
		}
		if c.Backend.Redis.TTL < 0 {
			return fmt.Errorf("backend.redis.ttl must be >= 0")
		}
	default:
		return fmt.Errorf("backend.kind %q is not one of memory, rest, sqlite, redis", c.Backend.Kind)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}
