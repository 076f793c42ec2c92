// Package config provides configuration management for the Quell alert
// correlation engine.
//
// This package handles loading configuration from multiple sources with
// proper precedence:
// 1. Environment variables (QUELL_*)
// 2. Configuration file (YAML)
// 3. Default values
//
// The configuration system uses Viper for flexible configuration
// management, supporting various formats and sources.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Callbacks CallbackConfig  `mapstructure:"callbacks" yaml:"callbacks"`
	Breaker   BreakerConfig   `mapstructure:"breaker" yaml:"breaker"`
}

// ServerConfig contains the operational HTTP listener configuration
// (health and metrics endpoints).
type ServerConfig struct {
	// Host is the interface to bind the listener to
	Host string `mapstructure:"host" yaml:"host"`
	// Port is the port number to listen on
	Port int `mapstructure:"port" yaml:"port"`
	// ReadTimeoutSeconds is the maximum duration for reading a request
	ReadTimeoutSeconds int `mapstructure:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	// WriteTimeoutSeconds is the maximum duration before timing out writes
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	// IdleTimeoutSeconds is the keep-alive idle timeout
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
}

// EngineConfig contains correlation engine configuration.
type EngineConfig struct {
	// DefaultTimeWindow bounds candidate selection for rules without a window
	DefaultTimeWindow time.Duration `mapstructure:"default_time_window" yaml:"default_time_window"`
	// MaxGroupSize is the engine-wide cap on group membership
	MaxGroupSize int `mapstructure:"max_group_size" yaml:"max_group_size"`
	// MaxGroupAge removes groups older than this regardless of status
	MaxGroupAge time.Duration `mapstructure:"max_group_age" yaml:"max_group_age"`
	// ResolvedRetention removes resolved groups idle longer than this
	ResolvedRetention time.Duration `mapstructure:"resolved_retention" yaml:"resolved_retention"`
	// SweepInterval determines how often the lifecycle sweep runs
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	// PersistTimeout bounds each snapshot write to the cache
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
	// RulesFile is an optional YAML file of correlation rules; when empty
	// the built-in default rule set is used
	RulesFile string `mapstructure:"rules_file" yaml:"rules_file"`
}

// CacheConfig contains external cache (Valkey/Redis) configuration.
type CacheConfig struct {
	// Enabled determines whether group snapshots are persisted
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Addr is the host:port of the Valkey server
	Addr string `mapstructure:"addr" yaml:"addr"`
	// Username and Password are optional AUTH credentials
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// DB selects a logical database
	DB int `mapstructure:"db" yaml:"db"`
	// DialTimeout, ReadTimeout and WriteTimeout bound each operation
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	// TLS enables TLS for the connection
	TLS bool `mapstructure:"tls" yaml:"tls"`
}

// CallbackConfig contains callback dispatcher configuration.
type CallbackConfig struct {
	// Workers is the number of delivery workers
	Workers int `mapstructure:"workers" yaml:"workers"`
	// BufferSize bounds the pending event queue
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
	// HandlerTimeoutSeconds bounds each handler invocation
	HandlerTimeoutSeconds int `mapstructure:"handler_timeout_seconds" yaml:"handler_timeout_seconds"`
}

// BreakerConfig contains circuit breaker configuration for cache calls.
type BreakerConfig struct {
	// MaxFailures opens the breaker after this many consecutive failures
	MaxFailures int `mapstructure:"max_failures" yaml:"max_failures"`
	// ResetTimeoutSeconds is how long the breaker stays open before probing
	ResetTimeoutSeconds int `mapstructure:"reset_timeout_seconds" yaml:"reset_timeout_seconds"`
}

// DefaultConfig returns a configuration with sensible defaults.
//
// These defaults are suitable for development and testing environments.
// Production deployments should override these values through configuration
// files or environment variables.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 30,
			IdleTimeoutSeconds:  120,
		},
		Engine: EngineConfig{
			DefaultTimeWindow: 10 * time.Minute,
			MaxGroupSize:      100,
			MaxGroupAge:       24 * time.Hour,
			ResolvedRetention: 30 * time.Minute,
			SweepInterval:     5 * time.Minute,
			PersistTimeout:    2 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Callbacks: CallbackConfig{
			Workers:               4,
			BufferSize:            256,
			HandlerTimeoutSeconds: 10,
		},
		Breaker: BreakerConfig{
			MaxFailures:         5,
			ResetTimeoutSeconds: 30,
		},
	}
}

// Load reads configuration from the given file (optional) and environment
// variables, layered over defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("QUELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("configuration file not found: %s", configFile)
		}
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers default values so environment overrides work even
// without a configuration file.
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.read_timeout_seconds", defaults.Server.ReadTimeoutSeconds)
	v.SetDefault("server.write_timeout_seconds", defaults.Server.WriteTimeoutSeconds)
	v.SetDefault("server.idle_timeout_seconds", defaults.Server.IdleTimeoutSeconds)

	v.SetDefault("engine.default_time_window", defaults.Engine.DefaultTimeWindow)
	v.SetDefault("engine.max_group_size", defaults.Engine.MaxGroupSize)
	v.SetDefault("engine.max_group_age", defaults.Engine.MaxGroupAge)
	v.SetDefault("engine.resolved_retention", defaults.Engine.ResolvedRetention)
	v.SetDefault("engine.sweep_interval", defaults.Engine.SweepInterval)
	v.SetDefault("engine.persist_timeout", defaults.Engine.PersistTimeout)
	v.SetDefault("engine.rules_file", "")

	v.SetDefault("cache.enabled", defaults.Cache.Enabled)
	v.SetDefault("cache.addr", defaults.Cache.Addr)
	v.SetDefault("cache.db", defaults.Cache.DB)
	v.SetDefault("cache.dial_timeout", defaults.Cache.DialTimeout)
	v.SetDefault("cache.read_timeout", defaults.Cache.ReadTimeout)
	v.SetDefault("cache.write_timeout", defaults.Cache.WriteTimeout)
	v.SetDefault("cache.tls", defaults.Cache.TLS)

	v.SetDefault("callbacks.workers", defaults.Callbacks.Workers)
	v.SetDefault("callbacks.buffer_size", defaults.Callbacks.BufferSize)
	v.SetDefault("callbacks.handler_timeout_seconds", defaults.Callbacks.HandlerTimeoutSeconds)

	v.SetDefault("breaker.max_failures", defaults.Breaker.MaxFailures)
	v.SetDefault("breaker.reset_timeout_seconds", defaults.Breaker.ResetTimeoutSeconds)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.Engine.DefaultTimeWindow <= 0 {
		return fmt.Errorf("engine default time window must be positive")
	}
	if c.Engine.MaxGroupSize <= 0 {
		return fmt.Errorf("engine max group size must be positive")
	}
	if c.Engine.MaxGroupAge <= 0 {
		return fmt.Errorf("engine max group age must be positive")
	}
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("engine sweep interval must be positive")
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache addr is required when cache is enabled")
	}
	if c.Callbacks.Workers <= 0 {
		return fmt.Errorf("callback workers must be positive")
	}
	if c.Breaker.MaxFailures <= 0 {
		return fmt.Errorf("breaker max failures must be positive")
	}
	return nil
}
