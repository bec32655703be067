// Package config handles treechat configuration loading and validation.
package config

import (
	"fmt"
	"time"
)

// Store backend names.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendWebsocket = "websocket"
)

// Config is the root configuration structure for the treechat client.
type Config struct {
	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Store settings for the remote tree backend.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Engine settings for the sync engine.
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Identity settings for the local principal.
	Identity IdentityConfig `yaml:"identity" mapstructure:"identity"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig selects and configures the remote tree store backend.
type StoreConfig struct {
	// Backend is one of memory, redis, websocket.
	Backend string `yaml:"backend" mapstructure:"backend"`

	// RedisAddr is the host:port of the Redis backend.
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`

	// RedisDB is the Redis database index.
	RedisDB int `yaml:"redis_db" mapstructure:"redis_db"`

	// GatewayURL is the websocket gateway URL (ws:// or wss://).
	GatewayURL string `yaml:"gateway_url" mapstructure:"gateway_url"`

	// DialTimeout bounds backend connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
}

// EngineConfig contains sync engine settings.
type EngineConfig struct {
	// MembershipRepair enables the best-effort membership backfill.
	MembershipRepair bool `yaml:"membership_repair" mapstructure:"membership_repair"`

	// UnreadRangeQueries uses server-side range subscriptions for unread
	// counting when the backend supports them.
	UnreadRangeQueries bool `yaml:"unread_range_queries" mapstructure:"unread_range_queries"`
}

// IdentityConfig describes the local principal for CLI sessions.
type IdentityConfig struct {
	ID     string `yaml:"id" mapstructure:"id"`
	Name   string `yaml:"name" mapstructure:"name"`
	Email  string `yaml:"email" mapstructure:"email"`
	Avatar string `yaml:"avatar" mapstructure:"avatar"`
	Guest  bool   `yaml:"guest" mapstructure:"guest"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Store: StoreConfig{
			Backend:     BackendMemory,
			RedisAddr:   "localhost:6379",
			DialTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			MembershipRepair:   true,
			UnreadRangeQueries: true,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr required for redis backend")
		}
	case BackendWebsocket:
		if c.Store.GatewayURL == "" {
			return fmt.Errorf("store.gateway_url required for websocket backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	return nil
}
