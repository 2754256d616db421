package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option for the cache daemon.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig groups the daemon-facing sections.
type ServerConfig struct {
	Listen   ListenConfig   `koanf:"listen"`
	Logging  LoggingConfig  `koanf:"logging"`
	Cache    CacheConfig    `koanf:"cache"`
	Upstream UpstreamConfig `koanf:"upstream"`
}

type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig selects the persistent store backend and the engine-wide
// policy ceilings.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `koanf:"backend"`
	// MaxTTLSeconds is the ceiling clamped onto per-call TTL policies.
	// Zero disables the ceiling.
	MaxTTLSeconds int `koanf:"maxTtlSeconds"`
	// MaxEntries caps the memory backend. Zero means unbounded.
	MaxEntries int `koanf:"maxEntries"`
	// BackgroundTimeoutSeconds bounds each regeneration flight.
	BackgroundTimeoutSeconds int `koanf:"backgroundTimeoutSeconds"`
	// ExcludeHeaders never participate in cache key fingerprints.
	ExcludeHeaders []string         `koanf:"excludeHeaders"`
	Redis          RedisCacheConfig `koanf:"redis"`
}

type RedisCacheConfig struct {
	Address          string              `koanf:"address"`
	Username         string              `koanf:"username"`
	Password         string              `koanf:"password"`
	DB               int                 `koanf:"db"`
	RetentionSeconds int                 `koanf:"retentionSeconds"`
	TLS              RedisCacheTLSConfig `koanf:"tls"`
}

type RedisCacheTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// UpstreamConfig shapes the daemon's built-in fetcher.
type UpstreamConfig struct {
	TimeoutSeconds int `koanf:"timeoutSeconds"`
}

// MaxTTL returns the TTL ceiling as a duration.
func (c CacheConfig) MaxTTL() time.Duration {
	if c.MaxTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.MaxTTLSeconds) * time.Second
}

// BackgroundTimeout returns the background fetch bound as a duration.
func (c CacheConfig) BackgroundTimeout() time.Duration {
	if c.BackgroundTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.BackgroundTimeoutSeconds) * time.Second
}

// Retention returns the redis entry retention ceiling as a duration.
func (c RedisCacheConfig) Retention() time.Duration {
	if c.RetentionSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RetentionSeconds) * time.Second
}

// Timeout returns the upstream fetch timeout as a duration.
func (c UpstreamConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Cache.MaxTTLSeconds < 0 {
		return fmt.Errorf("config: server.cache.maxTtlSeconds invalid: %d", c.Server.Cache.MaxTTLSeconds)
	}
	if c.Server.Cache.MaxEntries < 0 {
		return fmt.Errorf("config: server.cache.maxEntries invalid: %d", c.Server.Cache.MaxEntries)
	}
	if c.Server.Cache.BackgroundTimeoutSeconds < 0 {
		return fmt.Errorf("config: server.cache.backgroundTimeoutSeconds invalid: %d", c.Server.Cache.BackgroundTimeoutSeconds)
	}
	if c.Server.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("config: server.upstream.timeoutSeconds invalid: %d", c.Server.Upstream.TimeoutSeconds)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
		if c.Server.Cache.Redis.RetentionSeconds < 0 {
			return fmt.Errorf("config: server.cache.redis.retentionSeconds invalid: %d", c.Server.Cache.Redis.RetentionSeconds)
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the design
// defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: CacheConfig{
				Backend:                  "memory",
				MaxTTLSeconds:            86400,
				MaxEntries:               0,
				BackgroundTimeoutSeconds: 30,
				ExcludeHeaders:           []string{"X-Request-ID", "Traceparent"},
			},
			Upstream: UpstreamConfig{
				TimeoutSeconds: 30,
			},
		},
	}
}
