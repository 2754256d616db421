package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	invalidPort := cfg
	invalidPort.Server.Listen.Port = -1
	require.Error(t, invalidPort.Validate())

	negativeTTL := cfg
	negativeTTL.Server.Cache.MaxTTLSeconds = -1
	require.Error(t, negativeTTL.Validate())

	negativeEntries := cfg
	negativeEntries.Server.Cache.MaxEntries = -5
	require.Error(t, negativeEntries.Validate())

	unknownBackend := cfg
	unknownBackend.Server.Cache.Backend = "etcd"
	require.Error(t, unknownBackend.Validate())

	redisWithoutAddress := cfg
	redisWithoutAddress.Server.Cache.Backend = "redis"
	require.Error(t, redisWithoutAddress.Validate())

	t.Run("redis backend with address", func(t *testing.T) {
		valid := DefaultConfig()
		valid.Server.Cache.Backend = "redis"
		valid.Server.Cache.Redis.Address = "localhost:6379"
		require.NoError(t, valid.Validate())
	})

	t.Run("negative redis retention", func(t *testing.T) {
		invalid := DefaultConfig()
		invalid.Server.Cache.Backend = "redis"
		invalid.Server.Cache.Redis.Address = "localhost:6379"
		invalid.Server.Cache.Redis.RetentionSeconds = -1
		require.Error(t, invalid.Validate())
	})

	t.Run("empty backend means memory", func(t *testing.T) {
		valid := DefaultConfig()
		valid.Server.Cache.Backend = ""
		require.NoError(t, valid.Validate())
	})
}

func TestDurationHelpers(t *testing.T) {
	cache := CacheConfig{MaxTTLSeconds: 600, BackgroundTimeoutSeconds: 15}
	require.Equal(t, 10*time.Minute, cache.MaxTTL())
	require.Equal(t, 15*time.Second, cache.BackgroundTimeout())

	require.Zero(t, CacheConfig{}.MaxTTL())
	require.Zero(t, CacheConfig{}.BackgroundTimeout())

	require.Equal(t, time.Hour, RedisCacheConfig{RetentionSeconds: 3600}.Retention())
	require.Zero(t, RedisCacheConfig{}.Retention())

	require.Equal(t, 5*time.Second, UpstreamConfig{TimeoutSeconds: 5}.Timeout())
	require.Equal(t, 30*time.Second, UpstreamConfig{}.Timeout(), "upstream timeout falls back to 30s")
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
	require.Equal(t, 8080, cfg.Server.Listen.Port)
	require.Equal(t, "info", cfg.Server.Logging.Level)
	require.Equal(t, "json", cfg.Server.Logging.Format)
	require.Equal(t, "memory", cfg.Server.Cache.Backend)
	require.Equal(t, 24*time.Hour, cfg.Server.Cache.MaxTTL())
	require.Equal(t, 30*time.Second, cfg.Server.Cache.BackgroundTimeout())
	require.Equal(t, []string{"X-Request-ID", "Traceparent"}, cfg.Server.Cache.ExcludeHeaders)
}
