package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replysage/replysage/pkg/responsecache"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile_Defaults(t *testing.T) {
	// A missing file falls back to defaults entirely
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 0.7, cfg.Cache.MinConfidence)
	assert.Equal(t, 5, cfg.Cache.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Cache.ResetTimeout)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, 2*time.Second, cfg.Redis.OperationTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Health.LatencyThreshold)
	assert.Equal(t, ":8081", cfg.Admin.ListenAddress)

	// Category TTL table survives the round trip
	assert.Equal(t, time.Duration(0), cfg.Cache.TTLByCategory[responsecache.CategoryGreeting])
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTLByCategory[responsecache.CategoryAvailability])
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTLByCategory[responsecache.CategoryFAQ])
}

func TestLoadFromFile_File(t *testing.T) {
	path := writeConfig(t, `
environment: production
log_level: warn
cache:
  min_confidence: 0.85
  failure_threshold: 10
  ttl_by_category:
    faq: 12h
redis:
  host: redis.internal
  port: 6380
admin:
  listen_address: ":9000"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 0.85, cfg.Cache.MinConfidence)
	assert.Equal(t, 10, cfg.Cache.FailureThreshold)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, ":9000", cfg.Admin.ListenAddress)

	// Overridden category adjusts, the rest keep their defaults
	assert.Equal(t, 12*time.Hour, cfg.Cache.TTLByCategory[responsecache.CategoryFAQ])
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTLByCategory[responsecache.CategoryAvailability])
}

func TestLoadFromFile_EnvOverride(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis-from-env")
	t.Setenv("REDIS_PORT", "7000")
	t.Setenv("REPLYSAGE_LOG_LEVEL", "debug")

	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "redis-from-env", cfg.Redis.Host)
	assert.Equal(t, 7000, cfg.Redis.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	t.Setenv("CACHE_REDIS_PASSWORD", "s3cret")

	path := writeConfig(t, `
redis:
  host: "${CACHE_REDIS_HOST:-fallback-host}"
  password: "${CACHE_REDIS_PASSWORD}"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "fallback-host", cfg.Redis.Host)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"confidence out of range", "cache:\n  min_confidence: 1.5\n"},
		{"negative threshold", "cache:\n  failure_threshold: -1\n"},
		{"missing host", "redis:\n  host: \"\"\n"},
		{"port out of range", "redis:\n  port: 70000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := LoadFromFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_HonorsConfigFileEnv(t *testing.T) {
	path := writeConfig(t, "environment: staging\n")
	t.Setenv("REPLYSAGE_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("EXPAND_TEST_SET", "value")

	assert.Equal(t, "value", expandEnvVars("${EXPAND_TEST_SET}"))
	assert.Equal(t, "fallback", expandEnvVars("${EXPAND_TEST_UNSET:-fallback}"))
	assert.Equal(t, "", expandEnvVars("${EXPAND_TEST_UNSET}"))
	assert.Equal(t, "pre-value-post", expandEnvVars("pre-${EXPAND_TEST_SET}-post"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
	assert.Equal(t, "${unterminated", expandEnvVars("${unterminated"))
}
