package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"pong not after ping", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"half port range", func(c *Config) { c.WebRTC.PortRange.Min = 10000 }},
		{"inverted port range", func(c *Config) { c.WebRTC.PortRange.Min, c.WebRTC.PortRange.Max = 20000, 10000 }},
		{"zero media timeout", func(c *Config) { c.WebRTC.MediaTimeout = 0 }},
		{"non opus sample rate", func(c *Config) { c.Recording.SampleRate = 44100 }},
		{"three channels", func(c *Config) { c.Recording.Channels = 3 }},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"minio without endpoint", func(c *Config) { c.Storage.Backend = "minio" }},
		{"zero upload attempts", func(c *Config) { c.Storage.Retry.MaxAttempts = 0 }},
		{"postgres without dsn", func(c *Config) { c.Catalog.Backend = "postgres" }},
		{"redis without pool", func(c *Config) { c.Redis.Enabled = true; c.Redis.PoolSize = 0 }},
		{"tracing without url", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.JaegerURL = "" }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"http rps", func(c *Config) { c.RateLimiting.Enabled = true; c.RateLimiting.HTTP.RequestsPerSecond = 0 }},
		{"ws burst", func(c *Config) { c.RateLimiting.Enabled = true; c.RateLimiting.WebSocket.Burst = 0 }},
		{"ws message size", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  address: ":9000"
storage:
  backend: minio
  minio:
    endpoint: "minio:9000"
    bucket: "calls"
webrtc:
  media_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("GREENEARTH_LOG_LEVEL", "debug")
	t.Setenv("GREENEARTH_MINIO_USE_SSL", "true")
	t.Setenv("GREENEARTH_MEDIA_TIMEOUT", "7s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "minio", cfg.Storage.Backend)
	assert.Equal(t, "calls", cfg.Storage.Minio.Bucket)
	assert.True(t, cfg.Storage.Minio.UseSSL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 7*time.Second, cfg.WebRTC.MediaTimeout)
	assert.Equal(t, uint32(48000), cfg.Recording.SampleRate)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestLoad_RejectsBadEnv(t *testing.T) {
	t.Setenv("GREENEARTH_REDIS_ENABLED", "maybe")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "GREENEARTH_REDIS_ENABLED")
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog:\n  backend: mysql\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid configuration")
}
