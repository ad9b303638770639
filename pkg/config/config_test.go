package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Rooms.DefaultMaxParticipants)
	assert.Equal(t, runtime.NumCPU(), cfg.Media.Workers)
	assert.Equal(t, "/ws", cfg.Signal.Path)
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"relative ws path", func(c *Config) { c.Signal.Path = "ws" }},
		{"pong not after ping", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"no message size", func(c *Config) { c.Signal.MaxMessageSize = 0 }},
		{"zero capacity", func(c *Config) { c.Rooms.DefaultMaxParticipants = 0 }},
		{"limit below default", func(c *Config) { c.Rooms.MaxParticipantsLimit = 2 }},
		{"no workers", func(c *Config) { c.Media.Workers = 0 }},
		{"bad listen ip", func(c *Config) { c.Media.ListenIP = "localhost" }},
		{"inverted port range", func(c *Config) { c.Media.RTCMinPort, c.Media.RTCMaxPort = 5000, 4000 }},
		{"no codecs", func(c *Config) { c.Media.Codecs = nil }},
		{"retry multiplier", func(c *Config) { c.EngineReliability.Retry.Multiplier = 0.5 }},
		{"breaker threshold", func(c *Config) { c.EngineReliability.CircuitBreaker.FailureThreshold = 0 }},
		{"redis without channel", func(c *Config) { c.Redis.Enabled = true; c.Redis.Channel = "" }},
		{"no jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"sample rate", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRate = 2 }},
		{"ws rate", func(c *Config) { c.RateLimiting.Enabled = true; c.RateLimiting.WebSocket.Burst = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DisabledSectionsIgnoreValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.EngineReliability.Retry.Enabled = false
	cfg.EngineReliability.Retry.Multiplier = 0
	cfg.Redis.Enabled = false
	cfg.Redis.Address = ""

	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  address: ":9000"
rooms:
  default_max_participants: 8
media:
  workers: 2
  announced_ip: "203.0.113.10"
  codecs: ["opus", "vp8"]
signal:
  ping_interval: 10s
  require_token: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 8, cfg.Rooms.DefaultMaxParticipants)
	assert.Equal(t, 2, cfg.Media.Workers)
	assert.Equal(t, "203.0.113.10", cfg.Media.AnnouncedIP)
	assert.Equal(t, []string{"opus", "vp8"}, cfg.Media.Codecs)
	assert.Equal(t, 10*time.Second, cfg.Signal.PingInterval)
	assert.True(t, cfg.Signal.RequireToken)
	// untouched keys keep their defaults
	assert.Equal(t, 60*time.Second, cfg.Signal.PongTimeout)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ROOMSIGNAL_SERVER_ADDRESS", ":7000")
	t.Setenv("ROOMSIGNAL_MEDIA_WORKERS", "3")
	t.Setenv("ROOMSIGNAL_REDIS_ADDRESS", "redis:6379")
	t.Setenv("ROOMSIGNAL_REQUIRE_TOKEN", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, 3, cfg.Media.Workers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.True(t, cfg.Signal.RequireToken)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("ROOMSIGNAL_MEDIA_WORKERS", "many")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
