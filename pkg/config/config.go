package config

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type RetryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

type CircuitBreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	FailureThreshold    int           `yaml:"failure_threshold"`
	SuccessThreshold    int           `yaml:"success_threshold"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxRequestsHalfOpen int           `yaml:"max_requests_half_open"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path           string        `yaml:"path"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		MaxMessageSize int64         `yaml:"max_message_size"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		RequireToken   bool          `yaml:"require_token"`
	} `yaml:"signal"`

	Rooms struct {
		DefaultMaxParticipants int `yaml:"default_max_participants"`
		MaxParticipantsLimit   int `yaml:"max_participants_limit"`
	} `yaml:"rooms"`

	Media struct {
		Workers                         int      `yaml:"workers"`
		ListenIP                        string   `yaml:"listen_ip"`
		AnnouncedIP                     string   `yaml:"announced_ip"`
		RTCMinPort                      uint16   `yaml:"rtc_min_port"`
		RTCMaxPort                      uint16   `yaml:"rtc_max_port"`
		Codecs                          []string `yaml:"codecs"`
		InitialAvailableOutgoingBitrate int      `yaml:"initial_available_outgoing_bitrate"`
		MaxIncomingBitrate              int      `yaml:"max_incoming_bitrate"`
	} `yaml:"media"`

	EngineReliability struct {
		CallTimeout    time.Duration        `yaml:"call_timeout"`
		Retry          RetryConfig          `yaml:"retry"`
		CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	} `yaml:"engine_reliability"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		Issuer    string        `yaml:"issuer"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}

	if c.Signal.Path == "" || c.Signal.Path[0] != '/' {
		return fmt.Errorf("signal.path must start with '/'")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size must be > 0")
	}

	if c.Rooms.DefaultMaxParticipants <= 0 {
		return fmt.Errorf("rooms.default_max_participants must be > 0")
	}
	if c.Rooms.MaxParticipantsLimit < c.Rooms.DefaultMaxParticipants {
		return fmt.Errorf("rooms.max_participants_limit must be >= rooms.default_max_participants")
	}

	if c.Media.Workers <= 0 {
		return fmt.Errorf("media.workers must be > 0")
	}
	if net.ParseIP(c.Media.ListenIP) == nil {
		return fmt.Errorf("media.listen_ip %q is not an IP address", c.Media.ListenIP)
	}
	if c.Media.RTCMinPort == 0 || c.Media.RTCMinPort >= c.Media.RTCMaxPort {
		return fmt.Errorf("media.rtc_min_port must be > 0 and < media.rtc_max_port")
	}
	if len(c.Media.Codecs) == 0 {
		return fmt.Errorf("media.codecs must not be empty")
	}

	if c.EngineReliability.CallTimeout < 0 {
		return fmt.Errorf("engine_reliability.call_timeout must be >= 0")
	}
	if r := c.EngineReliability.Retry; r.Enabled && (r.MaxAttempts < 0 || r.InitialDelay <= 0 || r.Multiplier < 1) {
		return fmt.Errorf("engine_reliability.retry needs max_attempts >= 0, initial_delay > 0 and multiplier >= 1")
	}
	if cb := c.EngineReliability.CircuitBreaker; cb.Enabled && (cb.FailureThreshold <= 0 || cb.Timeout <= 0) {
		return fmt.Errorf("engine_reliability.circuit_breaker needs failure_threshold > 0 and timeout > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 || c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http requires requests_per_second > 0 and burst > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 || c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket requires messages_per_second > 0 and burst > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from a YAML file over DefaultConfig, applies
// ROOMSIGNAL_* environment overrides and validates the result. A missing
// file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageSize = 64 * 1024
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Rooms.DefaultMaxParticipants = 5
	cfg.Rooms.MaxParticipantsLimit = 50

	cfg.Media.Workers = runtime.NumCPU()
	cfg.Media.ListenIP = "0.0.0.0"
	cfg.Media.RTCMinPort = 40000
	cfg.Media.RTCMaxPort = 49999
	cfg.Media.Codecs = []string{"opus", "vp8", "vp9", "h264"}
	cfg.Media.InitialAvailableOutgoingBitrate = 1000000
	cfg.Media.MaxIncomingBitrate = 1500000

	cfg.EngineReliability.CallTimeout = 5 * time.Second
	cfg.EngineReliability.Retry = RetryConfig{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	cfg.EngineReliability.CircuitBreaker = CircuitBreakerConfig{
		Enabled:             true,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             10 * time.Second,
		MaxRequestsHalfOpen: 3,
	}

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "roomsignal:rooms"

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.Issuer = "roomsignal"
	cfg.Auth.TokenTTL = time.Hour

	cfg.Tracing.ServiceName = "roomsignal"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("ROOMSIGNAL_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("ROOMSIGNAL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ROOMSIGNAL_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("ROOMSIGNAL_MEDIA_ANNOUNCED_IP"); v != "" {
		c.Media.AnnouncedIP = v
	}
	if v := os.Getenv("ROOMSIGNAL_MEDIA_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROOMSIGNAL_MEDIA_WORKERS: %w", err)
		}
		c.Media.Workers = n
	}
	if v := os.Getenv("ROOMSIGNAL_REDIS_ADDRESS"); v != "" {
		c.Redis.Enabled = true
		c.Redis.Address = v
	}
	if v := os.Getenv("ROOMSIGNAL_REQUIRE_TOKEN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ROOMSIGNAL_REQUIRE_TOKEN: %w", err)
		}
		c.Signal.RequireToken = b
	}
	return nil
}
