package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Signal configures the call event WebSocket served next to the API.
	Signal struct {
		Path         string        `yaml:"path"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		SendBuffer   int           `yaml:"send_buffer"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		KeyframeInterval time.Duration `yaml:"keyframe_interval"`
		// MediaTimeout bounds how long a join waits for the user's published tracks.
		MediaTimeout time.Duration `yaml:"media_timeout"`
	} `yaml:"webrtc"`

	Recording struct {
		SampleRate  uint32        `yaml:"sample_rate"`
		Channels    uint16        `yaml:"channels"`
		TapBuffer   int           `yaml:"tap_buffer"`
		MaxDuration time.Duration `yaml:"max_duration"`
	} `yaml:"recording"`

	Storage struct {
		Backend string `yaml:"backend"` // file | minio
		File    struct {
			Dir string `yaml:"dir"`
		} `yaml:"file"`
		Minio struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket"`
			Region    string `yaml:"region"`
			UseSSL    bool   `yaml:"use_ssl"`
		} `yaml:"minio"`
		Retry struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`
		Breaker struct {
			FailureThreshold int           `yaml:"failure_threshold"`
			Timeout          time.Duration `yaml:"timeout"`
		} `yaml:"breaker"`
	} `yaml:"storage"`

	Catalog struct {
		Backend  string `yaml:"backend"` // memory | postgres
		Postgres struct {
			DSN      string `yaml:"dsn"`
			MaxConns int32  `yaml:"max_conns"`
		} `yaml:"postgres"`
		// CacheTTL enables a read-through cache in front of PostgreSQL.
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"catalog"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PoolSize int           `yaml:"pool_size"`
		CallTTL  time.Duration `yaml:"call_ttl"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret       string        `yaml:"jwt_secret"`
		AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxConcurrent       int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
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

	if c.Signal.Path == "" {
		return fmt.Errorf("signal.path must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("signal.send_buffer must be > 0")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.MediaTimeout <= 0 {
		return fmt.Errorf("webrtc.media_timeout must be > 0")
	}

	switch c.Recording.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("recording.sample_rate %d is not an Opus rate", c.Recording.SampleRate)
	}
	if c.Recording.Channels != 1 && c.Recording.Channels != 2 {
		return fmt.Errorf("recording.channels must be 1 or 2")
	}
	if c.Recording.MaxDuration < 0 {
		return fmt.Errorf("recording.max_duration must be >= 0")
	}

	switch c.Storage.Backend {
	case "file":
		if c.Storage.File.Dir == "" {
			return fmt.Errorf("storage.file.dir must not be empty when storage.backend=file")
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and bucket must be set when storage.backend=minio")
		}
	default:
		return fmt.Errorf("storage.backend must be file or minio, got %q", c.Storage.Backend)
	}
	if c.Storage.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("storage.retry.max_attempts must be > 0")
	}
	if c.Storage.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("storage.breaker.failure_threshold must be > 0")
	}

	switch c.Catalog.Backend {
	case "memory":
	case "postgres":
		if c.Catalog.Postgres.DSN == "" {
			return fmt.Errorf("catalog.postgres.dsn must not be empty when catalog.backend=postgres")
		}
	default:
		return fmt.Errorf("catalog.backend must be memory or postgres, got %q", c.Catalog.Backend)
	}
	if c.Catalog.CacheTTL < 0 {
		return fmt.Errorf("catalog.cache_ttl must be >= 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Tracing.Enabled && c.Tracing.JaegerURL == "" {
		return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("auth token TTLs must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads a .env file if present, then the YAML file at configPath over
// DefaultConfig, then GREENEARTH_* environment overrides.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendBuffer = 64

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	cfg.WebRTC.KeyframeInterval = 3 * time.Second
	cfg.WebRTC.MediaTimeout = 20 * time.Second

	cfg.Recording.SampleRate = 48000
	cfg.Recording.Channels = 2
	cfg.Recording.TapBuffer = 256
	cfg.Recording.MaxDuration = 4 * time.Hour

	cfg.Storage.Backend = "file"
	cfg.Storage.File.Dir = "./data"
	cfg.Storage.Minio.Bucket = "greenearth-recordings"
	cfg.Storage.Minio.Region = "us-east-1"
	cfg.Storage.Retry.MaxAttempts = 3
	cfg.Storage.Retry.InitialDelay = 200 * time.Millisecond
	cfg.Storage.Retry.MaxDelay = 5 * time.Second
	cfg.Storage.Breaker.FailureThreshold = 5
	cfg.Storage.Breaker.Timeout = 30 * time.Second

	cfg.Catalog.Backend = "memory"
	cfg.Catalog.Postgres.MaxConns = 10
	cfg.Catalog.CacheTTL = 5 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.CallTTL = 24 * time.Hour

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 20
	cfg.RateLimiting.WebSocket.Burst = 40
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 16 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"GREENEARTH_SERVER_ADDRESS":   &c.Server.Address,
		"GREENEARTH_LOG_LEVEL":        &c.Logging.Level,
		"GREENEARTH_LOG_FORMAT":       &c.Logging.Format,
		"GREENEARTH_JWT_SECRET":       &c.Auth.JWTSecret,
		"GREENEARTH_STORAGE_BACKEND":  &c.Storage.Backend,
		"GREENEARTH_STORAGE_DIR":      &c.Storage.File.Dir,
		"GREENEARTH_MINIO_ENDPOINT":   &c.Storage.Minio.Endpoint,
		"GREENEARTH_MINIO_ACCESS_KEY": &c.Storage.Minio.AccessKey,
		"GREENEARTH_MINIO_SECRET_KEY": &c.Storage.Minio.SecretKey,
		"GREENEARTH_MINIO_BUCKET":     &c.Storage.Minio.Bucket,
		"GREENEARTH_CATALOG_BACKEND":  &c.Catalog.Backend,
		"GREENEARTH_DATABASE_URL":     &c.Catalog.Postgres.DSN,
		"GREENEARTH_REDIS_ADDRESS":    &c.Redis.Address,
		"GREENEARTH_REDIS_PASSWORD":   &c.Redis.Password,
		"GREENEARTH_JAEGER_URL":       &c.Tracing.JaegerURL,
		"GREENEARTH_ENVIRONMENT":      &c.Tracing.Environment,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"GREENEARTH_REDIS_ENABLED":   &c.Redis.Enabled,
		"GREENEARTH_MINIO_USE_SSL":   &c.Storage.Minio.UseSSL,
		"GREENEARTH_TRACING_ENABLED": &c.Tracing.Enabled,
	}
	for key, dst := range bools {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
	}

	if v := os.Getenv("GREENEARTH_MEDIA_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GREENEARTH_MEDIA_TIMEOUT: %w", err)
		}
		c.WebRTC.MediaTimeout = d
	}
	return nil
}
