package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"roomrec/pkg/validation"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	BackendHTTP   = "http"
	BackendEgress = "egress"
)

type Config struct {
	// Instance identifies this replica in persisted session records.
	Instance string `yaml:"instance"`

	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Stream struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"stream"`

	Backend struct {
		Kind        string        `yaml:"kind"`
		EndpointURL string        `yaml:"endpoint_url"`
		AuthToken   string        `yaml:"auth_token"`
		StartPath   string        `yaml:"start_path"`
		StopPath    string        `yaml:"stop_path"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"backend"`

	Breaker struct {
		Enabled          bool          `yaml:"enabled"`
		FailureThreshold int           `yaml:"failure_threshold"`
		SuccessThreshold int           `yaml:"success_threshold"`
		OpenTimeout      time.Duration `yaml:"open_timeout"`
	} `yaml:"breaker"`

	LiveKit struct {
		Enabled        bool   `yaml:"enabled"`
		URL            string `yaml:"url"`
		APIKey         string `yaml:"api_key"`
		APISecret      string `yaml:"api_secret"`
		IdentityPrefix string `yaml:"identity_prefix"`
		ConnectRetry   struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"connect_retry"`
	} `yaml:"livekit"`

	Recording struct {
		AutoStart      bool          `yaml:"auto_start"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		FilePrefix     string        `yaml:"file_prefix"`
	} `yaml:"recording"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled   bool          `yaml:"enabled"`
		Address   string        `yaml:"address"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		PoolSize  int           `yaml:"pool_size"`
		KeyPrefix string        `yaml:"key_prefix"`
		LockTTL   time.Duration `yaml:"lock_ttl"`
	} `yaml:"redis"`

	Auth struct {
		Enabled        bool     `yaml:"enabled"`
		JWTSecret      string   `yaml:"jwt_secret"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int `yaml:"connections_per_minute"`
			MaxConcurrent        int `yaml:"max_concurrent_connections"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Stream.PingInterval <= 0 {
		return fmt.Errorf("stream.ping_interval must be > 0")
	}
	if c.Stream.PongTimeout <= c.Stream.PingInterval {
		return fmt.Errorf("stream.pong_timeout must be > stream.ping_interval")
	}
	if c.Stream.WriteTimeout <= 0 {
		return fmt.Errorf("stream.write_timeout must be > 0")
	}

	switch c.Backend.Kind {
	case BackendHTTP:
		if c.Backend.EndpointURL == "" {
			return fmt.Errorf("backend.endpoint_url must not be empty when backend.kind=http")
		}
		if err := validation.ValidateURL(c.Backend.EndpointURL); err != nil {
			return fmt.Errorf("backend.endpoint_url: %w", err)
		}
		if c.Backend.StartPath == "" || c.Backend.StopPath == "" {
			return fmt.Errorf("backend.start_path and backend.stop_path must not be empty")
		}
	case BackendEgress:
		if c.LiveKit.URL == "" || c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
			return fmt.Errorf("livekit.url, api_key and api_secret are required when backend.kind=egress")
		}
	default:
		return fmt.Errorf("backend.kind must be %q or %q, got %q", BackendHTTP, BackendEgress, c.Backend.Kind)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be > 0")
	}

	if c.Breaker.Enabled {
		if c.Breaker.FailureThreshold <= 0 {
			return fmt.Errorf("breaker.failure_threshold must be > 0 when breaker.enabled=true")
		}
		if c.Breaker.SuccessThreshold <= 0 {
			return fmt.Errorf("breaker.success_threshold must be > 0 when breaker.enabled=true")
		}
		if c.Breaker.OpenTimeout <= 0 {
			return fmt.Errorf("breaker.open_timeout must be > 0 when breaker.enabled=true")
		}
	}

	if c.LiveKit.Enabled {
		if c.LiveKit.URL == "" {
			return fmt.Errorf("livekit.url must not be empty when livekit.enabled=true")
		}
		if err := validation.ValidateURL(c.LiveKit.URL); err != nil {
			return fmt.Errorf("livekit.url: %w", err)
		}
		if c.LiveKit.ConnectRetry.MaxAttempts < 1 {
			return fmt.Errorf("livekit.connect_retry.max_attempts must be >= 1")
		}
	}

	if c.Recording.RequestTimeout <= 0 {
		return fmt.Errorf("recording.request_timeout must be > 0")
	}
	if err := validation.ValidateFilePrefix(c.Recording.FilePrefix); err != nil {
		return fmt.Errorf("recording.file_prefix: %w", err)
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.LockTTL <= 0 {
			return fmt.Errorf("redis.lock_ttl must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
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
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from a YAML file over the defaults, then applies
// .env and environment overrides. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
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

	// .env never overrides variables already set in the environment
	_ = godotenv.Load()

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults. The backend
// endpoint has no default and must be configured.
func DefaultConfig() *Config {
	cfg := &Config{}

	if host, err := os.Hostname(); err == nil {
		cfg.Instance = host
	} else {
		cfg.Instance = "recordd"
	}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Stream.PingInterval = 30 * time.Second
	cfg.Stream.PongTimeout = 60 * time.Second
	cfg.Stream.WriteTimeout = 10 * time.Second

	cfg.Backend.Kind = BackendHTTP
	cfg.Backend.StartPath = "/record-meeting"
	cfg.Backend.StopPath = "/stop-recording"
	cfg.Backend.Timeout = 15 * time.Second

	cfg.Breaker.Enabled = true
	cfg.Breaker.FailureThreshold = 5
	cfg.Breaker.SuccessThreshold = 1
	cfg.Breaker.OpenTimeout = 30 * time.Second

	cfg.LiveKit.Enabled = false
	cfg.LiveKit.IdentityPrefix = "recorder"
	cfg.LiveKit.ConnectRetry.MaxAttempts = 3
	cfg.LiveKit.ConnectRetry.InitialDelay = 500 * time.Millisecond
	cfg.LiveKit.ConnectRetry.MaxDelay = 5 * time.Second

	cfg.Recording.AutoStart = false
	cfg.Recording.RequestTimeout = 20 * time.Second
	cfg.Recording.FilePrefix = "recordings/"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.HealthCheckInterval = 15 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "roomrec"
	cfg.Redis.LockTTL = 30 * time.Second

	cfg.Auth.Enabled = false
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.Instance, "ROOMREC_INSTANCE")
	setString(&c.Server.Address, "ROOMREC_SERVER_ADDRESS")
	setString(&c.Logging.Level, "ROOMREC_LOG_LEVEL")
	setString(&c.Logging.Format, "ROOMREC_LOG_FORMAT")
	setString(&c.Auth.JWTSecret, "ROOMREC_JWT_SECRET")

	setString(&c.Backend.Kind, "ROOMREC_BACKEND_KIND")
	setString(&c.Backend.EndpointURL, "ROOMREC_BACKEND_URL")
	setString(&c.Backend.AuthToken, "ROOMREC_BACKEND_AUTH_TOKEN")

	setString(&c.LiveKit.URL, "ROOMREC_LIVEKIT_URL", "LIVEKIT_URL")
	setString(&c.LiveKit.APIKey, "ROOMREC_LIVEKIT_API_KEY", "LIVEKIT_API_KEY")
	setString(&c.LiveKit.APISecret, "ROOMREC_LIVEKIT_API_SECRET", "LIVEKIT_API_SECRET")

	setString(&c.Redis.Address, "ROOMREC_REDIS_ADDRESS")
	setString(&c.Redis.Password, "ROOMREC_REDIS_PASSWORD")
	setString(&c.Tracing.JaegerURL, "ROOMREC_JAEGER_URL")

	bools := []struct {
		key string
		dst *bool
	}{
		{"ROOMREC_AUTO_START", &c.Recording.AutoStart},
		{"ROOMREC_LIVEKIT_ENABLED", &c.LiveKit.Enabled},
		{"ROOMREC_REDIS_ENABLED", &c.Redis.Enabled},
		{"ROOMREC_AUTH_ENABLED", &c.Auth.Enabled},
		{"ROOMREC_TRACING_ENABLED", &c.Tracing.Enabled},
	}
	for _, b := range bools {
		v := os.Getenv(b.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", b.key, v, err)
		}
		*b.dst = parsed
	}

	if v := os.Getenv("ROOMREC_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ROOMREC_REQUEST_TIMEOUT=%q: %w", v, err)
		}
		c.Recording.RequestTimeout = d
	}
	return nil
}
