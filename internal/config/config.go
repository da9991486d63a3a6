package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Views     ViewsConfig     `json:"views"`
	Email     EmailConfig     `json:"email"`
	Tracing   TracingConfig   `json:"tracing"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port      string `json:"port"`
	Host      string `json:"host"`
	EnableTLS bool   `json:"enable_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RedisConfig holds the optional Redis connection. When Addr is empty the
// service runs with the in-memory cache and skips monthly view counters.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins for the admin API (comma-separated). The
	// /public routes are always wide open for storefront script embeds.
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// ViewsConfig holds view beacon ingestion configuration.
type ViewsConfig struct {
	QueueSize    int `json:"queue_size"`
	BatchSize    int `json:"batch_size"`
	BatchTimeout int `json:"batch_timeout"` // in seconds
}

// EmailConfig holds email GIF rendering configuration.
type EmailConfig struct {
	Enabled  bool   `json:"enabled"`
	FontPath string `json:"font_path"`
}

// TracingConfig holds OpenTelemetry export configuration.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	JaegerURL   string `json:"jaeger_url"`
	ServiceName string `json:"service_name"`
}

// LoadConfig loads configuration from environment variables and/or config file.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()

	// Load from config file if provided
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (they take precedence)
	overrideFromEnv(cfg)

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      "8080",
			Host:      "",
			EnableTLS: false,
		},
		Database: DatabaseConfig{
			Path: "./urgency_timers.db",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    300,
			Window:  60,
		},
		Views: ViewsConfig{
			QueueSize:    4096,
			BatchSize:    100,
			BatchTimeout: 5,
		},
		Email: EmailConfig{
			Enabled:  false,
			FontPath: "./assets/fonts/DejaVuSans-Bold.ttf",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			JaegerURL:   "http://localhost:14268/api/traces",
			ServiceName: "urgency-timer-api",
		},
	}
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setBool(&cfg.Server.EnableTLS, "SERVER_ENABLE_TLS")
	setString(&cfg.Server.CertFile, "SERVER_CERT_FILE")
	setString(&cfg.Server.KeyFile, "SERVER_KEY_FILE")

	setString(&cfg.Database.Path, "DATABASE_PATH")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setInt64(&cfg.Security.MaxRequestBodySize, "MAX_REQUEST_BODY_SIZE")
	setString(&cfg.Security.AllowedOrigins, "ALLOWED_ORIGINS")

	setBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.Rate, "RATE_LIMIT_RATE")
	setInt(&cfg.RateLimit.Window, "RATE_LIMIT_WINDOW")

	setInt(&cfg.Views.QueueSize, "VIEWS_QUEUE_SIZE")
	setInt(&cfg.Views.BatchSize, "VIEWS_BATCH_SIZE")
	setInt(&cfg.Views.BatchTimeout, "VIEWS_BATCH_TIMEOUT")

	setBool(&cfg.Email.Enabled, "EMAIL_GIF_ENABLED")
	setString(&cfg.Email.FontPath, "EMAIL_GIF_FONT_PATH")

	setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	setString(&cfg.Tracing.JaegerURL, "TRACING_JAEGER_URL")
	setString(&cfg.Tracing.ServiceName, "TRACING_SERVICE_NAME")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.ToLower(v) == "true" || v == "1"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = i
		}
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Views.QueueSize <= 0 {
		return fmt.Errorf("views queue size must be positive")
	}
	if c.Views.BatchSize <= 0 {
		return fmt.Errorf("views batch size must be positive")
	}
	if c.Email.Enabled && c.Email.FontPath == "" {
		return fmt.Errorf("email gif rendering requires a font path")
	}
	return nil
}
