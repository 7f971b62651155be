// Package config holds the gateway's process configuration: a JSON file
// with defaults, overridable by AXIS_* environment variables.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// ServerConfig holds the HTTP front settings.
type ServerConfig struct {
	HTTPAddr        string        `json:"http_addr"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// GatewayConfig holds pipeline settings.
type GatewayConfig struct {
	ForwardTimeout time.Duration `json:"forward_timeout"`
	ManifestPath   string        `json:"manifest_path"`
	SessionTTL     time.Duration `json:"session_ttl"` // zero = sessions never expire
}

// RedisConfig holds Redis connection settings. An empty Addr keeps the
// rate limiter and cache fully in-process.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PostgresConfig holds the optional persistence settings. An empty DSN
// runs the gateway on in-memory state only.
type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	LocalTTL time.Duration `json:"local_ttl"` // L1 TTL when tiered over Redis
}

// MetricsConfig holds collector settings.
type MetricsConfig struct {
	Retention time.Duration `json:"retention"`
}

// TelemetryConfig holds OTLP trace export settings.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"` // OTLP/HTTP endpoint host:port
	ServiceName string `json:"service_name"`
}

// LogConfig holds operational and access log settings.
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"` // "text" or "json"
	AccessPath string `json:"access_path"`
}

// Config is the central configuration struct.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Gateway   GatewayConfig   `json:"gateway"`
	Redis     RedisConfig     `json:"redis"`
	Postgres  PostgresConfig  `json:"postgres"`
	Cache     CacheConfig     `json:"cache"`
	Metrics   MetricsConfig   `json:"metrics"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Log       LogConfig       `json:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			ForwardTimeout: 30 * time.Second,
			SessionTTL:     12 * time.Hour,
		},
		Redis: RedisConfig{
			Addr: "",
			DB:   0,
		},
		Cache: CacheConfig{
			LocalTTL: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Retention: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "axis",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("AXIS_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("AXIS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("AXIS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AXIS_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("AXIS_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("AXIS_MANIFEST"); v != "" {
		cfg.Gateway.ManifestPath = v
	}
	if v := os.Getenv("AXIS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AXIS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("AXIS_ACCESS_LOG"); v != "" {
		cfg.Log.AccessPath = v
	}
	if v := os.Getenv("AXIS_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Enabled = true
	}
}
