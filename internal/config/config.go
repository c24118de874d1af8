// Package config loads gateway configuration from environment variables,
// with an optional YAML file overlay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the public HTTP listener.
type ServerConfig struct {
	Host            string        `json:"host" env:"SERVER_HOST"`
	Port            int           `json:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `json:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ShutdownGrace   time.Duration `json:"shutdown_grace" env:"SERVER_SHUTDOWN_GRACE"`
	MaxBodyBytes    int64         `json:"max_body_bytes" env:"SERVER_MAX_BODY_BYTES"`
}

// DatabaseConfig controls the relational store.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// CacheConfig controls the KV store backing rate limits, DDoS state, and
// API-key caching.
type CacheConfig struct {
	Addr     string `json:"addr" env:"CACHE_ADDR"`
	Password string `json:"password" env:"CACHE_PASSWORD"`
	DB       int    `json:"db" env:"CACHE_DB"`
	PoolSize int    `json:"pool_size" env:"CACHE_POOL_SIZE"`
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" env:"TRACING_ENABLED"`
	Endpoint    string `json:"endpoint" env:"TRACING_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name" env:"TRACING_SERVICE_NAME"`
}

// AuthConfig controls API-key and OAuth/JWKS authentication.
type AuthConfig struct {
	APIKeyPrefix       string        `json:"api_key_prefix" env:"AUTH_API_KEY_PREFIX"`
	APIKeyCacheTTL     time.Duration `json:"api_key_cache_ttl" env:"AUTH_API_KEY_CACHE_TTL"`
	APIKeyNegativeTTL  time.Duration `json:"api_key_negative_ttl" env:"AUTH_API_KEY_NEGATIVE_TTL"`
	OAuthIssuer        string        `json:"oauth_issuer" env:"AUTH_OAUTH_ISSUER"`
	OAuthAudience      string        `json:"oauth_audience" env:"AUTH_OAUTH_AUDIENCE"`
	OAuthJWKSURL       string        `json:"oauth_jwks_url" env:"AUTH_OAUTH_JWKS_URL"`
	OAuthJWKSRefresh   time.Duration `json:"oauth_jwks_refresh" env:"AUTH_OAUTH_JWKS_REFRESH"`
	OAuthClientID      string        `json:"oauth_client_id" env:"AUTH_OAUTH_CLIENT_ID"`
	OAuthClientSecret  string        `json:"oauth_client_secret" env:"AUTH_OAUTH_CLIENT_SECRET"`
	OAuthTokenEndpoint string        `json:"oauth_token_endpoint" env:"AUTH_OAUTH_TOKEN_ENDPOINT"`
}

// RateLimitConfig controls the multi-tier token-bucket limiter.
type RateLimitConfig struct {
	Enabled                   bool          `json:"enabled" env:"RATELIMIT_ENABLED"`
	GlobalRPM                 int           `json:"global_rpm" env:"RATELIMIT_GLOBAL_RPM"`
	BurstFactor               float64       `json:"burst_factor" env:"RATELIMIT_BURST_FACTOR"`
	EnablePerTenant           bool          `json:"enable_per_tenant_limits" env:"RATELIMIT_ENABLE_PER_TENANT"`
	TenantBaseRPM             int           `json:"tenant_base_rpm" env:"RATELIMIT_TENANT_BASE_RPM"`
	TenantMultiplier          float64       `json:"tenant_multiplier" env:"RATELIMIT_TENANT_MULTIPLIER"`
	FairnessWindow            time.Duration `json:"fairness_window" env:"RATELIMIT_FAIRNESS_WINDOW"`
	BurstAllowanceFactor      float64       `json:"burst_allowance_factor" env:"RATELIMIT_BURST_ALLOWANCE_FACTOR"`
	EnableDDoSProtection      bool          `json:"enable_ddos_protection" env:"RATELIMIT_ENABLE_DDOS"`
	DDoSThreshold             int           `json:"ddos_threshold" env:"RATELIMIT_DDOS_THRESHOLD"`
	BanDuration               time.Duration `json:"ban_duration" env:"RATELIMIT_BAN_DURATION"`
	CleanupInterval           time.Duration `json:"cleanup_interval" env:"RATELIMIT_CLEANUP_INTERVAL"`
	EnableDistributedLimiting bool          `json:"enable_distributed_rate_limiting" env:"RATELIMIT_ENABLE_DISTRIBUTED"`
}

// RegistryConfig controls health probing and housekeeping.
type RegistryConfig struct {
	ProbeInterval   time.Duration `json:"probe_interval" env:"REGISTRY_PROBE_INTERVAL"`
	ProbeTimeout    time.Duration `json:"probe_timeout" env:"REGISTRY_PROBE_TIMEOUT"`
	MetricsSweep    time.Duration `json:"metrics_sweep_interval" env:"REGISTRY_METRICS_SWEEP_INTERVAL"`
	MetricsStaleAge time.Duration `json:"metrics_stale_age" env:"REGISTRY_METRICS_STALE_AGE"`
}

// ProxyConfig controls forwarding behavior.
type ProxyConfig struct {
	DefaultTimeout      time.Duration `json:"default_timeout" env:"PROXY_DEFAULT_TIMEOUT"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host" env:"PROXY_MAX_IDLE_CONNS_PER_HOST"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout" env:"PROXY_IDLE_CONN_TIMEOUT"`
}

// BreakerConfig controls circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" env:"BREAKER_FAILURE_THRESHOLD"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" env:"BREAKER_RECOVERY_TIMEOUT"`
	SuccessThreshold int           `json:"success_threshold" env:"BREAKER_SUCCESS_THRESHOLD"`
}

// RouterConfig selects the load-balancing policy.
type RouterConfig struct {
	Policy        string  `json:"policy" env:"ROUTER_POLICY"`
	WeightHealth  float64 `json:"weight_health" env:"ROUTER_WEIGHT_HEALTH"`
	WeightLatency float64 `json:"weight_latency" env:"ROUTER_WEIGHT_LATENCY"`
	WeightCapacity float64 `json:"weight_capacity" env:"ROUTER_WEIGHT_CAPACITY"`
}

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig    `json:"server"`
	Database   DatabaseConfig  `json:"database"`
	Cache      CacheConfig     `json:"cache"`
	Logging    LoggingConfig   `json:"logging"`
	Tracing    TracingConfig   `json:"tracing"`
	Auth       AuthConfig      `json:"auth"`
	RateLimit  RateLimitConfig `json:"rate_limit"`
	Registry   RegistryConfig  `json:"registry"`
	Proxy      ProxyConfig     `json:"proxy"`
	Breaker    BreakerConfig   `json:"breaker"`
	Router     RouterConfig    `json:"router"`
}

// New returns a Config populated with the same defaults the gateway ships
// with out of the box.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   120 * time.Second,
			ShutdownGrace: 30 * time.Second,
			MaxBodyBytes:  8 << 20,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Cache: CacheConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{ServiceName: "mcp-gateway"},
		Auth: AuthConfig{
			APIKeyPrefix:      "mcp_",
			APIKeyCacheTTL:    300 * time.Second,
			APIKeyNegativeTTL: 60 * time.Second,
			OAuthJWKSRefresh:  1 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:              true,
			GlobalRPM:            6000,
			BurstFactor:          2.0,
			TenantBaseRPM:        300,
			TenantMultiplier:     10.0,
			FairnessWindow:       300 * time.Second,
			BurstAllowanceFactor: 1.5,
			EnableDDoSProtection: true,
			DDoSThreshold:        20,
			BanDuration:          15 * time.Minute,
			CleanupInterval:      1 * time.Minute,
		},
		Registry: RegistryConfig{
			ProbeInterval:   30 * time.Second,
			ProbeTimeout:    5 * time.Second,
			MetricsSweep:    5 * time.Minute,
			MetricsStaleAge: 1 * time.Hour,
		},
		Proxy: ProxyConfig{
			DefaultTimeout:      30 * time.Second,
			MaxIdleConnsPerHost: 50,
			IdleConnTimeout:     10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			SuccessThreshold: 3,
		},
		Router: RouterConfig{
			Policy:         "weighted",
			WeightHealth:   0.3,
			WeightLatency:  0.4,
			WeightCapacity: 0.3,
		},
	}
}

// Load reads .env (if present), applies an optional YAML config file, and
// then applies environment-variable overrides (which take precedence).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects configuration that would make the gateway unsafe or
// non-functional to start. Invalid configuration is fatal at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.RateLimit.GlobalRPM <= 0 {
		return fmt.Errorf("rate_limit.global_rpm must be positive")
	}
	sum := c.Router.WeightHealth + c.Router.WeightLatency + c.Router.WeightCapacity
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("router weights must sum to 1.0, got %f", sum)
	}
	return nil
}
