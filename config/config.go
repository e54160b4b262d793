package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Redis      RedisConfig      `yaml:"redis"`
	Stream     StreamConfig     `yaml:"stream"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Health     HealthConfig     `yaml:"health"`
	API        APIConfig        `yaml:"api"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	TTL          time.Duration `yaml:"ttl"`
	ListCapacity int64         `yaml:"list_capacity"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

type StreamConfig struct {
	URL                  string        `yaml:"url"`
	Symbol               string        `yaml:"symbol"`
	DepthLevels          int           `yaml:"depth_levels"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
}

type AlertsConfig struct {
	LargeTradeQuantity float64 `yaml:"large_trade_quantity"`
	HighSeverityAbove  float64 `yaml:"high_severity_above"`
}

type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type APIConfig struct {
	Address         string        `yaml:"address"`
	RestURL         string        `yaml:"rest_url"`
	DefaultSymbol   string        `yaml:"default_symbol"`
	DefaultLimit    int           `yaml:"default_limit"`
	RequestsPerSec  float64       `yaml:"requests_per_second"`
	Burst           int           `yaml:"burst"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the values used for anything the YAML file leaves out.
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "marketfeed", Version: "dev"},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379",
			TTL:          60 * time.Second,
			ListCapacity: 100,
			WriteTimeout: 2 * time.Second,
			MaxRetries:   3,
		},
		Stream: StreamConfig{
			URL:                  "wss://stream.binance.com:9443",
			Symbol:               "btcusdt",
			DepthLevels:          20,
			HeartbeatInterval:    30 * time.Second,
			ReconnectDelay:       5 * time.Second,
			MaxReconnectAttempts: 10,
			HandshakeTimeout:     10 * time.Second,
		},
		Alerts: AlertsConfig{LargeTradeQuantity: 1, HighSeverityAbove: 10},
		Health: HealthConfig{Interval: 30 * time.Second},
		API: APIConfig{
			Address:         ":8080",
			RestURL:         "https://api.binance.com",
			DefaultSymbol:   "BTCUSDT",
			DefaultLimit:    50,
			RequestsPerSec:  5,
			Burst:           10,
			UpstreamTimeout: 5 * time.Second,
		},
		CloudWatch: CloudWatchConfig{Namespace: "MarketFeed"},
		Logging:    LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig reads the YAML file at path on top of Default, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := firstEnv("REDIS_URL", "REDIS_PRIVATE_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := firstEnv("SYMBOL"); v != "" {
		cfg.Stream.Symbol = v
	}
	if v := firstEnv("STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}
	if v := firstEnv("API_ADDRESS"); v != "" {
		cfg.API.Address = v
	}
	if v := firstEnv("AWS_REGION"); v != "" {
		cfg.CloudWatch.Region = v
	}
	if cfg.CloudWatch.Enabled {
		if v := firstEnv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.CloudWatch.AccessKeyID = v
		}
		if v := firstEnv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.CloudWatch.SecretAccessKey = v
		}
	}
	cfg.Stream.Symbol = strings.ToLower(strings.TrimSpace(cfg.Stream.Symbol))
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if cfg.Redis.TTL <= 0 {
		return fmt.Errorf("redis.ttl must be greater than 0")
	}
	if cfg.Redis.ListCapacity <= 0 {
		return fmt.Errorf("redis.list_capacity must be greater than 0")
	}
	if cfg.Redis.WriteTimeout <= 0 {
		return fmt.Errorf("redis.write_timeout must be greater than 0")
	}
	if cfg.Stream.Symbol == "" {
		return fmt.Errorf("stream.symbol is required")
	}
	if u, err := url.Parse(cfg.Stream.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("stream.url '%s' must be a ws:// or wss:// URL", cfg.Stream.URL)
	}
	switch cfg.Stream.DepthLevels {
	case 5, 10, 20:
	default:
		return fmt.Errorf("stream.depth_levels must be 5, 10 or 20, got %d", cfg.Stream.DepthLevels)
	}
	if cfg.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("stream.heartbeat_interval must be greater than 0")
	}
	if cfg.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be greater than 0")
	}
	if cfg.Stream.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("stream.max_reconnect_attempts must be greater than 0")
	}
	if cfg.Alerts.HighSeverityAbove < cfg.Alerts.LargeTradeQuantity {
		return fmt.Errorf("alerts.high_severity_above must not be below alerts.large_trade_quantity")
	}
	if cfg.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be greater than 0")
	}
	if cfg.API.DefaultLimit <= 0 || cfg.API.DefaultLimit > 5000 {
		return fmt.Errorf("api.default_limit must be between 1 and 5000")
	}
	if cfg.API.RequestsPerSec <= 0 || cfg.API.Burst <= 0 {
		return fmt.Errorf("api.requests_per_second and api.burst must be greater than 0")
	}
	if cfg.CloudWatch.Enabled && cfg.CloudWatch.Namespace == "" {
		return fmt.Errorf("cloudwatch.namespace is required when cloudwatch is enabled")
	}
	return nil
}

// RedactURL hides the password part of a connection URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// StreamEndpoint builds the combined-stream URL for the configured symbol.
func (c StreamConfig) StreamEndpoint() string {
	sym := strings.ToLower(c.Symbol)
	streams := []string{
		sym + "@ticker",
		fmt.Sprintf("%s@depth%d@100ms", sym, c.DepthLevels),
		sym + "@trade",
		sym + "@kline_1m",
	}
	return strings.TrimRight(c.URL, "/") + "/stream?streams=" + strings.Join(streams, "/")
}
