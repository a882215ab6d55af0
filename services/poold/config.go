package poold

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the pool service daemon. The pool
// definition itself (currency, rate model, collateral policy) lives in the
// TOML pool config; this file only shapes the HTTP surface around it.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	PoolConfig     string          `yaml:"pool_config"`
	IdempotencyDB  string          `yaml:"idempotency_db"`
	IdempotencyTTL time.Duration   `yaml:"idempotency_ttl"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Auth           AuthConfig      `yaml:"auth"`
	Log            LogConfig       `yaml:"log"`
}

// AuthConfig lists the bearer tokens accepted on the mutating endpoints. An
// empty list leaves the API open, for loopback development listeners.
type AuthConfig struct {
	APITokens []string `yaml:"api_tokens"`
}

// RateLimitConfig throttles mutating requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig points the structured logger at an optional rotating file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// LoadConfig reads the YAML service configuration from disk and validates the
// result.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ListenAddress:  ":8475",
		PoolConfig:     "pool.toml",
		IdempotencyTTL: 24 * time.Hour,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8475"
	}
	cfg.PoolConfig = strings.TrimSpace(cfg.PoolConfig)
	cfg.IdempotencyDB = strings.TrimSpace(cfg.IdempotencyDB)
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	tokens := cfg.Auth.APITokens[:0]
	for _, token := range cfg.Auth.APITokens {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	cfg.Auth.APITokens = tokens
}

func (cfg *Config) validate() error {
	if cfg.PoolConfig == "" {
		return fmt.Errorf("pool_config path required")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	if cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit.burst must not be negative")
	}
	return nil
}
