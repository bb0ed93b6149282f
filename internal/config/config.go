// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Detector DetectorConfig `mapstructure:"detector"`
	Routing  RoutingConfig  `mapstructure:"routing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs request identity and batch concurrency.
type CrawlerConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	Accept        string `mapstructure:"accept"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	Concurrency   int    `mapstructure:"concurrency"`
	MaxBodyBytes  int    `mapstructure:"max_body_bytes"`
}

// HTTPConfig bounds each Tier 1/Tier 2 request.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the browser-rendering tier.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	Endpoint      string `mapstructure:"endpoint"`
}

// ThrottleConfig configures per-domain pacing.
type ThrottleConfig struct {
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	Burst               int     `mapstructure:"burst"`
	BlockPenaltySeconds int     `mapstructure:"block_penalty_seconds"`
	MaxPenaltySeconds   int     `mapstructure:"max_penalty_seconds"`
}

// BreakerConfig configures the per-domain circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	WindowSeconds    int `mapstructure:"window_seconds"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
}

// DetectorConfig tunes anti-bot block detection.
type DetectorConfig struct {
	MinTextChars int      `mapstructure:"min_text_chars"`
	Keywords     []string `mapstructure:"keywords"`
}

// RoutingConfig points at the site route file.
type RoutingConfig struct {
	File string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.accept", "")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.endpoint", "")
	v.SetDefault("throttle.requests_per_second", 1.0)
	v.SetDefault("throttle.burst", 1)
	v.SetDefault("throttle.block_penalty_seconds", 30)
	v.SetDefault("throttle.max_penalty_seconds", 600)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.window_seconds", 600)
	v.SetDefault("breaker.cooldown_seconds", 300)
	v.SetDefault("detector.min_text_chars", 2000)
	v.SetDefault("detector.keywords", []string{})
	v.SetDefault("routing.file", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawler.max_body_bytes must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Throttle.RequestsPerSecond < 0 {
		return fmt.Errorf("throttle.requests_per_second must be >= 0")
	}
	if c.Throttle.MaxPenaltySeconds < c.Throttle.BlockPenaltySeconds {
		return fmt.Errorf("throttle.max_penalty_seconds must be >= throttle.block_penalty_seconds")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Breaker.WindowSeconds <= 0 || c.Breaker.CooldownSeconds <= 0 {
		return fmt.Errorf("breaker.window_seconds and breaker.cooldown_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestTimeout is the per-request budget for Tier 1 and Tier 2.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavigationTimeout is the per-page budget for the browser tier.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// BlockPenalty is the first pause applied after an anti-bot block.
func (c Config) BlockPenalty() time.Duration {
	return time.Duration(c.Throttle.BlockPenaltySeconds) * time.Second
}

// MaxPenalty caps the doubling block pause.
func (c Config) MaxPenalty() time.Duration {
	return time.Duration(c.Throttle.MaxPenaltySeconds) * time.Second
}

// BreakerWindow is the span consecutive failures must fit in to trip.
func (c Config) BreakerWindow() time.Duration {
	return time.Duration(c.Breaker.WindowSeconds) * time.Second
}

// BreakerCooldown is how long a tripped domain stays open.
func (c Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSeconds) * time.Second
}
