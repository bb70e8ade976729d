// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) initializer to build a Config with defaults.
// - Keys are flat and snake_case; the same key is used in YAML and, upper-cased
//   with the SCOREBOARD_ prefix, in the environment.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/scoreboard/internal/domain/leaderboard"
)

// Store backends.
const (
	BackendGitHub = "github"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":10000".
	Addr string `koanf:"addr"`

	// StoreBackend selects where the leaderboard document lives: github, redis or memory.
	StoreBackend string `koanf:"store_backend"`

	// GitHub contents API settings.
	GitHubToken  string `koanf:"github_token"`
	GitHubRepo   string `koanf:"github_repo"`
	GitHubPath   string `koanf:"github_path"`
	GitHubBranch string `koanf:"github_branch"`
	GitHubAPIURL string `koanf:"github_api_url"`

	// Redis settings. RedisAddr accepts host:port or a redis:// URL.
	RedisAddr string `koanf:"redis_addr"`
	RedisKey  string `koanf:"redis_key"`

	// MergePolicy is overwrite or monotonic.
	MergePolicy string `koanf:"merge_policy"`

	// TopN is the leaderboard size when a query gives no limit.
	TopN int `koanf:"top_n"`

	// MaxLeaderboardLimit caps the limit query parameter.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// Retry bounds for the fetch/merge/write cycle.
	RetryMaxAttempts int `koanf:"retry_max_attempts"`
	RetryBaseDelayMS int `koanf:"retry_base_delay_ms"`
	RetryMaxDelayMS  int `koanf:"retry_max_delay_ms"`

	// StoreTimeoutMS bounds each individual store call.
	StoreTimeoutMS int `koanf:"store_timeout_ms"`

	// RequestTimeoutMS bounds a whole save or leaderboard request, retries
	// included. It must stay below WriteTimeoutMS so the error envelope can
	// still be written.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// WriteTimeoutMS is the HTTP server write timeout.
	WriteTimeoutMS int `koanf:"write_timeout_ms"`

	// RateLimitRPS limits POST /save_score per client address; 0 disables.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`
}

// New creates a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":10000",
		StoreBackend:        BackendGitHub,
		GitHubPath:          "data/scores.json",
		GitHubBranch:        "main",
		GitHubAPIURL:        "https://api.github.com",
		RedisKey:            "scoreboard:scores",
		MergePolicy:         string(leaderboard.PolicyOverwrite),
		TopN:                10,
		MaxLeaderboardLimit: 100,
		RetryMaxAttempts:    5,
		RetryBaseDelayMS:    50,
		RetryMaxDelayMS:     1000,
		StoreTimeoutMS:      10_000,
		RequestTimeoutMS:    25_000,
		WriteTimeoutMS:      30_000,
		RateLimitRPS:        5,
		RateLimitBurst:      10,
	}
}

// Validate checks the configuration for the selected backend.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Addr) == "" {
		add("addr must not be empty")
	}
	switch c.StoreBackend {
	case BackendGitHub:
		if c.GitHubToken == "" {
			add("github_token is required for the github backend")
		}
		if strings.Count(c.GitHubRepo, "/") != 1 {
			add("github_repo must be owner/name, got %q", c.GitHubRepo)
		}
		if strings.Trim(c.GitHubPath, "/") == "" {
			add("github_path must not be empty")
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			add("redis_addr is required for the redis backend")
		}
		if strings.TrimSpace(c.RedisKey) == "" {
			add("redis_key must not be empty")
		}
	case BackendMemory:
	default:
		add("unknown store_backend %q", c.StoreBackend)
	}
	if _, err := leaderboard.ParsePolicy(c.MergePolicy); err != nil {
		add("%v", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		add("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.TopN < 1 {
		add("top_n must be positive")
	}
	if c.MaxLeaderboardLimit < c.TopN {
		add("max_leaderboard_limit (%d) must be at least top_n (%d)", c.MaxLeaderboardLimit, c.TopN)
	}
	if c.RetryMaxAttempts < 1 {
		add("retry_max_attempts must be positive")
	}
	if c.RetryBaseDelayMS < 1 || c.RetryMaxDelayMS < c.RetryBaseDelayMS {
		add("retry delays must satisfy 0 < retry_base_delay_ms <= retry_max_delay_ms")
	}
	if c.StoreTimeoutMS < 1 {
		add("store_timeout_ms must be positive")
	}
	if c.RequestTimeoutMS < 1 || c.WriteTimeoutMS < 1 {
		add("request_timeout_ms and write_timeout_ms must be positive")
	} else if c.RequestTimeoutMS >= c.WriteTimeoutMS {
		add("request_timeout_ms (%d) must be below write_timeout_ms (%d)", c.RequestTimeoutMS, c.WriteTimeoutMS)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		add("rate limits must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RetryBaseDelay returns the first backoff interval.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns the backoff ceiling.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMS) * time.Millisecond
}

// StoreTimeout returns the per-call store deadline.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// RequestTimeout returns the deadline for one save or leaderboard request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the HTTP server write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}
