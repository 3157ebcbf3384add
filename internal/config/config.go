// SPDX-License-Identifier: MIT

// Package config loads streamgate configuration from the environment.
// Precedence is ENV > defaults; there is no config file surface.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults for the resolution subsystem. TTL, retry and throttle values
// mirror the upstream service's tolerances.
const (
	DefaultCacheTTL        = 10 * time.Minute
	DefaultMaxRetries      = 3 // 4 total attempts
	DefaultAttemptTimeout  = 30 * time.Second
	DefaultRetryBaseDelay  = 1 * time.Second
	DefaultRetryMaxDelay   = 5 * time.Second
	DefaultSessionInterval = 500 * time.Millisecond
	DefaultPreloadWorkers  = 5
)

// Config holds the full runtime configuration.
type Config struct {
	// HTTP surface
	ListenAddr string
	APIRateRPS int // requests/sec per client IP; 0 disables the limiter

	// Upstream service
	UpstreamBase   string
	MaxRetries     int
	AttemptTimeout time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Cache
	CacheTTL time.Duration

	// Preload
	SessionInterval time.Duration
	PreloadWorkers  int
	PreloadChannels []string // warmed at startup when non-empty

	// Persistent store
	StoreBackend string // "badger", "redis" or "memory"
	DataDir      string
	RedisAddr    string
	RedisDB      int

	// Logging
	LogLevel string
}

// Load builds the configuration from STREAMGATE_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: ParseString("STREAMGATE_LISTEN", ":8080"),
		APIRateRPS: ParseInt("STREAMGATE_API_RPS", 50),

		UpstreamBase:   strings.TrimRight(ParseString("STREAMGATE_UPSTREAM", ""), "/"),
		MaxRetries:     ParseInt("STREAMGATE_MAX_RETRIES", DefaultMaxRetries),
		AttemptTimeout: ParseDuration("STREAMGATE_ATTEMPT_TIMEOUT", DefaultAttemptTimeout),
		RetryBaseDelay: ParseDuration("STREAMGATE_RETRY_BASE_DELAY", DefaultRetryBaseDelay),
		RetryMaxDelay:  ParseDuration("STREAMGATE_RETRY_MAX_DELAY", DefaultRetryMaxDelay),

		CacheTTL: ParseDuration("STREAMGATE_CACHE_TTL", DefaultCacheTTL),

		SessionInterval: ParseDuration("STREAMGATE_SESSION_INTERVAL", DefaultSessionInterval),
		PreloadWorkers:  ParseInt("STREAMGATE_PRELOAD_WORKERS", DefaultPreloadWorkers),
		PreloadChannels: ParseStringSlice("STREAMGATE_PRELOAD_CHANNELS", nil),

		StoreBackend: ParseString("STREAMGATE_STORE", "badger"),
		DataDir:      ParseString("STREAMGATE_DATA", "/var/lib/streamgate"),
		RedisAddr:    ParseString("STREAMGATE_REDIS_ADDR", "localhost:6379"),
		RedisDB:      ParseInt("STREAMGATE_REDIS_DB", 0),

		LogLevel: ParseString("STREAMGATE_LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.UpstreamBase == "" {
		return fmt.Errorf("config: STREAMGATE_UPSTREAM is required")
	}
	u, err := url.Parse(c.UpstreamBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: STREAMGATE_UPSTREAM must be an absolute URL, got %q", c.UpstreamBase)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: STREAMGATE_UPSTREAM scheme must be http or https, got %q", u.Scheme)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: STREAMGATE_MAX_RETRIES must be >= 0, got %d", c.MaxRetries)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: STREAMGATE_CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.PreloadWorkers < 1 {
		c.PreloadWorkers = 1
	}
	switch c.StoreBackend {
	case "badger", "redis", "memory":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	return nil
}
