// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package config loads and validates Datapulse configuration using Koanf v2
// with layered sources (defaults, optional YAML file, environment overrides).
// Secret fields are written as ${ENV_NAME} references and resolved from the
// environment at load time.
package config

import (
	"time"
)

// Config is the root configuration object.
type Config struct {
	Logging       LoggingConfig  `koanf:"logging"`
	Pool          PoolConfig     `koanf:"pool"`
	Cache         CacheConfig    `koanf:"cache"`
	Monitoring    MonitorConfig  `koanf:"monitoring"`
	Notifications NotifyConfig   `koanf:"notifications"`
	Sources       []SourceConfig `koanf:"sources" validate:"dive"`
}

// LoggingConfig configures the zerolog-backed logging facade.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// PoolConfig configures the shared HTTP transport and client registry.
type PoolConfig struct {
	MaxIdleConns        int           `koanf:"max_idle_conns" validate:"min=0"`
	MaxConnsPerHost     int           `koanf:"max_conns_per_host" validate:"min=0"`
	IdleConnTimeout     time.Duration `koanf:"idle_conn_timeout"`
	InsecureSkipVerify  bool          `koanf:"insecure_skip_verify"`
	GlobalRPS           float64       `koanf:"global_rps" validate:"min=0"` // 0 = unlimited
	HealthConcurrency   int           `koanf:"health_concurrency" validate:"min=0"`
	DisableKeepAlives   bool          `koanf:"disable_keep_alives"`
	TLSHandshakeTimeout time.Duration `koanf:"tls_handshake_timeout"`
}

// CacheConfig configures the two cache tiers.
type CacheConfig struct {
	Memory MemoryCacheConfig `koanf:"memory"`
	Disk   DiskCacheConfig   `koanf:"disk"`
}

// MemoryCacheConfig bounds the memory tier by entry count and byte footprint.
type MemoryCacheConfig struct {
	MaxEntries int           `koanf:"max_entries" validate:"min=1"`
	MaxBytes   int64         `koanf:"max_bytes" validate:"min=1"`
	Policy     string        `koanf:"policy" validate:"omitempty,oneof=lru lfu ttl fifo"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
}

// DiskCacheConfig configures the durable tier. The directory must not be
// shared by more than one process.
type DiskCacheConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Dir      string `koanf:"dir"`
	MaxBytes int64  `koanf:"max_bytes" validate:"min=1"`
	Compress bool   `koanf:"compress"`
}

// MonitorConfig configures health checking, the metric sample store, and
// alert thresholds.
type MonitorConfig struct {
	MetricsAddr     string          `koanf:"metrics_addr"` // empty disables the Prometheus listener
	SampleRetention time.Duration   `koanf:"sample_retention"`
	HealthInterval  time.Duration   `koanf:"health_interval"`
	Thresholds      AlertThresholds `koanf:"thresholds"`
}

// AlertThresholds are the fleet-wide alerting trip points.
type AlertThresholds struct {
	ConsecutiveFailures int           `koanf:"consecutive_failures" validate:"min=1"`
	LatencyP95          time.Duration `koanf:"latency_p95"`
	UptimeBelow         float64       `koanf:"uptime_below" validate:"min=0,max=100"`
}

// NotifyConfig configures the UI notification manager.
type NotifyConfig struct {
	MaxStored      int           `koanf:"max_stored" validate:"min=1"`
	DefaultTTL     time.Duration `koanf:"default_ttl"`
	DebounceWindow time.Duration `koanf:"debounce_window"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
}

// SourceConfig describes one external HTTP source. It is immutable after
// registration; reconfiguration replaces the whole object.
type SourceConfig struct {
	ID       string `koanf:"id" validate:"required"`
	Name     string `koanf:"name"`
	BaseURL  string `koanf:"base_url" validate:"required,url"`
	Endpoint string `koanf:"endpoint"`
	Method   string `koanf:"method" validate:"omitempty,oneof=GET POST"`

	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Retry     RetryConfig     `koanf:"retry"`

	PollInterval time.Duration `koanf:"poll_interval" validate:"required,gt=0"`
	Timeout      time.Duration `koanf:"timeout"`

	CacheTTL    time.Duration `koanf:"cache_ttl"`
	CacheLevels []string      `koanf:"cache_levels" validate:"dive,oneof=memory disk"`
	Compress    bool          `koanf:"compress"`

	FieldMappings []FieldMapping `koanf:"field_mappings" validate:"dive"`
	Rules         []RuleConfig   `koanf:"rules" validate:"dive"`
	Conflict      ConflictConfig `koanf:"conflict"`
	HealthCheck   HealthConfig   `koanf:"health_check"`
}

// AuthKind is the closed set of supported authentication schemes.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthAPIKey AuthKind = "api_key"
	AuthQuery  AuthKind = "query"
)

// AuthConfig carries credentials for a source. Secret fields (Token,
// Password) accept ${ENV_NAME} references resolved at load time.
type AuthConfig struct {
	Kind     AuthKind `koanf:"kind" validate:"omitempty,oneof=none bearer basic api_key query"`
	Token    string   `koanf:"token"`
	Username string   `koanf:"username"`
	Password string   `koanf:"password"`
	Header   string   `koanf:"header"` // api_key: header name, default X-API-Key
	Param    string   `koanf:"param"`  // query: parameter name, default token
}

// RateLimitConfig bounds request admission over three windows.
type RateLimitConfig struct {
	PerSecond int `koanf:"per_second" validate:"min=0"`
	PerMinute int `koanf:"per_minute" validate:"min=0"`
	Burst     int `koanf:"burst" validate:"min=0"` // requests per 100ms
}

// RetryConfig controls per-request retry behavior.
type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts" validate:"min=1"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	BackoffBase  float64       `koanf:"backoff_base"`
	Jitter       bool          `koanf:"jitter"`
}

// FieldMapping renames a payload field and optionally coerces its type.
type FieldMapping struct {
	From string `koanf:"from" validate:"required"`
	To   string `koanf:"to" validate:"required"`
	Type string `koanf:"type" validate:"omitempty,oneof=string int float bool"`
}

// RuleConfig is the config-side representation of a validation rule. It is
// compiled into a typed rule variant by internal/validation.
type RuleConfig struct {
	Field   string   `koanf:"field" validate:"required"`
	Kind    string   `koanf:"kind" validate:"required,oneof=required range pattern enum type"`
	Min     *float64 `koanf:"min"`
	Max     *float64 `koanf:"max"`
	Pattern string   `koanf:"pattern"`
	Allowed []string `koanf:"allowed"`
	Type    string   `koanf:"type" validate:"omitempty,oneof=string number bool map list"`
}

// ConflictConfig selects the default resolution strategy for a source.
type ConflictConfig struct {
	Strategy string `koanf:"strategy" validate:"omitempty,oneof=latest_wins source_priority merge_fields custom_function manual_review"`
	Priority int    `koanf:"priority"`
}

// HealthConfig configures per-source liveness probing.
type HealthConfig struct {
	Endpoint string        `koanf:"endpoint"`
	Interval time.Duration `koanf:"interval"`
}

// defaultConfig returns a Config with all fleet-level defaults applied.
// Per-source defaults are applied by normalizeSource after unmarshaling.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Pool: PoolConfig{
			MaxIdleConns:        100,
			MaxConnsPerHost:     10,
			IdleConnTimeout:     90 * time.Second,
			InsecureSkipVerify:  false,
			GlobalRPS:           0, // Unlimited
			HealthConcurrency:   8,
			DisableKeepAlives:   false,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Memory: MemoryCacheConfig{
				MaxEntries: 10000,
				MaxBytes:   64 << 20, // 64MB
				Policy:     "lru",
				DefaultTTL: 5 * time.Minute,
			},
			Disk: DiskCacheConfig{
				Enabled:  true,
				Dir:      "/data/datapulse/cache",
				MaxBytes: 512 << 20, // 512MB
				Compress: false,
			},
		},
		Monitoring: MonitorConfig{
			MetricsAddr:     ":9090",
			SampleRetention: time.Hour,
			HealthInterval:  30 * time.Second,
			Thresholds: AlertThresholds{
				ConsecutiveFailures: 3,
				LatencyP95:          2 * time.Second,
				UptimeBelow:         50.0,
			},
		},
		Notifications: NotifyConfig{
			MaxStored:      1000,
			DefaultTTL:     time.Hour,
			DebounceWindow: 5 * time.Second,
			SweepInterval:  30 * time.Second,
		},
	}
}

// normalizeSource fills per-source defaults for zero-valued fields.
func normalizeSource(s *SourceConfig) {
	if s.Method == "" {
		s.Method = "GET"
	}
	if s.Auth.Kind == "" {
		s.Auth.Kind = AuthNone
	}
	if s.Auth.Kind == AuthAPIKey && s.Auth.Header == "" {
		s.Auth.Header = "X-API-Key"
	}
	if s.Auth.Kind == AuthQuery && s.Auth.Param == "" {
		s.Auth.Param = "token"
	}
	if s.RateLimit.PerSecond == 0 {
		s.RateLimit.PerSecond = 10
	}
	if s.RateLimit.PerMinute == 0 {
		s.RateLimit.PerMinute = 300
	}
	if s.RateLimit.Burst == 0 {
		s.RateLimit.Burst = 5
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = 3
	}
	if s.Retry.InitialDelay == 0 {
		s.Retry.InitialDelay = time.Second
	}
	if s.Retry.MaxDelay == 0 {
		s.Retry.MaxDelay = 30 * time.Second
	}
	if s.Retry.BackoffBase == 0 {
		s.Retry.BackoffBase = 2.0
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = 5 * time.Minute
	}
	if len(s.CacheLevels) == 0 {
		s.CacheLevels = []string{"memory", "disk"}
	}
	if s.Conflict.Strategy == "" {
		s.Conflict.Strategy = "latest_wins"
	}
	if s.HealthCheck.Interval == 0 {
		s.HealthCheck.Interval = 30 * time.Second
	}
}
