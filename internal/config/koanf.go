// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"datapulse.yaml",
	"datapulse.yml",
	"/etc/datapulse/config.yaml",
	"/etc/datapulse/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces environment overrides.
const envPrefix = "DATAPULSE_"

// envKeyMap maps environment variable suffixes (after DATAPULSE_) to koanf
// paths. Only fleet-level scalars are overridable from the environment;
// per-source configuration lives in the config file.
var envKeyMap = map[string]string{
	"LOG_LEVEL":            "logging.level",
	"LOG_FORMAT":           "logging.format",
	"LOG_CALLER":           "logging.caller",
	"POOL_GLOBAL_RPS":      "pool.global_rps",
	"CACHE_MEMORY_POLICY":  "cache.memory.policy",
	"CACHE_DISK_DIR":       "cache.disk.dir",
	"CACHE_DISK_ENABLED":   "cache.disk.enabled",
	"CACHE_DISK_COMPRESS":  "cache.disk.compress",
	"METRICS_ADDR":         "monitoring.metrics_addr",
	"HEALTH_INTERVAL":      "monitoring.health_interval",
	"NOTIFY_MAX_STORED":    "notifications.max_stored",
	"NOTIFY_DEBOUNCE":      "notifications.debounce_window",
	"NOTIFY_DEFAULT_TTL":   "notifications.default_ttl",
	"NOTIFY_SWEEP":         "notifications.sweep_interval",
	"SAMPLE_RETENTION":     "monitoring.sample_retention",
	"ALERT_CONSEC_FAILS":   "monitoring.thresholds.consecutive_failures",
	"ALERT_LATENCY_P95":    "monitoring.thresholds.latency_p95",
	"ALERT_UPTIME_BELOW":   "monitoring.thresholds.uptime_below",
}

// Load builds configuration from layered sources (highest priority wins):
//
//  1. Built-in defaults
//  2. Optional YAML config file (CONFIG_PATH or DefaultConfigPaths)
//  3. DATAPULSE_* environment variables (fleet-level scalars only)
//
// After unmarshaling, per-source defaults are applied, ${ENV} secret
// references are resolved, and the result is validated.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path; an empty path skips
// the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(key string) string {
		return envKeyMap[strings.TrimPrefix(key, envPrefix)]
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	for i := range cfg.Sources {
		normalizeSource(&cfg.Sources[i])
	}

	if err := cfg.ResolveSecrets(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, checking CONFIG_PATH first.
// Returns an empty string if no file exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
