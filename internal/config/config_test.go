// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validSource returns a minimal source that passes validation, with
// per-source defaults already applied.
func validSource(id string) SourceConfig {
	s := SourceConfig{
		ID:           id,
		BaseURL:      "https://api.example.com",
		PollInterval: time.Minute,
	}
	normalizeSource(&s)
	return s
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Cache.Memory.MaxEntries != 10000 || cfg.Cache.Memory.Policy != "lru" {
		t.Errorf("unexpected memory cache defaults: %+v", cfg.Cache.Memory)
	}
	if cfg.Monitoring.Thresholds.ConsecutiveFailures != 3 {
		t.Errorf("unexpected alert thresholds: %+v", cfg.Monitoring.Thresholds)
	}
	if cfg.Notifications.DebounceWindow != 5*time.Second {
		t.Errorf("unexpected notification defaults: %+v", cfg.Notifications)
	}
	if len(cfg.Sources) != 0 {
		t.Errorf("defaults should carry no sources, got %d", len(cfg.Sources))
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datapulse.yaml")
	raw := `
logging:
  level: debug
cache:
  memory:
    policy: lfu
sources:
  - id: weather
    name: Weather API
    base_url: https://api.weather.example
    endpoint: /v1/current
    poll_interval: 30s
    rate_limit:
      per_second: 2
    rules:
      - field: temperature
        kind: range
        min: -100
        max: 100
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("file should override the default level, got %q", cfg.Logging.Level)
	}
	if cfg.Cache.Memory.Policy != "lfu" {
		t.Errorf("file should override the eviction policy, got %q", cfg.Cache.Memory.Policy)
	}
	if len(cfg.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(cfg.Sources))
	}

	src := cfg.Sources[0]
	if src.ID != "weather" || src.PollInterval != 30*time.Second {
		t.Errorf("unexpected source: %+v", src)
	}
	if src.RateLimit.PerSecond != 2 {
		t.Errorf("file rate limit should win, got %d", src.RateLimit.PerSecond)
	}
	// Unset fields pick up per-source defaults.
	if src.Method != "GET" || src.RateLimit.PerMinute != 300 || src.Retry.MaxAttempts != 3 {
		t.Errorf("per-source defaults not applied: %+v", src)
	}
	if src.Conflict.Strategy != "latest_wins" {
		t.Errorf("expected latest_wins default, got %q", src.Conflict.Strategy)
	}
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	t.Setenv("DATAPULSE_LOG_LEVEL", "warn")
	t.Setenv("DATAPULSE_METRICS_ADDR", ":9191")
	t.Setenv("DATAPULSE_NOTIFY_DEBOUNCE", "10s")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env should override the level, got %q", cfg.Logging.Level)
	}
	if cfg.Monitoring.MetricsAddr != ":9191" {
		t.Errorf("env should override the metrics addr, got %q", cfg.Monitoring.MetricsAddr)
	}
	if cfg.Notifications.DebounceWindow != 10*time.Second {
		t.Errorf("env should override the debounce window, got %v", cfg.Notifications.DebounceWindow)
	}
}

func TestLoadFile_BadLevelRejected(t *testing.T) {
	t.Setenv("DATAPULSE_LOG_LEVEL", "loud")
	if _, err := LoadFile(""); err == nil {
		t.Error("an unknown log level should fail validation")
	}
}

func TestResolveSecrets(t *testing.T) {
	cfg := defaultConfig()
	src := validSource("s1")
	src.Auth.Kind = AuthBearer
	src.Auth.Token = "${API_TOKEN}"
	cfg.Sources = append(cfg.Sources, src)

	lookup := func(name string) (string, bool) {
		if name == "API_TOKEN" {
			return "sekret", true
		}
		return "", false
	}
	if err := cfg.ResolveSecrets(lookup); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Sources[0].Auth.Token != "sekret" {
		t.Errorf("expected resolved token, got %q", cfg.Sources[0].Auth.Token)
	}
}

func TestResolveSecrets_UnsetVarFails(t *testing.T) {
	cfg := defaultConfig()
	src := validSource("s1")
	src.Auth.Kind = AuthBearer
	src.Auth.Token = "${NO_SUCH_VAR}"
	cfg.Sources = append(cfg.Sources, src)

	err := cfg.ResolveSecrets(func(string) (string, bool) { return "", false })
	if err == nil {
		t.Fatal("an unset secret reference should fail")
	}
	if !strings.Contains(err.Error(), "NO_SUCH_VAR") {
		t.Errorf("error should name the missing variable: %v", err)
	}
}

func TestResolveSecrets_LiteralPassesThrough(t *testing.T) {
	cfg := defaultConfig()
	src := validSource("s1")
	src.Auth.Kind = AuthBearer
	src.Auth.Token = "plain-token"
	cfg.Sources = append(cfg.Sources, src)

	if err := cfg.ResolveSecrets(func(string) (string, bool) { return "", false }); err != nil {
		t.Fatalf("literal credentials should not consult the environment: %v", err)
	}
	if cfg.Sources[0].Auth.Token != "plain-token" {
		t.Errorf("literal token should be untouched, got %q", cfg.Sources[0].Auth.Token)
	}
}

func TestValidate_DuplicateSourceIDs(t *testing.T) {
	cfg := defaultConfig()
	cfg.Sources = append(cfg.Sources, validSource("dup"), validSource("dup"))

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate id error, got %v", err)
	}
}

func TestValidate_AuthCredentials(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AuthConfig)
		wantErr bool
	}{
		{"none needs nothing", func(a *AuthConfig) { a.Kind = AuthNone }, false},
		{"bearer without token", func(a *AuthConfig) { a.Kind = AuthBearer }, true},
		{"bearer with token", func(a *AuthConfig) { a.Kind = AuthBearer; a.Token = "t" }, false},
		{"basic without password", func(a *AuthConfig) { a.Kind = AuthBasic; a.Username = "u" }, true},
		{"basic complete", func(a *AuthConfig) { a.Kind = AuthBasic; a.Username = "u"; a.Password = "p" }, false},
		{"api key without token", func(a *AuthConfig) { a.Kind = AuthAPIKey }, true},
		{"query without token", func(a *AuthConfig) { a.Kind = AuthQuery }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			src := validSource("s1")
			tc.mutate(&src.Auth)
			cfg.Sources = append(cfg.Sources, src)

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestValidate_RuleParameters(t *testing.T) {
	tests := []struct {
		name    string
		rule    RuleConfig
		wantErr bool
	}{
		{"required is complete", RuleConfig{Field: "f", Kind: "required"}, false},
		{"range without bounds", RuleConfig{Field: "f", Kind: "range"}, true},
		{"range with min", RuleConfig{Field: "f", Kind: "range", Min: floatPtr(0)}, false},
		{"pattern without pattern", RuleConfig{Field: "f", Kind: "pattern"}, true},
		{"pattern invalid regexp", RuleConfig{Field: "f", Kind: "pattern", Pattern: "["}, true},
		{"pattern valid", RuleConfig{Field: "f", Kind: "pattern", Pattern: "^[a-z]+$"}, false},
		{"enum without values", RuleConfig{Field: "f", Kind: "enum"}, true},
		{"enum with values", RuleConfig{Field: "f", Kind: "enum", Allowed: []string{"a"}}, false},
		{"type without type", RuleConfig{Field: "f", Kind: "type"}, true},
		{"type with type", RuleConfig{Field: "f", Kind: "type", Type: "number"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			src := validSource("s1")
			src.Rules = []RuleConfig{tc.rule}
			cfg.Sources = append(cfg.Sources, src)

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestValidate_SourceRequiresBaseURL(t *testing.T) {
	cfg := defaultConfig()
	src := validSource("s1")
	src.BaseURL = ""
	cfg.Sources = append(cfg.Sources, src)

	if err := cfg.Validate(); err == nil {
		t.Error("a source without a base URL should fail validation")
	}
}

func TestNormalizeSource_AuthDefaults(t *testing.T) {
	s := SourceConfig{ID: "s", BaseURL: "https://x", PollInterval: time.Minute}
	s.Auth.Kind = AuthAPIKey
	normalizeSource(&s)
	if s.Auth.Header != "X-API-Key" {
		t.Errorf("api_key should default the header, got %q", s.Auth.Header)
	}

	s = SourceConfig{ID: "s", BaseURL: "https://x", PollInterval: time.Minute}
	s.Auth.Kind = AuthQuery
	normalizeSource(&s)
	if s.Auth.Param != "token" {
		t.Errorf("query should default the parameter, got %q", s.Auth.Param)
	}
}

func floatPtr(f float64) *float64 { return &f }
