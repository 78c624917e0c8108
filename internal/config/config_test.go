package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/monitor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
storage:
  db_path: "./data/test.db"

detection:
  mode: rules
  lookback_days: 60
  ml:
    min_deviation_pct: 30
  rules:
    spike_factor: 1.5

telegram:
  bot_token: "test_token"
  chat_id: "test_chat_id"
  enabled: true
  min_severity: high

watch:
  interval: 30m
  users:
    - acme
    - globex

logging:
  level: "info"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Detection.Mode != monitor.ModeRules {
		t.Errorf("Unexpected mode: %s", cfg.Detection.Mode)
	}
	if cfg.Detection.LookbackDays != 60 {
		t.Errorf("Unexpected lookback: %d", cfg.Detection.LookbackDays)
	}
	if cfg.Detection.RecentWindowDays != 7 {
		t.Errorf("Default recent window not applied: %d", cfg.Detection.RecentWindowDays)
	}
	if cfg.Watch.Interval != 30*time.Minute {
		t.Errorf("Unexpected watch interval: %v", cfg.Watch.Interval)
	}
	if len(cfg.Watch.Users) != 2 {
		t.Errorf("Expected 2 users, got %d", len(cfg.Watch.Users))
	}

	mc := cfg.MonitorConfig()
	if mc.ML.MinDeviationPct != 30 || mc.Rules.SpikeFactor != 1.5 {
		t.Errorf("overrides not carried into monitor config: %+v", mc)
	}
	if mc.Rules.SpikeHighFactor != 3.0 || mc.ML.SpikeRatio != 5.0 {
		t.Errorf("defaults not carried into monitor config: %+v", mc)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.MonitorConfig() != monitor.DefaultConfig() {
		t.Errorf("default monitor config mismatch: %+v", cfg.MonitorConfig())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("COST_ANOMALY_DETECTION_MODE", "rules")
	t.Setenv("COST_ANOMALY_STORAGE_DB_PATH", "/tmp/override.db")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Detection.Mode != "rules" || cfg.Storage.DBPath != "/tmp/override.db" {
		t.Errorf("env override not applied: mode=%s db=%s", cfg.Detection.Mode, cfg.Storage.DBPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing db path", func(c *Config) { c.Storage.DBPath = "" }},
		{"unknown mode", func(c *Config) { c.Detection.Mode = "ml" }},
		{"recent window beyond lookback", func(c *Config) { c.Detection.RecentWindowDays = 120 }},
		{"zero parallelism", func(c *Config) { c.Detection.Parallelism = 0 }},
		{"inverted deviation bands", func(c *Config) { c.Detection.ML.HighDeviationPct = 10 }},
		{"spike ratio not above one", func(c *Config) { c.Detection.ML.SpikeRatio = 0.8 }},
		{"unordered spike factors", func(c *Config) { c.Detection.Rules.SpikeHighFactor = 2.0 }},
		{"single-day increase run", func(c *Config) { c.Detection.Rules.IncreaseRunDays = 1 }},
		{"missing telegram token when enabled", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.ChatID = "chat"
		}},
		{"unknown min severity", func(c *Config) { c.Telegram.MinSeverity = "critical" }},
		{"watch interval too short", func(c *Config) { c.Watch.Interval = time.Second }},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddr = ""
		}},
		{"invalid log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}
