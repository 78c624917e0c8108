package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
	"github.com/kannan-ms/cloudCostAnalytics/internal/monitor"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Models    ModelsConfig    `mapstructure:"models"`
	Detection DetectionConfig `mapstructure:"detection"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// ModelsConfig locates the per-category model artifacts
type ModelsConfig struct {
	Dir  string `mapstructure:"dir"`
	Seed int64  `mapstructure:"seed"`
}

// DetectionConfig holds detection run configuration
type DetectionConfig struct {
	Mode             string      `mapstructure:"mode"` // hybrid or rules
	LookbackDays     int         `mapstructure:"lookback_days"`
	RecentWindowDays int         `mapstructure:"recent_window_days"`
	MinHistoryDays   int         `mapstructure:"min_history_days"`
	Parallelism      int         `mapstructure:"parallelism"`
	ML               MLConfig    `mapstructure:"ml"`
	Rules            RulesConfig `mapstructure:"rules"`
}

// MLConfig holds the model scorer thresholds
type MLConfig struct {
	MinCost          float64 `mapstructure:"min_cost"`
	MinDeviationPct  float64 `mapstructure:"min_deviation_pct"`
	HighDeviationPct float64 `mapstructure:"high_deviation_pct"`
	SpikeRatio       float64 `mapstructure:"spike_ratio"`
	DropRatio        float64 `mapstructure:"drop_ratio"`
}

// RulesConfig holds the fallback rule thresholds
type RulesConfig struct {
	SpikeWindowDays        int     `mapstructure:"spike_window_days"`
	SpikeFactor            float64 `mapstructure:"spike_factor"`
	SpikeMediumFactor      float64 `mapstructure:"spike_medium_factor"`
	SpikeHighFactor        float64 `mapstructure:"spike_high_factor"`
	NewServiceWindowDays   int     `mapstructure:"new_service_window_days"`
	NewServiceLookbackDays int     `mapstructure:"new_service_lookback_days"`
	NewServiceMediumCost   float64 `mapstructure:"new_service_medium_cost"`
	IncreaseWindowDays     int     `mapstructure:"increase_window_days"`
	IncreaseRunDays        int     `mapstructure:"increase_run_days"`
	IncreaseMinPct         float64 `mapstructure:"increase_min_pct"`
	IncreaseMediumPct      float64 `mapstructure:"increase_medium_pct"`
	IncreaseHighPct        float64 `mapstructure:"increase_high_pct"`
	DedupLookbackDays      int     `mapstructure:"dedup_lookback_days"`
}

// IngestConfig holds the upstream cost record endpoint configuration
type IngestConfig struct {
	SourceURL      string        `mapstructure:"source_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MinSeverity    string        `mapstructure:"min_severity"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// WatchConfig holds the detection daemon configuration
type WatchConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Users    []string      `mapstructure:"users"` // empty = every user in the store
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // empty = stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// COST_ANOMALY_DETECTION_MODE overrides detection.mode
	v.SetEnvPrefix("COST_ANOMALY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.db_path", "./data/cost-anomaly.db")

	v.SetDefault("models.dir", "./models")
	v.SetDefault("models.seed", 42)

	d := monitor.DefaultConfig()
	v.SetDefault("detection.mode", d.Mode)
	v.SetDefault("detection.lookback_days", d.LookbackDays)
	v.SetDefault("detection.recent_window_days", d.RecentWindowDays)
	v.SetDefault("detection.min_history_days", d.MinHistoryDays)
	v.SetDefault("detection.parallelism", d.Parallelism)
	v.SetDefault("detection.ml.min_cost", d.ML.MinCost)
	v.SetDefault("detection.ml.min_deviation_pct", d.ML.MinDeviationPct)
	v.SetDefault("detection.ml.high_deviation_pct", d.ML.HighDeviationPct)
	v.SetDefault("detection.ml.spike_ratio", d.ML.SpikeRatio)
	v.SetDefault("detection.ml.drop_ratio", d.ML.DropRatio)
	v.SetDefault("detection.rules.spike_window_days", d.Rules.SpikeWindowDays)
	v.SetDefault("detection.rules.spike_factor", d.Rules.SpikeFactor)
	v.SetDefault("detection.rules.spike_medium_factor", d.Rules.SpikeMediumFactor)
	v.SetDefault("detection.rules.spike_high_factor", d.Rules.SpikeHighFactor)
	v.SetDefault("detection.rules.new_service_window_days", d.Rules.NewServiceWindowDays)
	v.SetDefault("detection.rules.new_service_lookback_days", d.Rules.NewServiceLookbackDays)
	v.SetDefault("detection.rules.new_service_medium_cost", d.Rules.NewServiceMediumCost)
	v.SetDefault("detection.rules.increase_window_days", d.Rules.IncreaseWindowDays)
	v.SetDefault("detection.rules.increase_run_days", d.Rules.IncreaseRunDays)
	v.SetDefault("detection.rules.increase_min_pct", d.Rules.IncreaseMinPct)
	v.SetDefault("detection.rules.increase_medium_pct", d.Rules.IncreaseMediumPct)
	v.SetDefault("detection.rules.increase_high_pct", d.Rules.IncreaseHighPct)
	v.SetDefault("detection.rules.dedup_lookback_days", d.Rules.DedupLookbackDays)

	v.SetDefault("ingest.timeout", "30s")
	v.SetDefault("ingest.max_retries", 3)
	v.SetDefault("ingest.retry_delay_base", "2s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.min_severity", "medium")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("watch.interval", "1h")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Models.Dir == "" {
		return fmt.Errorf("models.dir is required")
	}

	d := c.Detection
	if d.Mode != monitor.ModeHybrid && d.Mode != monitor.ModeRules {
		return fmt.Errorf("detection.mode must be one of: hybrid, rules")
	}
	if d.LookbackDays < 1 {
		return fmt.Errorf("detection.lookback_days must be at least 1")
	}
	if d.RecentWindowDays < 1 || d.RecentWindowDays > d.LookbackDays {
		return fmt.Errorf("detection.recent_window_days must be between 1 and detection.lookback_days")
	}
	if d.MinHistoryDays < 1 {
		return fmt.Errorf("detection.min_history_days must be at least 1")
	}
	if d.Parallelism < 1 {
		return fmt.Errorf("detection.parallelism must be at least 1")
	}
	if d.ML.MinCost < 0 {
		return fmt.Errorf("detection.ml.min_cost must not be negative")
	}
	if d.ML.MinDeviationPct < 0 || d.ML.HighDeviationPct < d.ML.MinDeviationPct {
		return fmt.Errorf("detection.ml.high_deviation_pct must be at least detection.ml.min_deviation_pct")
	}
	if d.ML.DropRatio < 0 || d.ML.DropRatio >= 1 || d.ML.SpikeRatio <= 1 {
		return fmt.Errorf("detection.ml.drop_ratio must be in [0, 1) and detection.ml.spike_ratio above 1")
	}
	r := d.Rules
	if r.SpikeWindowDays < 1 || r.NewServiceWindowDays < 1 || r.IncreaseWindowDays < 1 {
		return fmt.Errorf("detection.rules window days must be at least 1")
	}
	if r.NewServiceLookbackDays < 1 || r.DedupLookbackDays < 1 {
		return fmt.Errorf("detection.rules lookback days must be at least 1")
	}
	if r.SpikeFactor <= 1 || r.SpikeMediumFactor < r.SpikeFactor || r.SpikeHighFactor < r.SpikeMediumFactor {
		return fmt.Errorf("detection.rules spike factors must satisfy 1 < spike_factor <= spike_medium_factor <= spike_high_factor")
	}
	if r.IncreaseRunDays < 2 {
		return fmt.Errorf("detection.rules.increase_run_days must be at least 2")
	}
	if r.IncreaseMinPct < 0 || r.IncreaseMediumPct < r.IncreaseMinPct || r.IncreaseHighPct < r.IncreaseMediumPct {
		return fmt.Errorf("detection.rules increase percentages must satisfy 0 <= min <= medium <= high")
	}

	if c.Ingest.SourceURL != "" {
		if c.Ingest.Timeout <= 0 {
			return fmt.Errorf("ingest.timeout must be positive")
		}
		if c.Ingest.MaxRetries < 0 {
			return fmt.Errorf("ingest.max_retries must not be negative")
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if !models.Severity(c.Telegram.MinSeverity).Valid() {
		return fmt.Errorf("telegram.min_severity must be one of: low, medium, high")
	}

	if c.Watch.Interval < 1*time.Minute {
		return fmt.Errorf("watch.interval must be at least 1 minute")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be at least 1")
	}

	return nil
}

// MonitorConfig converts the detection section into the monitor's configuration
func (c *Config) MonitorConfig() monitor.Config {
	d := c.Detection
	return monitor.Config{
		Mode:             d.Mode,
		LookbackDays:     d.LookbackDays,
		RecentWindowDays: d.RecentWindowDays,
		MinHistoryDays:   d.MinHistoryDays,
		Parallelism:      d.Parallelism,
		ML: monitor.MLConfig{
			MinCost:          d.ML.MinCost,
			MinDeviationPct:  d.ML.MinDeviationPct,
			HighDeviationPct: d.ML.HighDeviationPct,
			SpikeRatio:       d.ML.SpikeRatio,
			DropRatio:        d.ML.DropRatio,
		},
		Rules: monitor.RulesConfig{
			SpikeWindowDays:        d.Rules.SpikeWindowDays,
			SpikeFactor:            d.Rules.SpikeFactor,
			SpikeMediumFactor:      d.Rules.SpikeMediumFactor,
			SpikeHighFactor:        d.Rules.SpikeHighFactor,
			NewServiceWindowDays:   d.Rules.NewServiceWindowDays,
			NewServiceLookbackDays: d.Rules.NewServiceLookbackDays,
			NewServiceMediumCost:   d.Rules.NewServiceMediumCost,
			IncreaseWindowDays:     d.Rules.IncreaseWindowDays,
			IncreaseRunDays:        d.Rules.IncreaseRunDays,
			IncreaseMinPct:         d.Rules.IncreaseMinPct,
			IncreaseMediumPct:      d.Rules.IncreaseMediumPct,
			IncreaseHighPct:        d.Rules.IncreaseHighPct,
			DedupLookbackDays:      d.Rules.DedupLookbackDays,
		},
	}
}
