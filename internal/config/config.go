// Package config loads the settings shared by every signals command.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalspoc/signals/internal/ai"
	"github.com/signalspoc/signals/internal/analysis"
	"github.com/signalspoc/signals/internal/detector"
	"github.com/signalspoc/signals/internal/dispatch"
	"github.com/signalspoc/signals/internal/storage"
)

// EnvPrefix is prepended to every environment override, e.g. SIGNALS_AI_MODEL.
const EnvPrefix = "SIGNALS"

// Config holds all runtime settings.
type Config struct {
	DB         DBConfig         `mapstructure:"db"`
	Fixtures   string           `mapstructure:"fixtures"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	AI         AIConfig         `mapstructure:"ai"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	LogLevel   string           `mapstructure:"log_level"` // debug, info, warn or error
}

// DBConfig locates the SQLite store.
type DBConfig struct {
	// Path is the database file, or ":memory:"
	Path string `mapstructure:"path"`
}

// DetectionConfig controls the rule-based detection job.
type DetectionConfig struct {
	// Interval between the end of one pass and the start of the next
	// Default: 5m, Range: 10s-24h
	Interval time.Duration `mapstructure:"interval"`

	// InitialDelay before the first pass
	// Default: 1m
	InitialDelay time.Duration `mapstructure:"initial_delay"`

	// StaleAfterDays is how long a PR may stay open before STALE_PR
	// Default: 7, Range: 1-365
	StaleAfterDays int `mapstructure:"stale_after_days"`
}

// AnalysisConfig controls the batch semantic analysis job.
type AnalysisConfig struct {
	// Default: 30m, Range: 1m-24h
	Interval time.Duration `mapstructure:"interval"`

	// Default: 2m
	InitialDelay time.Duration `mapstructure:"initial_delay"`

	// BatchSize is the number of PR/task pairs per model call
	// Default: 5, Range: 1-50
	BatchSize int `mapstructure:"batch_size"`

	// Default: 1500, Range: 100-8192
	MaxTokens int `mapstructure:"max_tokens"`
}

// EnrichmentConfig controls the enrichment worker.
type EnrichmentConfig struct {
	// QueueSize bounds pending events; new events are dropped when full
	// Default: 100, Range: 1-10000
	QueueSize int `mapstructure:"queue_size"`

	// MaxTokens bounds the action recommendation answer
	// Default: 500, Range: 50-4096
	MaxTokens int `mapstructure:"max_tokens"`
}

// GatewayConfig bounds calls to the PR and task systems.
type GatewayConfig struct {
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout"`
}

// AIConfig selects the inference backend.
type AIConfig struct {
	Provider          string        `mapstructure:"provider"`
	URL               string        `mapstructure:"url"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	SystemPromptBaked bool          `mapstructure:"system_prompt_baked"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// DispatchConfig controls action execution.
type DispatchConfig struct {
	// ClaimTTL is how long an in-flight action blocks a second dispatch
	// Default: 10m
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB: DBConfig{Path: storage.DefaultPath},
		Detection: DetectionConfig{
			Interval:       5 * time.Minute,
			InitialDelay:   time.Minute,
			StaleAfterDays: 7,
		},
		Analysis: AnalysisConfig{
			Interval:     30 * time.Minute,
			InitialDelay: 2 * time.Minute,
			BatchSize:    5,
			MaxTokens:    1500,
		},
		Enrichment: EnrichmentConfig{
			QueueSize: 100,
			MaxTokens: 500,
		},
		Gateway: GatewayConfig{Timeout: 30 * time.Second},
		AI: AIConfig{
			Provider: ai.ProviderOllama,
			URL:      "http://localhost:11434",
			Model:    "llama3",
			Timeout:  30 * time.Second,
		},
		Dispatch: DispatchConfig{ClaimTTL: 10 * time.Minute},
		LogLevel: "info",
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.DB.Path == "" {
		return errors.New("db.path must not be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	if c.Detection.Interval < 10*time.Second || c.Detection.Interval > 24*time.Hour {
		return fmt.Errorf("detection.interval must be between 10s and 24h (got %s)", c.Detection.Interval)
	}
	if c.Detection.InitialDelay < 0 {
		return fmt.Errorf("detection.initial_delay must be non-negative (got %s)", c.Detection.InitialDelay)
	}
	if c.Detection.StaleAfterDays < 1 || c.Detection.StaleAfterDays > 365 {
		return fmt.Errorf("detection.stale_after_days must be between 1 and 365 (got %d)", c.Detection.StaleAfterDays)
	}

	if c.Analysis.Interval < time.Minute || c.Analysis.Interval > 24*time.Hour {
		return fmt.Errorf("analysis.interval must be between 1m and 24h (got %s)", c.Analysis.Interval)
	}
	if c.Analysis.InitialDelay < 0 {
		return fmt.Errorf("analysis.initial_delay must be non-negative (got %s)", c.Analysis.InitialDelay)
	}
	if c.Analysis.BatchSize < 1 || c.Analysis.BatchSize > 50 {
		return fmt.Errorf("analysis.batch_size must be between 1 and 50 (got %d)", c.Analysis.BatchSize)
	}
	if c.Analysis.MaxTokens < 100 || c.Analysis.MaxTokens > 8192 {
		return fmt.Errorf("analysis.max_tokens must be between 100 and 8192 (got %d)", c.Analysis.MaxTokens)
	}

	if c.Enrichment.QueueSize < 1 || c.Enrichment.QueueSize > 10000 {
		return fmt.Errorf("enrichment.queue_size must be between 1 and 10000 (got %d)", c.Enrichment.QueueSize)
	}
	if c.Enrichment.MaxTokens < 50 || c.Enrichment.MaxTokens > 4096 {
		return fmt.Errorf("enrichment.max_tokens must be between 50 and 4096 (got %d)", c.Enrichment.MaxTokens)
	}

	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive (got %s)", c.Gateway.Timeout)
	}

	switch c.AI.Provider {
	case ai.ProviderOllama, ai.ProviderAnthropic, ai.ProviderNone:
	default:
		return fmt.Errorf("ai.provider must be one of %s, %s, %s (got %q)",
			ai.ProviderOllama, ai.ProviderAnthropic, ai.ProviderNone, c.AI.Provider)
	}
	if c.AI.Provider == ai.ProviderOllama && c.AI.URL == "" {
		return errors.New("ai.url is required for the ollama provider")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive (got %s)", c.AI.Timeout)
	}
	if c.AI.RequestsPerMinute < 0 {
		return fmt.Errorf("ai.requests_per_minute must be non-negative (got %d)", c.AI.RequestsPerMinute)
	}

	if c.Dispatch.ClaimTTL < time.Second {
		return fmt.Errorf("dispatch.claim_ttl must be at least 1s (got %s)", c.Dispatch.ClaimTTL)
	}

	return nil
}

// NewViper returns a viper instance carrying the defaults and the
// SIGNALS_ environment overrides. Callers may bind flags into it before
// calling FromViper.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("db.path", d.DB.Path)
	v.SetDefault("fixtures", d.Fixtures)
	v.SetDefault("detection.interval", d.Detection.Interval)
	v.SetDefault("detection.initial_delay", d.Detection.InitialDelay)
	v.SetDefault("detection.stale_after_days", d.Detection.StaleAfterDays)
	v.SetDefault("analysis.interval", d.Analysis.Interval)
	v.SetDefault("analysis.initial_delay", d.Analysis.InitialDelay)
	v.SetDefault("analysis.batch_size", d.Analysis.BatchSize)
	v.SetDefault("analysis.max_tokens", d.Analysis.MaxTokens)
	v.SetDefault("enrichment.queue_size", d.Enrichment.QueueSize)
	v.SetDefault("enrichment.max_tokens", d.Enrichment.MaxTokens)
	v.SetDefault("gateway.timeout", d.Gateway.Timeout)
	v.SetDefault("ai.provider", d.AI.Provider)
	v.SetDefault("ai.url", d.AI.URL)
	v.SetDefault("ai.model", d.AI.Model)
	v.SetDefault("ai.api_key", d.AI.APIKey)
	v.SetDefault("ai.system_prompt_baked", d.AI.SystemPromptBaked)
	v.SetDefault("ai.timeout", d.AI.Timeout)
	v.SetDefault("ai.requests_per_minute", d.AI.RequestsPerMinute)
	v.SetDefault("dispatch.claim_ttl", d.Dispatch.ClaimTTL)
	v.SetDefault("log_level", d.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FromViper reads the optional YAML file at path into v and decodes the
// result. An empty path skips the file.
func FromViper(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load returns defaults overlaid with the YAML file at path (if any) and
// SIGNALS_ environment variables.
func Load(path string) (Config, error) {
	return FromViper(NewViper(), path)
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level must be debug, info, warn or error (got %q)", c.LogLevel)
	}
	return l, nil
}

// AIGateway returns the inference backend settings.
func (c Config) AIGateway() ai.Config {
	return ai.Config{
		Provider:          c.AI.Provider,
		URL:               c.AI.URL,
		Model:             c.AI.Model,
		APIKey:            c.AI.APIKey,
		SystemPromptBaked: c.AI.SystemPromptBaked,
		Timeout:           c.AI.Timeout,
		MaxTokens:         c.Enrichment.MaxTokens,
		RequestsPerMinute: c.AI.RequestsPerMinute,
	}
}

// Detector returns the detection pass settings.
func (c Config) Detector() detector.Config {
	return detector.Config{
		StaleAfterDays: c.Detection.StaleAfterDays,
		GatewayTimeout: c.Gateway.Timeout,
	}
}

// Analyzer returns the batch analysis settings.
func (c Config) Analyzer() analysis.Config {
	return analysis.Config{
		BatchSize:      c.Analysis.BatchSize,
		MaxTokens:      c.Analysis.MaxTokens,
		GatewayTimeout: c.Gateway.Timeout,
		ReconcileLimit: c.Enrichment.QueueSize,
	}
}

// Dispatcher returns the action dispatch settings.
func (c Config) Dispatcher() dispatch.Config {
	return dispatch.Config{
		ClaimTTL:       c.Dispatch.ClaimTTL,
		GatewayTimeout: c.Gateway.Timeout,
	}
}

// String returns a human-readable representation of the config. The API
// key is never printed.
func (c Config) String() string {
	key := ""
	if c.AI.APIKey != "" {
		key = "set"
	}
	return fmt.Sprintf(
		"Config{DB: %s, Fixtures: %q, Detection: %s/%dd, Analysis: %s/batch=%d, Queue: %d, AI: %s %s (key %s), ClaimTTL: %s}",
		c.DB.Path, c.Fixtures, c.Detection.Interval, c.Detection.StaleAfterDays,
		c.Analysis.Interval, c.Analysis.BatchSize, c.Enrichment.QueueSize,
		c.AI.Provider, c.AI.Model, orDash(key), c.Dispatch.ClaimTTL,
	)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
