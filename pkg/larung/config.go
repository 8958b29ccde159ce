// Package larung assembles the transcription worker from configuration.
package larung

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/larung/pkg/continuity"
	"github.com/harunnryd/larung/pkg/recognition"
	"github.com/harunnryd/larung/pkg/resilience"
	"github.com/harunnryd/larung/pkg/sources"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Worker     WorkerConfig  `mapstructure:"worker"`
	Recognizer VendorConfig  `mapstructure:"recognizer"`
	Sources    SourcesConfig `mapstructure:"sources"`
	Events     EventsConfig  `mapstructure:"events"`
	Storage    StorageConfig `mapstructure:"storage"`
	Privacy    PrivacyConfig `mapstructure:"privacy"`
}

// WorkerConfig is the execution envelope of one work unit. Durations are
// plain milliseconds so the YAML stays free of unit strings.
type WorkerConfig struct {
	TimeBudgetMS       int `mapstructure:"time_budget_ms"`
	SafetyMarginMS     int `mapstructure:"safety_margin_ms"`
	IterationCap       int `mapstructure:"iteration_cap"`
	SampleRate         int `mapstructure:"sample_rate"`
	PeriodMS           int `mapstructure:"period_ms"`
	InactivityWindowMS int `mapstructure:"inactivity_window_ms"`
	KeepAliveAfterMS   int `mapstructure:"keepalive_after_ms"`
	BufferCapacity     int `mapstructure:"buffer_capacity"`
	AudioQueue         int `mapstructure:"audio_queue"`
	DrainTimeoutMS     int `mapstructure:"drain_timeout_ms"`

	Interim         bool                       `mapstructure:"interim"`
	Language        string                     `mapstructure:"language"`
	Vocabulary      []string                   `mapstructure:"vocabulary"`
	EmitConfigEvent bool                       `mapstructure:"emit_config_event"`
	Categories      []recognition.CategoryRule `mapstructure:"categories"`
	STTRetries      int                        `mapstructure:"stt_retries"`
	STTBackoffMS    int                        `mapstructure:"stt_backoff_ms"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type SourcesConfig struct {
	Lookup sources.HTTPLookupConfig `mapstructure:"lookup"`
	Poller PollerConfig             `mapstructure:"poller"`
	WS     WSConfig                 `mapstructure:"ws"`
	Hook   HookConfig               `mapstructure:"hook"`
	Twilio sources.TwilioConfig     `mapstructure:"twilio"`
}

type PollerConfig struct {
	IntervalMS int `mapstructure:"interval_ms"`
	TimeoutMS  int `mapstructure:"timeout_ms"`
	Retries    int `mapstructure:"retries"`
	BackoffMS  int `mapstructure:"backoff_ms"`
}

type WSConfig struct {
	HandshakeTimeoutMS int   `mapstructure:"handshake_timeout_ms"`
	ReadLimit          int64 `mapstructure:"read_limit"`
}

type HookConfig struct {
	URL       string `mapstructure:"url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
	Required  bool   `mapstructure:"required"`
}

type EventsConfig struct {
	// Backend is sqlite or memory.
	Backend          string `mapstructure:"backend"`
	Path             string `mapstructure:"path"`
	SuppressPartials bool   `mapstructure:"suppress_partials"`
	BreakerThreshold int    `mapstructure:"breaker_threshold"`
	BreakerCooldownS int    `mapstructure:"breaker_cooldown_s"`
}

type StorageConfig struct {
	// Backend is fs or memory.
	Backend string `mapstructure:"backend"`
	Root    string `mapstructure:"root"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("worker.time_budget_ms", 840000)
	v.SetDefault("worker.safety_margin_ms", 30000)
	v.SetDefault("worker.iteration_cap", 30)
	v.SetDefault("worker.sample_rate", 8000)
	v.SetDefault("worker.period_ms", 100)
	v.SetDefault("worker.inactivity_window_ms", 300000)
	v.SetDefault("worker.keepalive_after_ms", 500)
	v.SetDefault("worker.drain_timeout_ms", 30000)
	v.SetDefault("worker.interim", true)
	v.SetDefault("worker.emit_config_event", true)
	v.SetDefault("worker.stt_retries", 3)
	v.SetDefault("worker.stt_backoff_ms", 500)
	v.SetDefault("recognizer.provider", "deepgram")
	v.SetDefault("sources.poller.interval_ms", 250)
	v.SetDefault("sources.poller.timeout_ms", 15000)
	v.SetDefault("sources.poller.retries", 2)
	v.SetDefault("sources.poller.backoff_ms", 100)
	v.SetDefault("events.backend", "sqlite")
	v.SetDefault("events.path", "events.db")
	v.SetDefault("events.suppress_partials", true)
	v.SetDefault("events.breaker_threshold", 5)
	v.SetDefault("events.breaker_cooldown_s", 10)
	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.root", "recordings")
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.Recognizer.Settings = expandSettings(cfg.Recognizer.Settings)
	cfg.Sources.Lookup.URL = os.ExpandEnv(cfg.Sources.Lookup.URL)
	cfg.Sources.Hook.URL = os.ExpandEnv(cfg.Sources.Hook.URL)
	cfg.Sources.Twilio.AccountSID = os.ExpandEnv(cfg.Sources.Twilio.AccountSID)
	cfg.Sources.Twilio.AuthToken = os.ExpandEnv(cfg.Sources.Twilio.AuthToken)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Recognizer.Provider) == "" {
		return fmt.Errorf("recognizer.provider is required")
	}
	switch c.Events.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("events.backend must be sqlite or memory, got %s", c.Events.Backend)
	}
	switch c.Storage.Backend {
	case "fs", "memory":
	default:
		return fmt.Errorf("storage.backend must be fs or memory, got %s", c.Storage.Backend)
	}
	if c.Worker.SafetyMarginMS >= c.Worker.TimeBudgetMS {
		return fmt.Errorf("worker.safety_margin_ms must be below worker.time_budget_ms")
	}
	return nil
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func (w WorkerConfig) controllerConfig(redactPII bool) continuity.Config {
	return continuity.Config{
		TimeBudget:       time.Duration(w.TimeBudgetMS) * time.Millisecond,
		SafetyMargin:     time.Duration(w.SafetyMarginMS) * time.Millisecond,
		IterationCap:     w.IterationCap,
		SampleRate:       w.SampleRate,
		Period:           time.Duration(w.PeriodMS) * time.Millisecond,
		InactivityWindow: time.Duration(w.InactivityWindowMS) * time.Millisecond,
		KeepAliveAfter:   time.Duration(w.KeepAliveAfterMS) * time.Millisecond,
		BufferCapacity:   w.BufferCapacity,
		AudioQueue:       w.AudioQueue,
		Interim:          w.Interim,
		RedactPII:        redactPII,
		Language:         w.Language,
		Vocabulary:       w.Vocabulary,
		EmitConfigEvent:  w.EmitConfigEvent,
		Categories:       w.Categories,
		STTRetry: resilience.RetryPolicy{
			MaxRetries: w.STTRetries,
			Backoff:    time.Duration(w.STTBackoffMS) * time.Millisecond,
		},
	}
}

func (s SourcesConfig) pollerConfig() sources.PollerConfig {
	return sources.PollerConfig{
		Interval: time.Duration(s.Poller.IntervalMS) * time.Millisecond,
		Timeout:  time.Duration(s.Poller.TimeoutMS) * time.Millisecond,
		Retry: resilience.RetryPolicy{
			MaxRetries: s.Poller.Retries,
			Backoff:    time.Duration(s.Poller.BackoffMS) * time.Millisecond,
		},
	}
}

func (s SourcesConfig) wsConfig() sources.WSConfig {
	return sources.WSConfig{
		HandshakeTimeout: time.Duration(s.WS.HandshakeTimeoutMS) * time.Millisecond,
		ReadLimit:        s.WS.ReadLimit,
	}
}

func (s SourcesConfig) hookConfig() sources.HookConfig {
	return sources.HookConfig{
		URL:      s.Hook.URL,
		Timeout:  time.Duration(s.Hook.TimeoutMS) * time.Millisecond,
		Required: s.Hook.Required,
	}
}
