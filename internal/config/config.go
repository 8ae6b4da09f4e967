// Package config provides configuration management for the player core using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultHTTPTimeout        = 30 * time.Second
	defaultHTTPRetryAttempts  = 3
	defaultHTTPRetryDelay     = 500 * time.Millisecond
	defaultHTTPRetryMaxDelay  = 10 * time.Second
	defaultHTTPBackoffFactor  = 2.0
	defaultRingCapacityBytes  = 32 * 1024 * 1024 // 32MB
	defaultHighWaterMark      = 0.85
	defaultLowWaterMark       = 0.40
	defaultMaxVideoQueueDepth = 240
	defaultMaxAudioQueueDepth = 480
	defaultAudioLeadSeconds   = 0.25
	defaultAudioMaxDriftMs    = 40
	defaultProbeBytes         = 64 * 1024
)

// Config holds all configuration for the player core.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTPSource HTTPSourceConfig `mapstructure:"http_source"`
	Buffer     BufferConfig     `mapstructure:"buffer"`
	Playback   PlaybackConfig   `mapstructure:"playback"`
	Audio      AudioConfig      `mapstructure:"audio"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// HTTPSourceConfig holds configuration for the HTTP byte source, including
// range-probe retry/backoff behavior.
type HTTPSourceConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	BackoffFactor    float64       `mapstructure:"backoff_factor"`
	UserAgent        string        `mapstructure:"user_agent"`
	ProbeBytes       ByteSize      `mapstructure:"probe_bytes"`
	DisableRangeProbe bool         `mapstructure:"disable_range_probe"`
}

// BufferConfig holds encoded-chunk ring buffer and back-pressure configuration.
type BufferConfig struct {
	// CapacityBytes is a per-track byte budget. It is loaded and validated
	// here; the playback session does not read it (its frame ring holds a
	// fixed number of frames).
	// Supports human-readable values like "32MB", "1GB", or raw byte counts.
	CapacityBytes ByteSize `mapstructure:"capacity_bytes"`
	// HighWaterMark and LowWaterMark are fractions of CapacityBytes, validated
	// as 0 < low < high <= 1. The playback session does not read them: it
	// pauses and resumes extraction at fixed queue depths (120/40 chunks).
	HighWaterMark float64 `mapstructure:"high_water_mark"`
	LowWaterMark  float64 `mapstructure:"low_water_mark"`
	MaxVideoQueueDepth int `mapstructure:"max_video_queue_depth"`
	MaxAudioQueueDepth int `mapstructure:"max_audio_queue_depth"`
}

// PlaybackConfig holds playback orchestrator configuration.
type PlaybackConfig struct {
	InitialRate       float64 `mapstructure:"initial_rate"`
	SeekFlushBuffers  bool    `mapstructure:"seek_flush_buffers"`
	StartupProbeBytes ByteSize `mapstructure:"startup_probe_bytes"`
}

// AudioConfig holds audio scheduling policy configuration.
type AudioConfig struct {
	LeadSeconds     float64 `mapstructure:"lead_seconds"`
	MaxDriftMillis  int     `mapstructure:"max_drift_millis"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with WEBPLAYER_ and use underscores
// for nesting. Example: WEBPLAYER_BUFFER_CAPACITY_BYTES=64MB.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/webplayer")
		v.AddConfigPath("$HOME/.webplayer")
	}

	// Environment variable settings
	v.SetEnvPrefix("WEBPLAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// HTTP source defaults
	v.SetDefault("http_source.timeout", defaultHTTPTimeout)
	v.SetDefault("http_source.retry_attempts", defaultHTTPRetryAttempts)
	v.SetDefault("http_source.retry_delay", defaultHTTPRetryDelay)
	v.SetDefault("http_source.retry_max_delay", defaultHTTPRetryMaxDelay)
	v.SetDefault("http_source.backoff_factor", defaultHTTPBackoffFactor)
	v.SetDefault("http_source.user_agent", "webplayer/1.0")
	v.SetDefault("http_source.probe_bytes", defaultProbeBytes)
	v.SetDefault("http_source.disable_range_probe", false)

	// Buffer defaults
	v.SetDefault("buffer.capacity_bytes", defaultRingCapacityBytes)
	v.SetDefault("buffer.high_water_mark", defaultHighWaterMark)
	v.SetDefault("buffer.low_water_mark", defaultLowWaterMark)
	v.SetDefault("buffer.max_video_queue_depth", defaultMaxVideoQueueDepth)
	v.SetDefault("buffer.max_audio_queue_depth", defaultMaxAudioQueueDepth)

	// Playback defaults
	v.SetDefault("playback.initial_rate", 1.0)
	v.SetDefault("playback.seek_flush_buffers", true)
	v.SetDefault("playback.startup_probe_bytes", defaultProbeBytes)

	// Audio defaults
	v.SetDefault("audio.lead_seconds", defaultAudioLeadSeconds)
	v.SetDefault("audio.max_drift_millis", defaultAudioMaxDriftMs)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// HTTP source validation
	if c.HTTPSource.RetryAttempts < 0 {
		return fmt.Errorf("http_source.retry_attempts must be at least 0")
	}
	if c.HTTPSource.BackoffFactor <= 1.0 {
		return fmt.Errorf("http_source.backoff_factor must be greater than 1.0")
	}

	// Buffer validation
	if c.Buffer.CapacityBytes <= 0 {
		return fmt.Errorf("buffer.capacity_bytes must be positive")
	}
	if c.Buffer.LowWaterMark <= 0 || c.Buffer.LowWaterMark >= c.Buffer.HighWaterMark {
		return fmt.Errorf("buffer.low_water_mark must be positive and less than buffer.high_water_mark")
	}
	if c.Buffer.HighWaterMark > 1.0 {
		return fmt.Errorf("buffer.high_water_mark must not exceed 1.0")
	}

	// Playback validation
	if c.Playback.InitialRate <= 0 {
		return fmt.Errorf("playback.initial_rate must be positive")
	}

	// Audio validation
	if c.Audio.LeadSeconds < 0 {
		return fmt.Errorf("audio.lead_seconds must not be negative")
	}

	return nil
}
