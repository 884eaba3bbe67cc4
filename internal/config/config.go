// Package config handles TOML configuration for sweep.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root configuration structure.
type Config struct {
	AWS      AWSConfig           `toml:"aws"`
	Cleanup  CleanupConfig       `toml:"cleanup"`
	Retry    RetryConfig         `toml:"retry"`
	Output   OutputConfig        `toml:"output"`
	OTEL     OTELConfig          `toml:"otel"`
	Metrics  MetricsServerConfig `toml:"metrics"`
	Schedule ScheduleConfig      `toml:"schedule"`
	Log      LogConfig           `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Region            string  `toml:"region"`
	Profile           string  `toml:"profile"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// CleanupConfig selects what is cleaned up and how.
type CleanupConfig struct {
	RetentionDays  int      `toml:"retention_days"`
	Execute        bool     `toml:"execute"`
	Workers        int      `toml:"workers"`
	ExcludeTags    []string `toml:"exclude_tags"`
	ExcludeIDs     []string `toml:"exclude_ids"`
	ExclusionsFile string   `toml:"exclusions_file"`

	UnknownVolumeAgeQualifies bool `toml:"unknown_volume_age_qualifies"`
}

// RetryConfig bounds retries of transient provider errors.
type RetryConfig struct {
	MaxAttempts     int      `toml:"max_attempts"`
	InitialInterval Duration `toml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval"`
	CallTimeout     Duration `toml:"call_timeout"`
}

// OutputConfig holds result file, history and journal locations.
type OutputConfig struct {
	Dir              string   `toml:"dir"`
	HistoryPath      string   `toml:"history_path"`
	JournalDir       string   `toml:"journal_dir"`
	JournalRetention Duration `toml:"journal_retention"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds OTLP metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// MetricsServerConfig holds the Prometheus endpoint settings.
type MetricsServerConfig struct {
	Addr string `toml:"addr"`
}

// ScheduleConfig holds repeat-run settings.
type ScheduleConfig struct {
	Interval Duration `toml:"interval"`
	OneShot  bool     `toml:"one_shot"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as "30s" or "5m" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		AWS: AWSConfig{RequestsPerSecond: 5},
		Cleanup: CleanupConfig{
			RetentionDays:             30,
			Workers:                   10,
			UnknownVolumeAgeQualifies: true,
		},
		Retry: RetryConfig{
			MaxAttempts:     4,
			InitialInterval: Duration{500 * time.Millisecond},
			MaxInterval:     Duration{10 * time.Second},
			CallTimeout:     Duration{30 * time.Second},
		},
		Output: OutputConfig{
			Dir:              ".",
			HistoryPath:      ".sweep/history.db",
			JournalDir:       ".sweep/journal",
			JournalRetention: Duration{30 * 24 * time.Hour},
		},
		OTEL: OTELConfig{
			ServiceName: "sweep",
			Traces:      TracesConfig{SampleRate: 1.0},
		},
		Schedule: ScheduleConfig{
			Interval: Duration{24 * time.Hour},
			OneShot:  true,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads a TOML config file over the defaults. Keys the file sets, even
// to zero values, override the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%w: unknown keys: %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills values that have no meaningful zero.
func applyDefaults(cfg *Config) {
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "sweep"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "."
	}
}

// Validate checks the configuration is valid. The worker count and
// exclusion rules are validated by the orchestrator when a run starts.
func (c *Config) Validate() error {
	if c.AWS.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: aws.requests_per_second must not be negative", ErrInvalidConfig)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry.max_attempts must be at least 1 (got %d)", ErrInvalidConfig, c.Retry.MaxAttempts)
	}
	if c.Retry.InitialInterval.Duration < 0 || c.Retry.MaxInterval.Duration < 0 || c.Retry.CallTimeout.Duration < 0 {
		return fmt.Errorf("%w: retry intervals must not be negative", ErrInvalidConfig)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("%w: otel.traces.sample_rate must be between 0.0 and 1.0 (got %v)", ErrInvalidConfig, c.OTEL.Traces.SampleRate)
	}
	if !c.Schedule.OneShot && c.Schedule.Interval.Duration <= 0 {
		return fmt.Errorf("%w: schedule.interval must be positive", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log.format must be console or json (got %q)", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Exclusions is the YAML protection list referenced by
// cleanup.exclusions_file.
type Exclusions struct {
	Tags []string `yaml:"tags"`
	IDs  []string `yaml:"ids"`
}

// LoadExclusions reads a YAML protection list.
func LoadExclusions(path string) (*Exclusions, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied exclusions path
	if err != nil {
		return nil, fmt.Errorf("read exclusions file: %w", err)
	}

	var ex Exclusions
	if err := yaml.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("parse exclusions file: %w", err)
	}
	return &ex, nil
}

// ExclusionRules merges inline exclusions with the exclusions file, in that
// order.
func (c *Config) ExclusionRules() (tags, ids []string, err error) {
	tags = append(tags, c.Cleanup.ExcludeTags...)
	ids = append(ids, c.Cleanup.ExcludeIDs...)

	if c.Cleanup.ExclusionsFile == "" {
		return tags, ids, nil
	}
	ex, err := LoadExclusions(c.Cleanup.ExclusionsFile)
	if err != nil {
		return nil, nil, err
	}
	return append(tags, ex.Tags...), append(ids, ex.IDs...), nil
}
