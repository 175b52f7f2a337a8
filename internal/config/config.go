// Package config loads coldline configuration from YAML, applies COLDLINE_*
// environment overrides and validates the result against an embedded CUE
// schema.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	ArchivalThresholdDays int     `yaml:"archival_threshold_days"`
	ChunkSize             int     `yaml:"chunk_size"`
	MaxConcurrentWorkers  int     `yaml:"max_concurrent_workers"`
	RecordConcurrency     int     `yaml:"record_concurrency"`
	MaxRetryAttempts      int     `yaml:"max_retry_attempts"`
	Backoff               Backoff `yaml:"backoff"`

	CacheTTL      time.Duration `yaml:"cache_ttl"`
	VerifyContent bool          `yaml:"verify_content"`
	FlushInterval time.Duration `yaml:"flush_interval"`

	Governor Governor `yaml:"governor"`
	Breaker  Breaker  `yaml:"breaker"`
	Scan     Scan     `yaml:"scan"`

	Hot   Hot   `yaml:"hot"`
	Cold  Cold  `yaml:"cold"`
	Cache Cache `yaml:"cache"`
	Feed  Feed  `yaml:"feed"`

	// StateDB is the SQLite file holding dead letters and checkpoints.
	StateDB string `yaml:"state_db"`

	// MetricsAddr is the listen address for /metrics. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Backoff shapes the delay between attempts on one record.
type Backoff struct {
	Base   time.Duration `yaml:"base"`
	Factor float64       `yaml:"factor"`
	Cap    time.Duration `yaml:"cap"`
	Jitter float64       `yaml:"jitter"`
}

// Governor bounds backend throughput.
type Governor struct {
	// RatePerSecond of zero is unlimited until the first throttle signal.
	RatePerSecond    float64       `yaml:"rate_per_second"`
	Burst            int           `yaml:"burst"`
	MinRatePerSecond float64       `yaml:"min_rate_per_second"`
	Pause            time.Duration `yaml:"pause"`
}

// Breaker configures the dispatch circuit breaker.
type Breaker struct {
	ErrorThreshold float64       `yaml:"error_threshold"`
	MinSamples     int           `yaml:"min_samples"`
	Window         time.Duration `yaml:"window"`
	Cooldown       time.Duration `yaml:"cooldown"`
}

// Scan configures the periodic eligibility scan.
type Scan struct {
	Interval time.Duration `yaml:"interval"`
	PageSize int           `yaml:"page_size"`

	// Name keys the persisted checkpoint.
	Name string `yaml:"name"`
}

// Hot selects the hot tier backend.
type Hot struct {
	Driver   string `yaml:"driver"` // sqlite or dynamodb
	Path     string `yaml:"path,omitempty"`
	Table    string `yaml:"table,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Cold selects the cold tier backend.
type Cold struct {
	Driver          string `yaml:"driver"` // badger or gcs
	Path            string `yaml:"path,omitempty"`
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

// Cache selects the read-through cache.
type Cache struct {
	Driver    string `yaml:"driver"` // none or redis
	Address   string `yaml:"address,omitempty"`
	Database  int    `yaml:"database"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// Feed configures the optional Kafka change feed. No brokers disables it.
type Feed struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic,omitempty"`
	GroupID string   `yaml:"group_id,omitempty"`
}

// Enabled reports whether a change feed is configured.
func (f Feed) Enabled() bool {
	return len(f.Brokers) > 0
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ArchivalThresholdDays: 90,
		ChunkSize:             500,
		MaxConcurrentWorkers:  4,
		RecordConcurrency:     1,
		MaxRetryAttempts:      3,
		Backoff: Backoff{
			Base:   time.Second,
			Factor: 2,
			Cap:    30 * time.Second,
			Jitter: 0.2,
		},
		CacheTTL:      time.Hour,
		VerifyContent: true,
		FlushInterval: 2 * time.Second,
		Governor: Governor{
			Burst:            1,
			MinRatePerSecond: 1,
			Pause:            5 * time.Second,
		},
		Breaker: Breaker{
			ErrorThreshold: 0.5,
			MinSamples:     20,
			Window:         30 * time.Second,
			Cooldown:       30 * time.Second,
		},
		Scan: Scan{
			Interval: time.Hour,
			PageSize: 1000,
			Name:     "default",
		},
		Hot:     Hot{Driver: "sqlite", Path: "coldline-hot.db"},
		Cold:    Cold{Driver: "badger", Path: "coldline-cold"},
		Cache:   Cache{Driver: "none", KeyPrefix: "coldline:"},
		StateDB: "coldline-state.db",
	}
}

// Threshold is the archival age threshold as a duration.
func (c *Config) Threshold() time.Duration {
	return time.Duration(c.ArchivalThresholdDays) * 24 * time.Hour
}

// Load reads the file at path (empty means defaults only), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates it. Environment
// overrides are not applied.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(bytes.NewReader(data), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}
