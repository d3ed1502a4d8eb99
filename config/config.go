package config

import (
	"fmt"
	"time"

	"github.com/opengovsl/landetl/breaker"
	"github.com/opengovsl/landetl/retry"
)

// Config represents a landetl.yaml configuration file. Zero values fall
// back to each component's defaults; CLI flags override config values.
type Config struct {
	// Pipeline keys the watermark row (default "land-records").
	Pipeline string `yaml:"pipeline"`
	// Mode is the default run mode: FULL, INCREMENTAL, or CDC.
	Mode string `yaml:"mode"`

	BatchSize        int      `yaml:"batch_size"`
	MergeWindow      int      `yaml:"merge_window"`
	QualityThreshold float64  `yaml:"quality_threshold"`
	PolitenessDelay  Duration `yaml:"politeness_delay"`

	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`

	// Sources declares the REST registries to extract from, keyed by
	// adapter name.
	Sources map[string]SourceConfig `yaml:"sources"`

	Database   DatabaseConfig   `yaml:"database"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Encryption EncryptionConfig `yaml:"encryption"`
}

// RetryConfig holds retry defaults from the config file.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	Multiplier   float64  `yaml:"multiplier"`
	MaxDelay     Duration `yaml:"max_delay"`
	Jitter       float64  `yaml:"jitter"`
}

// Options converts to retry.Options. Zero fields keep the package defaults.
func (c RetryConfig) Options() retry.Options {
	return retry.Options{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay.Duration,
		Multiplier:   c.Multiplier,
		MaxDelay:     c.MaxDelay.Duration,
		Jitter:       c.Jitter,
	}
}

// BreakerConfig holds circuit-breaker defaults from the config file.
type BreakerConfig struct {
	FailureThreshold uint32   `yaml:"failure_threshold"`
	SuccessThreshold uint32   `yaml:"success_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
	CallTimeout      Duration `yaml:"call_timeout"`
}

// Breaker converts to breaker.Config, filling zero fields with defaults.
func (c BreakerConfig) Breaker() breaker.Config {
	out := breaker.DefaultConfig()
	if c.FailureThreshold > 0 {
		out.FailureThreshold = c.FailureThreshold
	}
	if c.SuccessThreshold > 0 {
		out.SuccessThreshold = c.SuccessThreshold
	}
	if c.ResetTimeout.Duration > 0 {
		out.ResetTimeout = c.ResetTimeout.Duration
	}
	if c.CallTimeout.Duration > 0 {
		out.CallTimeout = c.CallTimeout.Duration
	}
	return out
}

// SourceConfig is one REST source registry definition. The adapter name is
// derived from the map key, not stored in the struct.
type SourceConfig struct {
	// System is the source system label: LAND_AUTHORITY, REVENUE_AUTHORITY,
	// or REGISTRY.
	System  string            `yaml:"system"`
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
}

// DatabaseConfig holds the Postgres destination and watermark settings.
type DatabaseConfig struct {
	DSN            string   `yaml:"dsn"`
	MaxOpenConns   int      `yaml:"max_open_conns"`
	MaxIdleTime    Duration `yaml:"max_idle_time"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// ArchiveConfig holds the optional JSONL archive destination settings.
// Backend selects "fs" (default) or "s3".
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// MetricsConfig holds the scrape server settings.
type MetricsConfig struct {
	// Addr is the listen address for /metrics and /health. Empty disables
	// the server.
	Addr string `yaml:"addr"`
}

// AlertsConfig holds the alert transport settings. Sinks with an empty URL
// are not constructed.
type AlertsConfig struct {
	Webhook WebhookAlertConfig `yaml:"webhook"`
	Redis   RedisAlertConfig   `yaml:"redis"`
}

// WebhookAlertConfig configures the HTTP POST alert sink.
type WebhookAlertConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// RedisAlertConfig configures the Redis pub/sub alert sink.
type RedisAlertConfig struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// EncryptionConfig holds PII key material. Key is hex-encoded and usually
// injected via ${LANDETL_ENCRYPTION_KEY}.
type EncryptionConfig struct {
	Key      string `yaml:"key"`
	HashSalt string `yaml:"hash_salt"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
