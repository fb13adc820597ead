package config

import (
	"fmt"
	"time"
)

// Local source kinds
const (
	SourceInProcess  = "inprocess"
	SourceSynthetic  = "synthetic"
	SourcePrometheus = "prometheus"
)

// Config holds server configuration
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Host string `koanf:"host"`

	// Logging
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"` // json or console

	// SLO settings
	SLODirectory string `koanf:"slo_dir"`
	SchemaPath   string `koanf:"schema_path"`

	// Remote document store
	DBPath         string        `koanf:"db_path"`
	StreamInterval time.Duration `koanf:"stream_interval"`
	Retention      time.Duration `koanf:"retention"`
	PruneInterval  time.Duration `koanf:"prune_interval"`
	RedisAddr      string        `koanf:"redis_addr"` // empty disables the change bridge

	// Local source settings
	LocalSource      string        `koanf:"local_source"` // inprocess, synthetic or prometheus
	PrometheusURL    string        `koanf:"prometheus_url"`
	SyntheticFixture string        `koanf:"synthetic_fixture"`
	PollInterval     time.Duration `koanf:"poll_interval"`

	// API settings
	SnapshotTTL   time.Duration `koanf:"snapshot_ttl"`
	IngestRate    float64       `koanf:"ingest_rate"` // requests per second
	IngestBurst   int           `koanf:"ingest_burst"`
	AuthEnabled   bool          `koanf:"auth_enabled"`
	AuthPublicKey string        `koanf:"auth_public_key"` // PEM file
	ServiceToken  string        `koanf:"service_token"`   // session the refresh loops run under

	// Operational settings
	GracefulShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// durationKeys are parsed with slo.ParseDuration before unmarshalling
var durationKeys = []string{
	"stream_interval",
	"retention",
	"prune_interval",
	"poll_interval",
	"snapshot_ttl",
	"shutdown_timeout",
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.SLODirectory == "" {
		return fmt.Errorf("SLO directory is required")
	}

	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}

	switch c.LocalSource {
	case SourceInProcess, SourceSynthetic, SourcePrometheus:
	default:
		return fmt.Errorf("local source must be '%s', '%s' or '%s'", SourceInProcess, SourceSynthetic, SourcePrometheus)
	}

	if c.LocalSource == SourcePrometheus && c.PrometheusURL == "" {
		return fmt.Errorf("Prometheus URL required when local source is 'prometheus'")
	}

	if c.LocalSource == SourceSynthetic && c.SyntheticFixture == "" {
		return fmt.Errorf("fixture path required when local source is 'synthetic'")
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"poll interval", c.PollInterval},
		{"stream interval", c.StreamInterval},
		{"retention", c.Retention},
		{"prune interval", c.PruneInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if c.AuthEnabled && (c.AuthPublicKey == "" || c.ServiceToken == "") {
		return fmt.Errorf("auth requires a public key and a service token")
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Port:                    8080,
		Host:                    "0.0.0.0",
		LogLevel:                "info",
		LogFormat:               "json",
		SLODirectory:            "./slos",
		SchemaPath:              "./schemas/slo_v1.json",
		DBPath:                  "./aegis.db",
		StreamInterval:          5 * time.Second,
		Retention:               48 * time.Hour,
		PruneInterval:           time.Hour,
		LocalSource:             SourceInProcess,
		PollInterval:            15 * time.Second,
		SnapshotTTL:             2 * time.Second,
		IngestRate:              50,
		IngestBurst:             100,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
