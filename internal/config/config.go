// Package config loads client settings from stormqa.yaml and STORMQA_* env vars.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STORMQA_LOGGING_LEVEL.
const EnvPrefix = "STORMQA"

// Config is the root client configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	OTel      OTelConfig      `mapstructure:"otel"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig configures the event logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// OTelConfig selects metric and trace exporters.
type OTelConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Exporter     string            `mapstructure:"exporter"` // none, stdout, otlp-grpc, otlp-http
	Endpoint     string            `mapstructure:"endpoint"`
	Insecure     bool              `mapstructure:"insecure"`
	SampleRate   float64           `mapstructure:"sample_rate"`
	ProcessStats bool              `mapstructure:"process_stats"`
	Attributes   map[string]string `mapstructure:"attributes"`
}

// EngineConfig holds circuit breaker settings for the engine link.
type EngineConfig struct {
	BreakerMaxRequests      uint32        `mapstructure:"breaker_max_requests"`
	BreakerInterval         time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout          time.Duration `mapstructure:"breaker_timeout"`
	BreakerFailureThreshold uint32        `mapstructure:"breaker_failure_threshold"`

	// AbortGrace bounds how long a run may stay running; 0 disables the deadline.
	AbortGrace time.Duration `mapstructure:"abort_grace"`

	// ScriptInterval paces pushes replayed by the scripted engine.
	ScriptInterval time.Duration `mapstructure:"script_interval"`
}

// TelemetryConfig tunes the live chart.
type TelemetryConfig struct {
	Capacity int `mapstructure:"capacity"`
	// ChartRefreshPerSecond limits observer notifications; 0 is unthrottled.
	ChartRefreshPerSecond float64 `mapstructure:"chart_refresh_per_second"`
	ChartRefreshBurst     int     `mapstructure:"chart_refresh_burst"`
}

// Load reads configuration from path, or from stormqa.yaml in the working
// directory when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stormqa")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.exporter", DefaultOTelExporter)
	v.SetDefault("otel.sample_rate", DefaultOTelSampleRate)
	v.SetDefault("otel.process_stats", false)

	v.SetDefault("engine.breaker_max_requests", DefaultBreakerMaxRequests)
	v.SetDefault("engine.breaker_interval", DefaultBreakerInterval)
	v.SetDefault("engine.breaker_timeout", DefaultBreakerTimeout)
	v.SetDefault("engine.breaker_failure_threshold", DefaultBreakerFailureThreshold)
	v.SetDefault("engine.abort_grace", time.Duration(0))
	v.SetDefault("engine.script_interval", DefaultScriptInterval)

	v.SetDefault("telemetry.capacity", DefaultTelemetryCapacity)
	v.SetDefault("telemetry.chart_refresh_per_second", DefaultChartRefreshPerSecond)
	v.SetDefault("telemetry.chart_refresh_burst", DefaultChartRefreshBurst)
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	switch c.OTel.Exporter {
	case "none", "stdout", "otlp-grpc", "otlp-http":
	default:
		return fmt.Errorf("otel.exporter must be none, stdout, otlp-grpc or otlp-http, got %q", c.OTel.Exporter)
	}
	if c.OTel.SampleRate < 0 || c.OTel.SampleRate > 1 {
		return fmt.Errorf("otel.sample_rate must be within [0, 1], got %v", c.OTel.SampleRate)
	}
	if c.Engine.BreakerFailureThreshold == 0 {
		return errors.New("engine.breaker_failure_threshold must be positive")
	}
	if c.Engine.AbortGrace < 0 {
		return errors.New("engine.abort_grace must not be negative")
	}
	if c.Telemetry.Capacity <= 0 {
		return errors.New("telemetry.capacity must be positive")
	}
	if c.Telemetry.ChartRefreshPerSecond < 0 {
		return errors.New("telemetry.chart_refresh_per_second must not be negative")
	}
	return nil
}
