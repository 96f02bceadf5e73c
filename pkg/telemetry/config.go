package telemetry

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the telemetry configuration of a docguard process.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`

	// Environment is reported on spans, e.g. "development" or "production".
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `validate:"oneof=console json"`

	// Output is "stderr", "stdout" or a file path.
	Output string

	EnableCaller bool

	// TimeFormat is "rfc3339", "unix" or "unixms".
	TimeFormat string `validate:"omitempty,oneof=rfc3339 unix unixms"`
}

// TracingConfig configures OpenTelemetry tracing of validation runs.
type TracingConfig struct {
	Enabled bool

	// Exporter is "otlp" (gRPC), "stdout" or "none".
	Exporter string `validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector address.
	Endpoint string `validate:"required_if=Exporter otlp"`

	SamplingRate       float64 `validate:"gte=0,lte=1"`
	MaxExportBatchSize int     `validate:"gte=0"`
	ExportTimeout      time.Duration
	Headers            map[string]string

	// Insecure disables TLS to the collector.
	Insecure bool
}

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress is where the watch command serves Path.
	ListenAddress string
	Path          string
	Namespace     string `validate:"required_if=Enabled true"`

	// DurationBuckets are the validation latency buckets in seconds.
	DurationBuckets []float64
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled bool

	// EnableAsync delivers events on a background goroutine through a
	// buffer of BufferSize events.
	EnableAsync bool
	BufferSize  int
}

var configValidator = validator.New()

// DefaultConfig returns the configuration the CLI starts from. Tracing is
// off so that command output is not mixed with span dumps.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "docguard",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9464",
			Path:          "/metrics",
			Namespace:     "docguard",
			// Validations take well under a second; the buckets are finer at
			// the low end than the Prometheus defaults.
			DurationBuckets: []float64{
				0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
			},
		},
		Events: EventsConfig{
			Enabled:     true,
			EnableAsync: true,
			BufferSize:  256,
		},
	}
}

// ProductionConfig returns DefaultConfig with JSON logs and sampled OTLP
// tracing over TLS.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "localhost:4317"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// DevelopmentConfig returns DefaultConfig with debug logs and spans printed
// to stdout.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// ApplyEnv overrides c from the environment:
//
//	DOCGUARD_ENVIRONMENT          Environment
//	DOCGUARD_LOG_FORMAT           Logging.Format
//	DOCGUARD_LOG_OUTPUT           Logging.Output
//	OTEL_EXPORTER_OTLP_ENDPOINT   Tracing.Endpoint
//	OTEL_EXPORTER_OTLP_INSECURE   Tracing.Insecure
//	OTEL_TRACES_SAMPLER_ARG       Tracing.SamplingRate
//
// lookup is os.LookupEnv when nil.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup("DOCGUARD_ENVIRONMENT"); ok {
		c.Environment = v
	}
	if v, ok := lookup("DOCGUARD_LOG_FORMAT"); ok {
		c.Logging.Format = strings.ToLower(v)
	}
	if v, ok := lookup("DOCGUARD_LOG_OUTPUT"); ok {
		c.Logging.Output = v
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		c.Tracing.Endpoint = strings.TrimPrefix(strings.TrimPrefix(v, "http://"), "https://")
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_INSECURE"); ok {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		c.Tracing.Insecure = insecure
	}
	if v, ok := lookup("OTEL_TRACES_SAMPLER_ARG"); ok {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		c.Tracing.SamplingRate = rate
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var msgs []string

	var verrs validator.ValidationErrors
	if err := configValidator.Struct(c); errors.As(err, &verrs) {
		for _, fe := range verrs {
			switch fe.Tag() {
			case "required", "required_if":
				msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
			case "oneof":
				msgs = append(msgs, fmt.Sprintf("%s: %q is not one of %s", fe.Namespace(), fe.Value(), fe.Param()))
			default:
				msgs = append(msgs, fmt.Sprintf("%s: %v fails %s=%s", fe.Namespace(), fe.Value(), fe.Tag(), fe.Param()))
			}
		}
	} else if err != nil {
		return err
	}

	if c.Tracing.Enabled && c.Tracing.Exporter == "" {
		msgs = append(msgs, "Config.Tracing.Exporter is required when tracing is enabled")
	}
	if c.Events.Enabled && c.Events.EnableAsync && c.Events.BufferSize <= 0 {
		msgs = append(msgs, fmt.Sprintf("Config.Events.BufferSize must be positive for async delivery, got %d", c.Events.BufferSize))
	}

	if len(msgs) > 0 {
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}
