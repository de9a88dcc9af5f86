package instrumentation

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Exporter selects where telemetry is shipped.
type Exporter string

const (
	ExporterPrometheus Exporter = "prometheus"
	ExporterOTLP       Exporter = "otlp"
	ExporterStdout     Exporter = "stdout"
	ExporterNone       Exporter = "none"
)

// Config controls telemetry initialization.
type Config struct {
	Enabled bool

	ServiceName    string
	ServiceVersion string
	Environment    string

	MetricsExporter Exporter
	TracesExporter  Exporter

	// OTLPEndpoint is the host:port of an OTLP/HTTP collector.
	OTLPEndpoint string
	OTLPInsecure bool

	// TraceSampleRatio applies when the parent span carries no decision.
	TraceSampleRatio float64
}

// DefaultConfig builds a Config from OTEL_* environment variables with
// sensible defaults: metrics via Prometheus, traces disabled.
func DefaultConfig(version string) Config {
	return Config{
		Enabled:          getEnvBoolOrDefault("OTEL_ENABLED", true),
		ServiceName:      getEnvOrDefault("OTEL_SERVICE_NAME", "teamup-mcp-server"),
		ServiceVersion:   version,
		Environment:      getEnvOrDefault("OTEL_ENVIRONMENT", "production"),
		MetricsExporter:  Exporter(getEnvOrDefault("OTEL_METRICS_EXPORTER", string(ExporterPrometheus))),
		TracesExporter:   Exporter(getEnvOrDefault("OTEL_TRACES_EXPORTER", string(ExporterNone))),
		OTLPEndpoint:     getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTLPInsecure:     getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", true),
		TraceSampleRatio: getEnvFloatOrDefault("OTEL_TRACES_SAMPLER_RATIO", 0.1),
	}
}

// Validate checks exporter names and sampling bounds.
func (c Config) Validate() error {
	switch c.MetricsExporter {
	case ExporterPrometheus, ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid metrics exporter %q", c.MetricsExporter)
	}
	switch c.TracesExporter {
	case ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid traces exporter %q", c.TracesExporter)
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("trace sample ratio %v outside [0,1]", c.TraceSampleRatio)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name must not be empty")
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return def
}

func getEnvFloatOrDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
