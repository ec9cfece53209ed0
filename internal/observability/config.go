package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/logibill/internal/config"
)

// Config holds observability settings. Identity fields come from the
// application config; the rest can be overridden with the standard
// OTEL_* and LOG_* variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel              string
	LogFormat             string
	LogSamplingInitial    int
	LogSamplingThereafter int

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

type lookupFunc func(key string) string

func LoadConfig(cfg config.Config) Config {
	return loadConfig(cfg, os.Getenv)
}

func loadConfig(cfg config.Config, lookup lookupFunc) Config {
	env := envReader{lookup: lookup}

	out := Config{
		ServiceName: firstNonEmpty(cfg.AppName, "logibill"),
		Environment: env.str("DEPLOYMENT_ENV", cfg.Environment),
		Version:     env.str("SERVICE_VERSION", cfg.AppVersion),

		LogLevel:              strings.ToLower(env.str("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(env.str("LOG_FORMAT", "json")),
		LogSamplingInitial:    env.integer("LOG_SAMPLING_INITIAL", 100),
		LogSamplingThereafter: env.integer("LOG_SAMPLING_THEREAFTER", 100),

		OtelEnabled:          env.boolean("OTEL_ENABLED", false),
		OtelExporterEndpoint: env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(env.str("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OtelSamplingRatio:    env.ratio("OTEL_SAMPLING_RATIO", 0.1),
	}
	if traces := env.str("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", ""); traces != "" {
		out.OtelExporterProtocol = strings.ToLower(traces)
	}
	return out
}

// Debug reports whether verbose diagnostics (stack traces, debug request
// lines) should be emitted.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

type envReader struct {
	lookup lookupFunc
}

func (e envReader) str(key, def string) string {
	return firstNonEmpty(e.lookup(key), def)
}

func (e envReader) boolean(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(e.lookup(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func (e envReader) integer(key string, def int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(e.lookup(key)))
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// ratio parses a sampling ratio and clamps it to [0, 1].
func (e envReader) ratio(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(e.lookup(key)), 64)
	if err != nil {
		return def
	}
	return min(max(parsed, 0), 1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
