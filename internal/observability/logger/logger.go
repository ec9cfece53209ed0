package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	obscontext "github.com/smallbiznis/logibill/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	Format      string
	Debug       bool

	SamplingInitial     int
	SamplingThereafter  int
	SamplingWindow      time.Duration
	IncludeCaller       bool
	IncludeStackOnError bool
}

func (c Config) zapConfig() (zap.Config, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "json"
	if strings.EqualFold(strings.TrimSpace(c.Format), "console") {
		zc.Encoding = "console"
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}
	// Sampling is applied through WrapCore so the window is configurable.
	zc.Sampling = nil

	level := strings.TrimSpace(c.Level)
	if level == "" {
		level = "info"
	}
	if err := zc.Level.UnmarshalText([]byte(level)); err != nil {
		return zc, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zc, nil
}

func (c Config) options() []zap.Option {
	var opts []zap.Option
	if c.IncludeCaller {
		opts = append(opts, zap.AddCaller())
	}
	if c.IncludeStackOnError {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	window := c.SamplingWindow
	if window <= 0 {
		window = time.Second
	}
	first := positiveOr(c.SamplingInitial, 100)
	thereafter := positiveOr(c.SamplingThereafter, 100)
	return append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, window, first, thereafter)
	}))
}

// New builds the process logger, installs it as the zap global and flushes
// it when the fx app stops.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	zc, err := cfg.zapConfig()
	if err != nil {
		return nil, err
	}
	base, err := zc.Build(cfg.options()...)
	if err != nil {
		return nil, err
	}

	log := base.With(
		zap.String("service", firstNonEmpty(cfg.ServiceName, "logibill")),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		}})
	}
	return log, nil
}

// FromContext returns the global logger enriched with request-scoped fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext adds request id, actor and trace correlation to base.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}

	var fields []zap.Field
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		fields = append(fields, zap.String("actor_type", actorType), zap.String("actor_id", actorID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()), zap.String("span_id", sc.SpanID().String()))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ForCustomer is WithContext scoped to one customer, used by the rating
// and invoicing paths that fan out per customer.
func ForCustomer(ctx context.Context, base *zap.Logger, customerID string) *zap.Logger {
	log := WithContext(ctx, base)
	if log == nil {
		return nil
	}
	if customerID = strings.TrimSpace(customerID); customerID == "" {
		return log
	}
	return log.With(zap.String("customer_id", customerID))
}

func positiveOr(value, def int) int {
	if value > 0 {
		return value
	}
	return def
}

func firstNonEmpty(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}
