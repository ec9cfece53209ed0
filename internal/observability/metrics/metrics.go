package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	activityIngest     metric.Int64Counter
	ratingOutcomes     metric.Int64Counter
	invoicesGenerated  metric.Int64Counter
	invoiceTransitions metric.Int64Counter
	paymentEvents      metric.Int64Counter
	rateLimitDecisions metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New registers the billing counters on the service meter.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "logibill"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.activityIngest, "logibill_activity_ingest_total", "Billing activities submitted, by outcome and billing cycle."},
		{&m.ratingOutcomes, "logibill_rating_outcomes_total", "Activities processed by rating, by outcome."},
		{&m.invoicesGenerated, "logibill_invoices_generated_total", "Draft invoices generated, by billing cycle."},
		{&m.invoiceTransitions, "logibill_invoice_transitions_total", "Invoice status transitions."},
		{&m.paymentEvents, "logibill_payment_events_total", "Payment lifecycle events, by method."},
		{&m.rateLimitDecisions, "logibill_rate_limit_decisions_total", "Ingest rate limiter decisions, by endpoint."},
	} {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// RecordActivityIngest counts ingested activities by outcome (created, duplicate).
func (m *Metrics) RecordActivityIngest(ctx context.Context, outcome, billingCycle string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("billing_cycle", strings.TrimSpace(billingCycle)),
	)
	m.activityIngest.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRatingOutcomes adds the counts of one rating pass.
func (m *Metrics) RecordRatingOutcomes(ctx context.Context, rated, failed, skipped int) {
	if m == nil {
		return
	}
	for outcome, count := range map[string]int{"rated": rated, "failed": failed, "skipped": skipped} {
		if count == 0 {
			continue
		}
		attrs := FilterAttributes(attribute.String("outcome", outcome))
		m.ratingOutcomes.Add(ctx, int64(count), metric.WithAttributes(attrs...))
	}
}

func (m *Metrics) RecordInvoiceGenerated(ctx context.Context, billingCycle string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("billing_cycle", strings.TrimSpace(billingCycle)))
	m.invoicesGenerated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInvoiceTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", strings.TrimSpace(from)),
		attribute.String("to_status", strings.TrimSpace(to)),
	)
	m.invoiceTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimit counts limiter decisions per endpoint. reason is empty for
// allowed requests.
func (m *Metrics) RecordRateLimit(ctx context.Context, endpoint string, allowed bool, reason string) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("decision", decision),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, method, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("payment_method", strings.TrimSpace(method)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":       {},
	"status_code":    {},
	"outcome":        {},
	"billing_cycle":  {},
	"from_status":    {},
	"to_status":      {},
	"payment_method": {},
	"event_type":     {},
	"reason":         {},
	"decision":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
