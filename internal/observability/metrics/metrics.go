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
	ledgerEntries       metric.Int64Counter
	insufficientCredits metric.Int64Counter
	usageRecords        metric.Int64Counter
	paymentEvents       metric.Int64Counter
	gatewayRetries      metric.Int64Counter
	restorations        metric.Int64Counter
	reservations        metric.Int64Counter
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditcore"
	}
	meter := provider.Meter(name)

	ledgerEntries, err := meter.Int64Counter("creditcore_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	insufficientCredits, err := meter.Int64Counter("creditcore_insufficient_credits_total")
	if err != nil {
		return nil, err
	}
	usageRecords, err := meter.Int64Counter("creditcore_usage_records_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("creditcore_payment_events_total")
	if err != nil {
		return nil, err
	}
	gatewayRetries, err := meter.Int64Counter("creditcore_gateway_retries_total")
	if err != nil {
		return nil, err
	}
	restorations, err := meter.Int64Counter("creditcore_restorations_total")
	if err != nil {
		return nil, err
	}
	reservations, err := meter.Int64Counter("creditcore_reservations_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ledgerEntries:       ledgerEntries,
		insufficientCredits: insufficientCredits,
		usageRecords:        usageRecords,
		paymentEvents:       paymentEvents,
		gatewayRetries:      gatewayRetries,
		restorations:        restorations,
		reservations:        reservations,
	}, nil
}

// RecordLedgerEntry increments ledger entry counts by kind (credit, debit, noop).
func (m *Metrics) RecordLedgerEntry(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInsufficientCredits counts rejected debits and failed pre-checks.
func (m *Metrics) RecordInsufficientCredits(ctx context.Context, featureKey string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature_key", strings.TrimSpace(featureKey)))
	m.insufficientCredits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsage increments usage record counts.
func (m *Metrics) RecordUsage(ctx context.Context, featureKey string, billed bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("feature_key", strings.TrimSpace(featureKey)),
		attribute.Bool("billed", billed),
	)
	m.usageRecords.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments payment order lifecycle counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGatewayRetry increments retried gateway calls.
func (m *Metrics) RecordGatewayRetry(ctx context.Context, provider, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("operation", strings.TrimSpace(operation)),
	)
	m.gatewayRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRestoration increments restoration outcomes (restored, skipped, failed).
func (m *Metrics) RecordRestoration(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.restorations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReservation increments reservation outcomes (held, settled, released, expired).
func (m *Metrics) RecordReservation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.reservations.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"endpoint":    {},
	"status_code": {},
	"feature_key": {},
	"billed":      {},
	"provider":    {},
	"operation":   {},
	"event_type":  {},
	"kind":        {},
	"outcome":     {},
	"reason":      {},
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
