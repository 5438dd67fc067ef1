package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("feature_key", "GENERATE_IMAGE"),
		attribute.String("user_id", "456"),
		attribute.String("provider", "cashfree"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "user_id" {
			t.Fatalf("expected user_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordLedgerEntry(ctx, "debit")
	m.RecordUsage(ctx, "GENERATE_IMAGE", true)
	m.RecordPaymentEvent(ctx, "cashfree", "completed")
	m.RecordRestoration(ctx, "restored")
}

func TestNewRegistersInstrumentsOnNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "creditcore"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordLedgerEntry(context.Background(), "credit")
	m.RecordReservation(context.Background(), "held")
}
