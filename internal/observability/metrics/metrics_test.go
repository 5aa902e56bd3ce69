package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("status", "completed"),
		attribute.String("user_id", "456"),
		attribute.String("severity", "critical"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "status" && attrs[1].Key != "status" {
		t.Fatalf("expected status to be retained")
	}
	if attrs[0].Key != "severity" && attrs[1].Key != "severity" {
		t.Fatalf("expected severity to be retained")
	}
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordPaymentTransition(ctx, "completed", "applied")
	m.RecordNotificationsCreated(ctx, "payment_received", 3)
	m.RecordPushFailure(ctx, "no_subscribers")
	m.RecordAlert(ctx, "high_cpu_usage", "warning")

	var nilMetrics *Metrics
	nilMetrics.RecordAlert(ctx, "x", "y")
}
