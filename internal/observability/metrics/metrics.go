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
	paymentTransitions   metric.Int64Counter
	notificationsCreated metric.Int64Counter
	pushFailures         metric.Int64Counter
	alertsRaised         metric.Int64Counter
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
		name = "smajobb"
	}
	meter := provider.Meter(name)

	paymentTransitions, err := meter.Int64Counter("smajobb_payment_transitions_total")
	if err != nil {
		return nil, err
	}
	notificationsCreated, err := meter.Int64Counter("smajobb_notifications_created_total")
	if err != nil {
		return nil, err
	}
	pushFailures, err := meter.Int64Counter("smajobb_notification_push_failures_total")
	if err != nil {
		return nil, err
	}
	alertsRaised, err := meter.Int64Counter("smajobb_alerts_raised_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentTransitions:   paymentTransitions,
		notificationsCreated: notificationsCreated,
		pushFailures:         pushFailures,
		alertsRaised:         alertsRaised,
	}, nil
}

// RecordPaymentTransition counts a payment status change, including lost races.
func (m *Metrics) RecordPaymentTransition(ctx context.Context, to, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("status", strings.TrimSpace(to)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.paymentTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordNotificationsCreated counts persisted notification rows.
func (m *Metrics) RecordNotificationsCreated(ctx context.Context, notificationType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("notification_type", strings.TrimSpace(notificationType)))
	m.notificationsCreated.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordPushFailure counts realtime deliveries that did not reach a session.
func (m *Metrics) RecordPushFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.pushFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAlert counts alerts raised by the poller.
func (m *Metrics) RecordAlert(ctx context.Context, alertType, severity string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("alert_type", strings.TrimSpace(alertType)),
		attribute.String("severity", strings.TrimSpace(severity)),
	)
	m.alertsRaised.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"status":            {},
	"outcome":           {},
	"notification_type": {},
	"reason":            {},
	"alert_type":        {},
	"severity":          {},
	"endpoint":          {},
	"status_code":       {},
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
