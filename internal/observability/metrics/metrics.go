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
	usageTracked      metric.Int64Counter
	splitCalculations metric.Int64Counter
	cyclesClosed      metric.Int64Counter
	chargesCreated    metric.Int64Counter
	configActivations metric.Int64Counter
	rateLimitAllowed  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
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
		name = "rentfolio"
	}
	meter := provider.Meter(name)

	usageTracked, err := meter.Int64Counter("rentfolio_usage_tracked_total")
	if err != nil {
		return nil, err
	}
	splitCalculations, err := meter.Int64Counter("rentfolio_split_calculations_total")
	if err != nil {
		return nil, err
	}
	cyclesClosed, err := meter.Int64Counter("rentfolio_billing_cycles_closed_total")
	if err != nil {
		return nil, err
	}
	chargesCreated, err := meter.Int64Counter("rentfolio_charges_created_total")
	if err != nil {
		return nil, err
	}
	configActivations, err := meter.Int64Counter("rentfolio_config_activations_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("rentfolio_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("rentfolio_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageTracked:      usageTracked,
		splitCalculations: splitCalculations,
		cyclesClosed:      cyclesClosed,
		chargesCreated:    chargesCreated,
		configActivations: configActivations,
		rateLimitAllowed:  rateLimitAllowed,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordUsageTracked increments usage tracking counts.
func (m *Metrics) RecordUsageTracked(ctx context.Context, feature string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature", strings.TrimSpace(feature)))
	m.usageTracked.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSplitCalculation increments split calculation counts.
func (m *Metrics) RecordSplitCalculation(ctx context.Context, chargeType string, valid bool) {
	if m == nil {
		return
	}
	outcome := "valid"
	if !valid {
		outcome = "inconsistent"
	}
	attrs := FilterAttributes(
		attribute.String("charge_type", strings.TrimSpace(chargeType)),
		attribute.String("outcome", outcome),
	)
	m.splitCalculations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCycleClosed increments closed billing cycle counts.
func (m *Metrics) RecordCycleClosed(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("scope", strings.TrimSpace(scope)))
	m.cyclesClosed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordChargeCreated increments charge creation counts.
func (m *Metrics) RecordChargeCreated(ctx context.Context, chargeType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("charge_type", strings.TrimSpace(chargeType)))
	m.chargesCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConfigActivation increments split config activation counts.
func (m *Metrics) RecordConfigActivation(ctx context.Context, scopeType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("scope_type", strings.TrimSpace(scopeType)))
	m.configActivations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, scope, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("scope", strings.TrimSpace(scope)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, scope, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("scope", strings.TrimSpace(scope)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"scope":       {},
	"scope_type":  {},
	"endpoint":    {},
	"status_code": {},
	"feature":     {},
	"charge_type": {},
	"outcome":     {},
	"reason":      {},
	"job":         {},
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
