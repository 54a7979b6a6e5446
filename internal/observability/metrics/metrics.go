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
	insufficientBalance metric.Int64Counter
	costGuardDecisions  metric.Int64Counter
	costAlerts          metric.Int64Counter
	aiCostUSD           metric.Float64Counter
	qualificationTurns  metric.Int64Counter
	fallbackResponses   metric.Int64Counter
	paymentEvents       metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
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
		name = "leadcore"
	}
	meter := provider.Meter(name)

	ledgerEntries, err := meter.Int64Counter("leadcore_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	insufficientBalance, err := meter.Int64Counter("leadcore_ledger_insufficient_balance_total")
	if err != nil {
		return nil, err
	}
	costGuardDecisions, err := meter.Int64Counter("leadcore_costguard_decisions_total")
	if err != nil {
		return nil, err
	}
	costAlerts, err := meter.Int64Counter("leadcore_costguard_alerts_total")
	if err != nil {
		return nil, err
	}
	aiCostUSD, err := meter.Float64Counter("leadcore_ai_cost_usd_total", metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}
	qualificationTurns, err := meter.Int64Counter("leadcore_qualification_turns_total")
	if err != nil {
		return nil, err
	}
	fallbackResponses, err := meter.Int64Counter("leadcore_fallback_responses_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("leadcore_payment_events_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("leadcore_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ledgerEntries:       ledgerEntries,
		insufficientBalance: insufficientBalance,
		costGuardDecisions:  costGuardDecisions,
		costAlerts:          costAlerts,
		aiCostUSD:           aiCostUSD,
		qualificationTurns:  qualificationTurns,
		fallbackResponses:   fallbackResponses,
		paymentEvents:       paymentEvents,
		rateLimitDenied:     rateLimitDenied,
	}, nil
}

// RecordLedgerEntry increments ledger entry counts by operation and direction.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, operation, direction string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("direction", strings.TrimSpace(direction)),
	)
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInsufficientBalance counts rejected debits.
func (m *Metrics) RecordInsufficientBalance(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.insufficientBalance.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCostGuardDecision counts cost guard outcomes (allowed, paused, cap_exceeded, kill_switch).
func (m *Metrics) RecordCostGuardDecision(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.costGuardDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCostAlert counts persisted cost alerts.
func (m *Metrics) RecordCostAlert(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.costAlerts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAICost adds tracked provider spend.
func (m *Metrics) RecordAICost(ctx context.Context, model string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("model", strings.TrimSpace(model)))
	m.aiCostUSD.Add(ctx, usd, metric.WithAttributes(attrs...))
}

// RecordQualificationTurn counts processed qualification turns by outcome.
func (m *Metrics) RecordQualificationTurn(ctx context.Context, turn int, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.Int("turn", turn),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.qualificationTurns.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFallback counts deterministic fallback responses served.
func (m *Metrics) RecordFallback(ctx context.Context, category, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("category", strings.TrimSpace(category)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.fallbackResponses.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments payment event counts.
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

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, tenantID, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tenant_id", strings.TrimSpace(tenantID)),
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
	"tenant_id":  {},
	"operation":  {},
	"direction":  {},
	"outcome":    {},
	"kind":       {},
	"model":      {},
	"turn":       {},
	"category":   {},
	"provider":   {},
	"event_type": {},
	"reason":     {},
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
