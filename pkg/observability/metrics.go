package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records client exchanges on an OpenTelemetry meter.
type Metrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewMetrics creates the exchange instruments on the global meter provider.
func NewMetrics(scope string) (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider(), scope)
}

// NewMetricsWithProvider creates the exchange instruments on mp.
func NewMetricsWithProvider(mp metric.MeterProvider, scope string) (*Metrics, error) {
	meter := mp.Meter(scope)

	requests, err := meter.Int64Counter(
		"apiclient.requests",
		metric.WithDescription("Completed API exchanges by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"apiclient.request.duration",
		metric.WithDescription("API exchange latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	inFlight, err := meter.Int64UpDownCounter(
		"apiclient.requests.in_flight",
		metric.WithDescription("API exchanges currently running"),
	)
	if err != nil {
		return nil, fmt.Errorf("create in-flight counter: %w", err)
	}

	return &Metrics{requests: requests, duration: duration, inFlight: inFlight}, nil
}

// ExchangeStarted marks one exchange as in flight.
func (m *Metrics) ExchangeStarted(method string) {
	m.inFlight.Add(context.Background(), 1, metric.WithAttributes(AttrHTTPMethod.String(method)))
}

// ExchangeFinished records the outcome and latency of one exchange.
func (m *Metrics) ExchangeFinished(method, outcome string, elapsed time.Duration) {
	ctx := context.Background()
	methodAttr := AttrHTTPMethod.String(method)
	m.inFlight.Add(ctx, -1, metric.WithAttributes(methodAttr))
	m.requests.Add(ctx, 1, metric.WithAttributes(methodAttr, attribute.String("outcome", outcome)))
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(methodAttr))
}
