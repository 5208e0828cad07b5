package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/milan604/jsonapi-client/pkg/config"
	"github.com/milan604/jsonapi-client/pkg/logger"
)

// Configuration keys read by New.
const (
	KeyServiceName    = "otel.service_name"
	KeyServiceVersion = "otel.service_version"
	KeyEndpoint       = "otel.endpoint"
	KeyInsecure       = "otel.insecure"
	KeySampleRatio    = "otel.sample_ratio"
)

// Observability owns the tracer and meter providers installed by New.
type Observability struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	metrics        *Metrics
	log            logger.LogManager
}

// New installs global OTLP/HTTP tracer and meter providers and the W3C
// trace-context propagator. The endpoint is a host:port such as
// "localhost:4318".
func New(log logger.LogManager, cfg *config.Config) (*Observability, error) {
	serviceName := cfg.GetStringD(KeyServiceName, "apiclient")
	serviceVersion := cfg.GetStringD(KeyServiceVersion, "dev")
	endpoint := cfg.GetStringD(KeyEndpoint, "localhost:4318")

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.GetBoolD(KeyInsecure, true) {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(context.Background(), exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if cfg.GetBoolD(KeyInsecure, true) {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExporter, err := otlpmetrichttp.New(context.Background(), metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if ratio := cfg.GetFloat64(KeySampleRatio); ratio > 0 && ratio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	metrics, err := NewMetrics(serviceName)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
		return nil, err
	}

	log.InfoF("telemetry initialized: service=%s, version=%s, endpoint=%s", serviceName, serviceVersion, endpoint)

	return &Observability{
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer(serviceName, trace.WithInstrumentationVersion(serviceVersion)),
		metrics:        metrics,
		log:            log,
	}, nil
}

// Metrics returns the exchange instruments on the installed meter provider;
// pass it to apiclient.WithMetrics.
func (o *Observability) Metrics() *Metrics {
	return o.metrics
}

// Tracer returns the tracer for client spans; pass it to apiclient.WithTracer.
func (o *Observability) Tracer() trace.Tracer {
	return o.tracer
}

// Shutdown flushes pending spans and metrics.
func (o *Observability) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if err := o.tracerProvider.Shutdown(ctx); err != nil {
		o.log.ErrorF("failed to shutdown tracer provider: %v", err)
		errs = append(errs, err)
	}
	if err := o.meterProvider.Shutdown(ctx); err != nil {
		o.log.ErrorF("failed to shutdown meter provider: %v", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
