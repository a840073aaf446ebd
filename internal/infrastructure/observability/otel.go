package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/localdirectory/telemetry-core"

// Metrics holds all application metrics
type Metrics struct {
	InteractionsTracked  metric.Int64Counter
	InteractionsDropped  metric.Int64Counter
	InteractionsFlushed  metric.Int64Counter
	FlushFailures        metric.Int64Counter
	FlushDuration        metric.Float64Histogram
	LocationAcquisitions metric.Int64Counter
}

// Setup initializes OpenTelemetry tracing, metrics and runtime instrumentation
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		GetLogger().Warn().Err(err).Msg("Failed to start runtime metrics")
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			meterProvider.Shutdown(ctx),
			tracerProvider.Shutdown(ctx),
		)
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics on the global meter provider
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	tracked, err := meter.Int64Counter(
		"interactions.tracked",
		metric.WithDescription("Interactions accepted into the pending queue"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter(
		"interactions.dropped",
		metric.WithDescription("Interactions rejected or discarded before delivery"),
	)
	if err != nil {
		return nil, err
	}

	flushed, err := meter.Int64Counter(
		"interactions.flushed",
		metric.WithDescription("Interactions acknowledged by the tracking API"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"interactions.flush.failures",
		metric.WithDescription("Failed interaction send attempts"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"interactions.flush.duration",
		metric.WithDescription("Interaction send duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	acquisitions, err := meter.Int64Counter(
		"location.acquisitions",
		metric.WithDescription("Completed location acquisitions by resulting source"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		InteractionsTracked:  tracked,
		InteractionsDropped:  dropped,
		InteractionsFlushed:  flushed,
		FlushFailures:        failures,
		FlushDuration:        duration,
		LocationAcquisitions: acquisitions,
	}, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// RecordInteractionTracked records an interaction accepted for delivery
func RecordInteractionTracked(ctx context.Context, metrics *Metrics, action string) {
	if metrics == nil {
		return
	}
	metrics.InteractionsTracked.Add(ctx, 1, metric.WithAttributes(attribute.String("interaction.action", action)))
}

// RecordInteractionDropped records interactions that will never be delivered
func RecordInteractionDropped(ctx context.Context, metrics *Metrics, reason string, count int) {
	if metrics == nil || count <= 0 {
		return
	}
	metrics.InteractionsDropped.Add(ctx, int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFlush records the outcome of one send attempt
func RecordFlush(ctx context.Context, metrics *Metrics, mode string, count int, duration time.Duration, err error) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("send.mode", mode))
	metrics.FlushDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		metrics.FlushFailures.Add(ctx, 1, attrs)
		return
	}
	metrics.InteractionsFlushed.Add(ctx, int64(count), attrs)
}

// RecordLocationAcquisition records a completed acquisition
func RecordLocationAcquisition(ctx context.Context, metrics *Metrics, source string) {
	if metrics == nil {
		return
	}
	metrics.LocationAcquisitions.Add(ctx, 1, metric.WithAttributes(attribute.String("location.source", source)))
}
