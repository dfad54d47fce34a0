package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/emiliopalmerini/abassign/internal/ports"
)

const (
	serviceName    = "abassign"
	serviceVersion = "1.0.0"
)

// Exporter pushes engine metrics to an OTEL Collector.
type Exporter struct {
	provider        *sdkmetric.MeterProvider
	resolutions     metric.Int64Counter
	assignments     metric.Int64Counter
	outcomes        metric.Int64Counter
	eventDrops      metric.Int64Counter
	resolveDuration metric.Float64Histogram
}

// NewExporter creates a new OTEL metrics exporter.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	e, err := newExporter(provider)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	return e, nil
}

func newExporter(provider *sdkmetric.MeterProvider) (*Exporter, error) {
	meter := provider.Meter(serviceName)

	resolutions, err := meter.Int64Counter(
		"abassign_resolutions_total",
		metric.WithDescription("Variant resolutions served"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resolutions counter: %w", err)
	}

	assignments, err := meter.Int64Counter(
		"abassign_assignments_created_total",
		metric.WithDescription("Assignments created on first resolution"),
		metric.WithUnit("{assignment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating assignments counter: %w", err)
	}

	outcomes, err := meter.Int64Counter(
		"abassign_outcomes_total",
		metric.WithDescription("Outcome events reported"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating outcomes counter: %w", err)
	}

	eventDrops, err := meter.Int64Counter(
		"abassign_event_drops_total",
		metric.WithDescription("Events that never reached the event store"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating event drops counter: %w", err)
	}

	resolveDuration, err := meter.Float64Histogram(
		"abassign_resolve_duration_seconds",
		metric.WithDescription("Latency of variant resolution"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resolve duration histogram: %w", err)
	}

	return &Exporter{
		provider:        provider,
		resolutions:     resolutions,
		assignments:     assignments,
		outcomes:        outcomes,
		eventDrops:      eventDrops,
		resolveDuration: resolveDuration,
	}, nil
}

func (e *Exporter) ExportResolution(ctx context.Context, m *ports.ResolutionMetrics) error {
	opt := metric.WithAttributes(
		attribute.String("experiment_id", m.ExperimentID),
		attribute.String("experiment_name", m.ExperimentName),
		attribute.String("variant_id", m.VariantID),
		attribute.String("variant_name", m.VariantName),
	)

	e.resolutions.Add(ctx, 1, opt)
	if m.Created {
		e.assignments.Add(ctx, 1, opt)
	}
	e.resolveDuration.Record(ctx, m.Duration.Seconds(), opt)
	return nil
}

func (e *Exporter) ExportOutcome(ctx context.Context, m *ports.OutcomeMetrics) error {
	e.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("experiment_id", m.ExperimentID),
		attribute.String("variant_id", m.VariantID),
		attribute.String("event_type", m.EventType),
	))
	return nil
}

func (e *Exporter) ExportEventDrop(ctx context.Context, eventType, reason string) error {
	e.eventDrops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("reason", reason),
	))
	return nil
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
