package ports

import (
	"context"
	"time"
)

// MetricsExporter exports engine metrics to an external observability system.
type MetricsExporter interface {
	// ExportResolution records one variant resolution.
	ExportResolution(ctx context.Context, m *ResolutionMetrics) error
	// ExportOutcome records one reported outcome.
	ExportOutcome(ctx context.Context, m *OutcomeMetrics) error
	// ExportEventDrop records an event that never reached the event store.
	ExportEventDrop(ctx context.Context, eventType, reason string) error
	// Close shuts down the exporter and flushes any pending metrics.
	Close(ctx context.Context) error
}

// ResolutionMetrics describes a single ResolveVariant call.
type ResolutionMetrics struct {
	ExperimentID   string
	ExperimentName string
	VariantID      string
	VariantName    string
	Created        bool
	Duration       time.Duration
}

// OutcomeMetrics describes a single ReportOutcome call.
type OutcomeMetrics struct {
	ExperimentID string
	VariantID    string
	EventType    string
}
