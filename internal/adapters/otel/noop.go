package otel

import (
	"context"

	"github.com/emiliopalmerini/abassign/internal/ports"
)

// NoOpExporter is a metrics exporter that does nothing.
type NoOpExporter struct{}

// NewNoOpExporter creates a new no-op exporter for graceful degradation.
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (e *NoOpExporter) ExportResolution(ctx context.Context, m *ports.ResolutionMetrics) error {
	return nil
}

func (e *NoOpExporter) ExportOutcome(ctx context.Context, m *ports.OutcomeMetrics) error {
	return nil
}

func (e *NoOpExporter) ExportEventDrop(ctx context.Context, eventType, reason string) error {
	return nil
}

func (e *NoOpExporter) Close(ctx context.Context) error {
	return nil
}
