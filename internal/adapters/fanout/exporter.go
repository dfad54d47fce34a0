// Package fanout forwards engine metrics to several exporters at once.
package fanout

import (
	"context"
	"errors"

	"github.com/emiliopalmerini/abassign/internal/ports"
)

// Exporter calls every wrapped exporter and joins their errors.
type Exporter struct {
	exporters []ports.MetricsExporter
}

func New(exporters ...ports.MetricsExporter) *Exporter {
	return &Exporter{exporters: exporters}
}

func (f *Exporter) each(fn func(ports.MetricsExporter) error) error {
	var errs []error
	for _, e := range f.exporters {
		if err := fn(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Exporter) ExportResolution(ctx context.Context, m *ports.ResolutionMetrics) error {
	return f.each(func(e ports.MetricsExporter) error { return e.ExportResolution(ctx, m) })
}

func (f *Exporter) ExportOutcome(ctx context.Context, m *ports.OutcomeMetrics) error {
	return f.each(func(e ports.MetricsExporter) error { return e.ExportOutcome(ctx, m) })
}

func (f *Exporter) ExportEventDrop(ctx context.Context, eventType, reason string) error {
	return f.each(func(e ports.MetricsExporter) error { return e.ExportEventDrop(ctx, eventType, reason) })
}

func (f *Exporter) Close(ctx context.Context) error {
	return f.each(func(e ports.MetricsExporter) error { return e.Close(ctx) })
}
