package ports_test

import (
	"testing"

	"github.com/emiliopalmerini/abassign/internal/adapters/fanout"
	"github.com/emiliopalmerini/abassign/internal/adapters/logging"
	"github.com/emiliopalmerini/abassign/internal/adapters/otel"
	"github.com/emiliopalmerini/abassign/internal/adapters/postgres"
	"github.com/emiliopalmerini/abassign/internal/adapters/prometheus"
	"github.com/emiliopalmerini/abassign/internal/adapters/turso"
	"github.com/emiliopalmerini/abassign/internal/ports"
)

// Compile-time interface conformance checks.
// These verify that concrete adapters properly implement their port interfaces.

func TestExperimentRepositoryConformance(t *testing.T) {
	var _ ports.ExperimentRepository = (*turso.ExperimentRepository)(nil)
	var _ ports.ExperimentRepository = (*postgres.ExperimentRepository)(nil)
	var _ ports.ExperimentRepository = (*ports.MockExperimentRepository)(nil)
}

func TestAssignmentRepositoryConformance(t *testing.T) {
	var _ ports.AssignmentRepository = (*turso.AssignmentRepository)(nil)
	var _ ports.AssignmentRepository = (*postgres.AssignmentRepository)(nil)
	var _ ports.AssignmentRepository = (*ports.MockAssignmentRepository)(nil)
}

func TestEventRepositoryConformance(t *testing.T) {
	var _ ports.EventRepository = (*turso.EventRepository)(nil)
	var _ ports.EventRepository = (*postgres.EventRepository)(nil)
	var _ ports.EventRepository = (*ports.MockEventRepository)(nil)
}

func TestMetricsExporterConformance(t *testing.T) {
	var _ ports.MetricsExporter = (*otel.Exporter)(nil)
	var _ ports.MetricsExporter = (*otel.NoOpExporter)(nil)
	var _ ports.MetricsExporter = (*prometheus.Collector)(nil)
	var _ ports.MetricsExporter = (*fanout.Exporter)(nil)
}

func TestLoggerConformance(t *testing.T) {
	var _ ports.Logger = (*logging.SlogLogger)(nil)
	var _ ports.Logger = (*logging.NopLogger)(nil)
}
