package prometheus

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emiliopalmerini/abassign/internal/ports"
)

// Compile-time assertion that Collector implements MetricsExporter.
var _ ports.MetricsExporter = (*Collector)(nil)

// Collector exposes engine metrics for scraping. It owns its registry so
// several instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	resolutions     *prometheus.CounterVec
	assignments     *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	eventDrops      *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector. An empty namespace defaults to "abassign".
func NewCollector(cfg Config) *Collector {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "abassign"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Variant resolutions served, by experiment and variant.",
		}, []string{"experiment", "variant"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_created_total",
			Help:      "Assignments created on first resolution, by experiment and variant.",
		}, []string{"experiment", "variant"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Outcome events reported, by experiment, variant and type.",
		}, []string{"experiment", "variant", "event_type"}),
		eventDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_drops_total",
			Help:      "Events that never reached the event store, by type and reason.",
		}, []string{"event_type", "reason"}),
		resolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Latency of variant resolution in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}, []string{"created"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.resolutions,
		c.assignments,
		c.outcomes,
		c.eventDrops,
		c.resolveDuration,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ExportResolution(_ context.Context, m *ports.ResolutionMetrics) error {
	experiment := labelOr(m.ExperimentName, m.ExperimentID)
	variant := labelOr(m.VariantName, m.VariantID)

	c.resolutions.WithLabelValues(experiment, variant).Inc()
	created := "false"
	if m.Created {
		created = "true"
		c.assignments.WithLabelValues(experiment, variant).Inc()
	}
	c.resolveDuration.WithLabelValues(created).Observe(m.Duration.Seconds())
	return nil
}

func (c *Collector) ExportOutcome(_ context.Context, m *ports.OutcomeMetrics) error {
	c.outcomes.WithLabelValues(m.ExperimentID, m.VariantID, m.EventType).Inc()
	return nil
}

func (c *Collector) ExportEventDrop(_ context.Context, eventType, reason string) error {
	c.eventDrops.WithLabelValues(eventType, reason).Inc()
	return nil
}

// Close is a no-op: scraped metrics have nothing to flush.
func (c *Collector) Close(context.Context) error {
	return nil
}

func labelOr(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}
