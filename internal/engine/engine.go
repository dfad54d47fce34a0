// Package engine is the inbound facade collaborators call to resolve variants,
// report outcomes and erase users.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emiliopalmerini/abassign/internal/adapters/logging"
	"github.com/emiliopalmerini/abassign/internal/adapters/otel"
	"github.com/emiliopalmerini/abassign/internal/assignment"
	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/events"
	"github.com/emiliopalmerini/abassign/internal/experiment"
	"github.com/emiliopalmerini/abassign/internal/ports"
	"github.com/emiliopalmerini/abassign/internal/util"
)

// Resolution is what a collaborator needs to serve a user.
type Resolution struct {
	ExperimentID   string `json:"experiment_id"`
	VariantID      string `json:"variant_id"`
	VariantName    string `json:"variant_name"`
	ModelReference string `json:"model_reference"`
	Created        bool   `json:"created"`
}

// OutcomeReport is an observation attributed to a variant. An empty
// EventType means "outcome".
type OutcomeReport struct {
	ExperimentID string
	VariantID    string
	UserID       string
	EventType    domain.EventType
	Payload      map[string]any
}

// ErasureResult counts what EraseForUser removed.
type ErasureResult struct {
	Assignments int64 `json:"assignments"`
	Events      int64 `json:"events"`
}

// AuditReport compares a stored assignment with a fresh resolver run.
type AuditReport struct {
	ExperimentID    string
	UserID          string
	Stored          *domain.Assignment
	ResolvedVariant *domain.Variant
	ResolvedBucket  float64
	Match           bool
}

type Options struct {
	Logger  ports.Logger
	Metrics ports.MetricsExporter
}

type Engine struct {
	experiments *experiment.Controller
	assignments *assignment.Store
	recorder    *events.Recorder
	metrics     ports.MetricsExporter
	logger      ports.Logger
}

func New(experiments *experiment.Controller, assignments *assignment.Store, recorder *events.Recorder, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = otel.NewNoOpExporter()
	}
	return &Engine{
		experiments: experiments,
		assignments: assignments,
		recorder:    recorder,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// Experiments exposes the lifecycle controller.
func (e *Engine) Experiments() *experiment.Controller {
	return e.experiments
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &domain.ValidationError{Field: "user_id", Reason: "user_id is required"}
	}
	return nil
}

// ResolveVariant returns the user's variant, creating the assignment on first
// sight. COMPLETED and STOPPED experiments still answer for users already
// assigned but never assign new ones.
func (e *Engine) ResolveVariant(ctx context.Context, experimentID, userID string) (*Resolution, error) {
	start := time.Now()
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	exp, err := e.experiments.Lookup(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	var (
		a       *domain.Assignment
		created bool
	)
	switch exp.Status {
	case domain.StatusRunning:
		a, created, err = e.assignments.GetOrCreate(ctx, exp, userID)
		if errors.Is(err, domain.ErrExperimentNotRunning) {
			// The cached copy is stale: another instance moved it on.
			e.experiments.Invalidate(exp.ID)
		}
	case domain.StatusCompleted, domain.StatusStopped:
		a, err = e.assignments.Get(ctx, exp.ID, userID)
		if err == nil && a == nil {
			err = notRunning(exp)
		}
	default:
		err = notRunning(exp)
	}
	if err != nil {
		return nil, err
	}

	variant := exp.Variant(a.VariantID)
	if variant == nil {
		return nil, fmt.Errorf("assignment of user %s references unknown variant %s of experiment %s", userID, a.VariantID, exp.ID)
	}

	if created {
		e.recorder.Record(ctx, &domain.Event{
			ExperimentID: exp.ID,
			VariantID:    &variant.ID,
			UserID:       &userID,
			Type:         domain.EventUserAssignment,
			Payload:      map[string]any{"bucket": a.Bucket, "variant_name": variant.Name},
			RecordedAt:   a.AssignedAt,
		})
		e.logger.Debug("user assigned", "experiment_id", exp.ID, "user_id", userID, "variant_id", variant.ID, "bucket", a.Bucket)
	}

	if err := e.metrics.ExportResolution(ctx, &ports.ResolutionMetrics{
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		VariantID:      variant.ID,
		VariantName:    variant.Name,
		Created:        created,
		Duration:       time.Since(start),
	}); err != nil {
		e.logger.Warn("failed to export resolution metrics", "error", err)
	}

	return &Resolution{
		ExperimentID:   exp.ID,
		VariantID:      variant.ID,
		VariantName:    variant.Name,
		ModelReference: variant.ModelReference,
		Created:        created,
	}, nil
}

func notRunning(exp *domain.Experiment) error {
	return fmt.Errorf("experiment %s is %s: %w", exp.ID, exp.Status, domain.ErrExperimentNotRunning)
}

// ReportOutcome validates the report and records it best-effort. Outcomes for
// COMPLETED and STOPPED experiments are accepted so late signals are kept.
func (e *Engine) ReportOutcome(ctx context.Context, r OutcomeReport) error {
	if r.EventType == "" {
		r.EventType = domain.EventOutcome
	}
	if r.EventType.Reserved() {
		return &domain.ValidationError{Field: "event_type", Reason: fmt.Sprintf("event type %q is reserved", r.EventType)}
	}

	exp, err := e.experiments.Lookup(ctx, r.ExperimentID)
	if err != nil {
		return err
	}
	if exp.Status == domain.StatusDraft {
		return notRunning(exp)
	}
	if exp.Variant(r.VariantID) == nil {
		return fmt.Errorf("variant %s, experiment %s: %w", r.VariantID, exp.ID, domain.ErrVariantMismatch)
	}

	event := &domain.Event{
		ExperimentID: exp.ID,
		VariantID:    &r.VariantID,
		Type:         r.EventType,
		UserID:       util.StringPtr(r.UserID),
		Payload:      r.Payload,
	}
	e.recorder.Record(ctx, event)

	if err := e.metrics.ExportOutcome(ctx, &ports.OutcomeMetrics{
		ExperimentID: exp.ID,
		VariantID:    r.VariantID,
		EventType:    string(r.EventType),
	}); err != nil {
		e.logger.Warn("failed to export outcome metrics", "error", err)
	}
	return nil
}

// EraseForUser deletes every assignment of userID and every event correlated
// with it. A later resolution starts from scratch.
func (e *Engine) EraseForUser(ctx context.Context, userID string) (*ErasureResult, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	assignments, err := e.assignments.EraseForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Erase flushes first, so events queued before this call are deleted too.
	evts, err := e.recorder.Erase(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to erase events: %w", err)
	}

	e.logger.Info("user erased", "assignments", assignments, "events", evts)
	return &ErasureResult{Assignments: assignments, Events: evts}, nil
}

// Stats returns the assignment count of every variant, in resolver order.
func (e *Engine) Stats(ctx context.Context, experimentID string) (*domain.ExperimentStats, error) {
	exp, err := e.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	counts, err := e.assignments.CountByVariant(ctx, exp.ID)
	if err != nil {
		return nil, err
	}

	stats := &domain.ExperimentStats{
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		Status:         exp.Status,
		Variants:       make([]domain.VariantStats, 0, len(exp.Variants)),
	}
	for _, v := range exp.OrderedVariants() {
		stats.Variants = append(stats.Variants, domain.VariantStats{
			VariantID:         v.ID,
			Name:              v.Name,
			ModelReference:    v.ModelReference,
			TrafficAllocation: v.TrafficAllocation,
			Assignments:       counts[v.ID],
		})
	}
	return stats, nil
}

// ListEvents returns the recorded events of an experiment, oldest first.
func (e *Engine) ListEvents(ctx context.Context, experimentID string, filter ports.EventFilter) ([]*domain.Event, error) {
	if err := e.recorder.Flush(ctx); err != nil {
		return nil, err
	}
	return e.recorder.List(ctx, experimentID, filter)
}

// Audit recomputes the resolver's answer for userID and compares it with the
// stored assignment, if any.
func (e *Engine) Audit(ctx context.Context, experimentID, userID string) (*AuditReport, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	exp, err := e.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	variant, bucket, err := domain.Resolve(exp, userID)
	if err != nil {
		return nil, err
	}
	stored, err := e.assignments.Get(ctx, exp.ID, userID)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{
		ExperimentID:    exp.ID,
		UserID:          userID,
		Stored:          stored,
		ResolvedVariant: variant,
		ResolvedBucket:  bucket,
	}
	report.Match = stored == nil || stored.VariantID == variant.ID
	return report, nil
}
