package web

import (
	"time"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/engine"
)

type variantJSON struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	ModelReference    string    `json:"model_reference"`
	TrafficAllocation float64   `json:"traffic_allocation"`
	Position          int       `json:"position"`
	CreatedAt         time.Time `json:"created_at"`
}

type experimentJSON struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description *string       `json:"description,omitempty"`
	Status      string        `json:"status"`
	Strategy    string        `json:"strategy"`
	StopReason  *string       `json:"stop_reason,omitempty"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	ActivatedAt *time.Time    `json:"activated_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Variants    []variantJSON `json:"variants"`
}

func toVariantJSON(v *domain.Variant) variantJSON {
	return variantJSON{
		ID:                v.ID,
		Name:              v.Name,
		ModelReference:    v.ModelReference,
		TrafficAllocation: v.TrafficAllocation,
		Position:          v.Position,
		CreatedAt:         v.CreatedAt,
	}
}

func toExperimentJSON(exp *domain.Experiment) experimentJSON {
	out := experimentJSON{
		ID:          exp.ID,
		Name:        exp.Name,
		Description: exp.Description,
		Status:      string(exp.Status),
		Strategy:    string(exp.Strategy),
		StopReason:  exp.StopReason,
		Version:     exp.Version,
		CreatedAt:   exp.CreatedAt,
		ActivatedAt: exp.ActivatedAt,
		CompletedAt: exp.CompletedAt,
		Variants:    make([]variantJSON, 0, len(exp.Variants)),
	}
	for _, v := range exp.OrderedVariants() {
		out.Variants = append(out.Variants, toVariantJSON(v))
	}
	return out
}

type eventJSON struct {
	ID         string         `json:"id"`
	VariantID  *string        `json:"variant_id,omitempty"`
	UserID     *string        `json:"user_id,omitempty"`
	Type       string         `json:"event_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

func toEventJSON(e *domain.Event) eventJSON {
	return eventJSON{
		ID:         e.ID,
		VariantID:  e.VariantID,
		UserID:     e.UserID,
		Type:       string(e.Type),
		Payload:    e.Payload,
		RecordedAt: e.RecordedAt,
	}
}

type variantStatsJSON struct {
	VariantID         string  `json:"variant_id"`
	Name              string  `json:"name"`
	ModelReference    string  `json:"model_reference"`
	TrafficAllocation float64 `json:"traffic_allocation"`
	Assignments       int64   `json:"assignments"`
	Share             float64 `json:"share"`
	Drift             float64 `json:"drift"`
}

type statsJSON struct {
	ExperimentID string             `json:"experiment_id"`
	Name         string             `json:"name"`
	Status       string             `json:"status"`
	Total        int64              `json:"total"`
	MaxDrift     float64            `json:"max_drift"`
	Variants     []variantStatsJSON `json:"variants"`
}

func toStatsJSON(stats *domain.ExperimentStats) statsJSON {
	out := statsJSON{
		ExperimentID: stats.ExperimentID,
		Name:         stats.ExperimentName,
		Status:       string(stats.Status),
		Total:        stats.Total(),
		MaxDrift:     stats.MaxDrift(),
		Variants:     make([]variantStatsJSON, 0, len(stats.Variants)),
	}
	for _, v := range stats.Variants {
		out.Variants = append(out.Variants, variantStatsJSON{
			VariantID:         v.VariantID,
			Name:              v.Name,
			ModelReference:    v.ModelReference,
			TrafficAllocation: v.TrafficAllocation,
			Assignments:       v.Assignments,
			Share:             stats.Share(v),
			Drift:             stats.Drift(v),
		})
	}
	return out
}

type auditJSON struct {
	ExperimentID    string    `json:"experiment_id"`
	UserID          string    `json:"user_id"`
	StoredVariantID *string   `json:"stored_variant_id,omitempty"`
	StoredBucket    *float64  `json:"stored_bucket,omitempty"`
	AssignedAt      time.Time `json:"assigned_at,omitzero"`
	ResolvedVariant string    `json:"resolved_variant_id"`
	ResolvedBucket  float64   `json:"resolved_bucket"`
	Match           bool      `json:"match"`
}

func toAuditJSON(r *engine.AuditReport) auditJSON {
	out := auditJSON{
		ExperimentID:    r.ExperimentID,
		UserID:          r.UserID,
		ResolvedVariant: r.ResolvedVariant.ID,
		ResolvedBucket:  r.ResolvedBucket,
		Match:           r.Match,
	}
	if r.Stored != nil {
		out.StoredVariantID = &r.Stored.VariantID
		out.StoredBucket = &r.Stored.Bucket
		out.AssignedAt = r.Stored.AssignedAt
	}
	return out
}

type variantRequest struct {
	Name              string  `json:"name"`
	ModelReference    string  `json:"model_reference"`
	TrafficAllocation float64 `json:"traffic_allocation"`
}

type createExperimentRequest struct {
	Name        string           `json:"name"`
	Description *string          `json:"description"`
	Strategy    string           `json:"strategy"`
	Variants    []variantRequest `json:"variants"`
}

type updateVariantRequest struct {
	Name              *string  `json:"name"`
	ModelReference    *string  `json:"model_reference"`
	TrafficAllocation *float64 `json:"traffic_allocation"`
}

type stopRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	ExperimentID string `json:"experiment_id"`
	UserID       string `json:"user_id"`
}

type outcomeRequest struct {
	ExperimentID string         `json:"experiment_id"`
	VariantID    string         `json:"variant_id"`
	UserID       string         `json:"user_id"`
	EventType    string         `json:"event_type"`
	Payload      map[string]any `json:"payload"`
}
