package domain

import (
	"strings"
	"time"
)

type EventType string

const (
	EventUserAssignment        EventType = "user_assignment"
	EventRecommendationRequest EventType = "recommendation_request"
	EventOutcome               EventType = "outcome"
)

// Reserved reports whether the type is written by the engine itself and must
// not be reported by collaborators.
func (t EventType) Reserved() bool {
	return t == EventUserAssignment || strings.HasPrefix(string(t), "experiment_")
}

// Event is an append-only analytics record.
type Event struct {
	ID           string
	ExperimentID string
	VariantID    *string
	UserID       *string
	Type         EventType
	Payload      map[string]any
	RecordedAt   time.Time
}
