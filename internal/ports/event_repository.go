package ports

import (
	"context"

	"github.com/emiliopalmerini/abassign/internal/domain"
)

// EventFilter narrows ListByExperiment. A zero Limit means no limit.
type EventFilter struct {
	Type  *domain.EventType
	Limit int
}

type EventRepository interface {
	Append(ctx context.Context, event *domain.Event) error
	ListByExperiment(ctx context.Context, experimentID string, filter EventFilter) ([]*domain.Event, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}
