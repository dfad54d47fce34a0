package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/ports"
)

type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) Append(ctx context.Context, e *domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
		payload = b
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, experiment_id, variant_id, user_id, event_type, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.ExperimentID, e.VariantID, e.UserID, string(e.Type), payload, e.RecordedAt)
	if err != nil {
		return wrap("append event", err)
	}
	return nil
}

func (r *EventRepository) ListByExperiment(ctx context.Context, experimentID string, filter ports.EventFilter) ([]*domain.Event, error) {
	query := `
		SELECT id, experiment_id, variant_id, user_id, event_type, payload, recorded_at
		FROM events
		WHERE experiment_id = $1`
	args := []any{experimentID}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		query += fmt.Sprintf(` AND event_type = $%d`, len(args))
	}
	query += ` ORDER BY recorded_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list events", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Event, error) {
		var (
			e         domain.Event
			eventType string
			payload   []byte
		)
		if err := row.Scan(&e.ID, &e.ExperimentID, &e.VariantID, &e.UserID, &eventType, &payload, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(eventType)
		e.Payload = map[string]any{}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
		return &e, nil
	})
	if err != nil {
		return nil, wrap("list events", err)
	}
	return events, nil
}

func (r *EventRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE user_id = $1`, userID)
	if err != nil {
		return 0, wrap("delete events", err)
	}
	return tag.RowsAffected(), nil
}
