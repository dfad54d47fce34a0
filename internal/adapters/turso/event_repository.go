package turso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/ports"
	"github.com/emiliopalmerini/abassign/internal/util"
)

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, event *domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	payload, err := marshalPayload(event.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO events (id, experiment_id, variant_id, user_id, event_type, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.ExperimentID,
		util.NullStringPtr(event.VariantID),
		util.NullStringPtr(event.UserID),
		string(event.Type),
		payload,
		util.FormatTime(event.RecordedAt),
	)
	if err != nil {
		return wrap("append event", err)
	}
	return nil
}

func (r *EventRepository) ListByExperiment(ctx context.Context, experimentID string, filter ports.EventFilter) ([]*domain.Event, error) {
	query := `
		SELECT id, experiment_id, variant_id, user_id, event_type, payload, recorded_at
		FROM events
		WHERE experiment_id = ?`
	args := []any{experimentID}
	if filter.Type != nil {
		query += ` AND event_type = ?`
		args = append(args, string(*filter.Type))
	}
	query += ` ORDER BY recorded_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list events", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var (
			e                 domain.Event
			variantID, userID sql.NullString
			eventType         string
			payload           string
			recordedAt        string
		)
		if err := rows.Scan(&e.ID, &e.ExperimentID, &variantID, &userID, &eventType, &payload, &recordedAt); err != nil {
			return nil, wrap("scan event", err)
		}
		e.VariantID = util.NullStringToPtr(variantID)
		e.UserID = util.NullStringToPtr(userID)
		e.Type = domain.EventType(eventType)
		if e.Payload, err = unmarshalPayload(payload); err != nil {
			return nil, err
		}
		if e.RecordedAt, err = util.ParseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list events", err)
	}
	return events, nil
}

func (r *EventRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE user_id = ?`, userID)
	if err != nil {
		return 0, wrap("delete events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete events", err)
	}
	return n, nil
}

func marshalPayload(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode event payload: %w", err)
	}
	return string(b), nil
}

func unmarshalPayload(s string) (map[string]any, error) {
	payload := map[string]any{}
	if s == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode event payload: %w", err)
	}
	return payload, nil
}
