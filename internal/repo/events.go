package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pos/internal/events"
)

// InsertEvent persists a domain event, implementing events.EventStore.
func (s *Store) InsertEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	var ev events.Event
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO pos_events (id, topic, aggregate_id, payload, occurred_at)
		VALUES (gen_random_uuid(), $1, $2, $3, now())
		RETURNING id, topic, aggregate_id, payload, occurred_at`,
		topic, aggregateID, payload,
	).Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	if err != nil {
		return events.Event{}, err
	}
	return ev, nil
}

// GetEvent loads a persisted domain event by id.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (events.Event, error) {
	var ev events.Event
	err := s.Pool.QueryRow(ctx, `
		SELECT id, topic, aggregate_id, payload, occurred_at
		FROM pos_events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	if err != nil {
		return events.Event{}, mapNoRows(err)
	}
	return ev, nil
}
