package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists domain events in PostgreSQL.
type Store struct {
	Pool *pgxpool.Pool
}

// InsertDomainEvent appends an event to the log and returns the stored row.
func (s *Store) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (Event, error) {
	var ev Event
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, topic, aggregate_id, payload, occurred_at`,
		uuid.New(), topic, aggregateID, payload,
	).Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}

// GetEvent loads a single event by id.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	var ev Event
	err := s.Pool.QueryRow(ctx, `
		SELECT id, topic, aggregate_id, payload, occurred_at
		FROM domain_events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}
