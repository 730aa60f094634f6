package notify

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vuhoang-dev/backend-preorder/internal/events"
)

// ErrNotFound is returned when an endpoint or delivery does not exist.
var ErrNotFound = errors.New("notify: not found")

// Delivery lifecycle states.
const (
	DeliveryPending    = "PENDING"
	DeliveryDelivering = "DELIVERING"
	DeliveryDelivered  = "DELIVERED"
	DeliveryFailed     = "FAILED"
	DeliveryDLQ        = "DLQ"
)

// Endpoint is a staff-configured webhook receiver.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Topics    []string  `json:"topics"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Delivery is one attempt stream of an event towards an endpoint.
type Delivery struct {
	ID             uuid.UUID `json:"id"`
	EndpointID     uuid.UUID `json:"endpointId"`
	EventID        uuid.UUID `json:"eventId"`
	Status         string    `json:"status"`
	Attempt        int       `json:"attempt"`
	MaxAttempt     int       `json:"maxAttempt"`
	NextAttemptAt  time.Time `json:"nextAttemptAt"`
	LastError      string    `json:"lastError,omitempty"`
	ResponseStatus int       `json:"responseStatus,omitempty"`
	ResponseBody   string    `json:"responseBody,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DeliveryFilter narrows the admin delivery listing.
type DeliveryFilter struct {
	EndpointID uuid.UUID
	EventID    uuid.UUID
	Status     string
	Limit      int
	Offset     int
}

// Store defines the persistence operations required for webhook management.
type Store interface {
	CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error)
	ListEndpoints(ctx context.Context, limit, offset int) ([]Endpoint, error)
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error
	ActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error)

	EnqueueDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int) (Delivery, error)
	DueDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error)
	MarkDelivering(ctx context.Context, id uuid.UUID) error
	MarkDelivered(ctx context.Context, id uuid.UUID, status int, body string) error
	MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delay time.Duration, reason string) error
	MoveToDLQ(ctx context.Context, id uuid.UUID, reason string) error
	ResetDeliveryForReplay(ctx context.Context, id uuid.UUID) (Delivery, error)
	DeleteDLQByDelivery(ctx context.Context, deliveryID uuid.UUID) error
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, int64, error)

	GetEvent(ctx context.Context, id uuid.UUID) (events.Event, error)
}

// PgStore is the Postgres-backed Store.
type PgStore struct {
	Pool *pgxpool.Pool
}

const endpointColumns = `id, name, url, secret, topics, active, created_at, updated_at`

func scanEndpoint(row pgx.Row) (Endpoint, error) {
	var ep Endpoint
	err := row.Scan(&ep.ID, &ep.Name, &ep.URL, &ep.Secret, &ep.Topics, &ep.Active, &ep.CreatedAt, &ep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Endpoint{}, ErrNotFound
	}
	return ep, err
}

func (s *PgStore) CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO webhook_endpoints (name, url, secret, topics, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+endpointColumns,
		ep.Name, ep.URL, ep.Secret, ep.Topics, ep.Active)
	return scanEndpoint(row)
}

func (s *PgStore) UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE webhook_endpoints
		SET name = $2, url = $3, secret = $4, topics = $5, active = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+endpointColumns,
		ep.ID, ep.Name, ep.URL, ep.Secret, ep.Topics, ep.Active)
	return scanEndpoint(row)
}

func (s *PgStore) GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id)
	return scanEndpoint(row)
}

func (s *PgStore) ListEndpoints(ctx context.Context, limit, offset int) ([]Endpoint, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+endpointColumns+` FROM webhook_endpoints
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	endpoints := make([]Endpoint, 0, limit)
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func (s *PgStore) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) ActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE active AND $1 = ANY(topics)
		ORDER BY created_at`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var endpoints []Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

const deliveryColumns = `id, endpoint_id, event_id, status, attempt, max_attempt, next_attempt_at,
	coalesce(last_error, ''), coalesce(response_status, 0), coalesce(response_body, ''), created_at, updated_at`

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Status, &d.Attempt, &d.MaxAttempt,
		&d.NextAttemptAt, &d.LastError, &d.ResponseStatus, &d.ResponseBody, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrNotFound
	}
	return d, err
}

func (s *PgStore) EnqueueDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int) (Delivery, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (endpoint_id, event_id, status, max_attempt, next_attempt_at)
		VALUES ($1, $2, 'PENDING', $3, now())
		RETURNING `+deliveryColumns,
		endpointID, eventID, maxAttempt)
	return scanDelivery(row)
}

// DueDeliveries claims pending or retryable deliveries whose backoff has
// elapsed. SKIP LOCKED keeps concurrent workers from double-claiming.
func (s *PgStore) DueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE status IN ('PENDING', 'FAILED') AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *PgStore) GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

func (s *PgStore) MarkDelivering(ctx context.Context, id uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = 'DELIVERING', updated_at = now() WHERE id = $1`, id)
	return err
}

func (s *PgStore) MarkDelivered(ctx context.Context, id uuid.UUID, status int, body string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'DELIVERED', attempt = attempt + 1, response_status = $2,
		    response_body = $3, last_error = NULL, updated_at = now()
		WHERE id = $1`, id, status, body)
	return err
}

func (s *PgStore) MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delay time.Duration, reason string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'FAILED', attempt = attempt + 1, last_error = $3,
		    next_attempt_at = now() + $2 * interval '1 second', updated_at = now()
		WHERE id = $1`, id, int(delay.Seconds()), reason)
	return err
}

func (s *PgStore) MoveToDLQ(ctx context.Context, id uuid.UUID, reason string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'DLQ', attempt = attempt + 1, last_error = $2, updated_at = now()
		WHERE id = $1`, id, reason); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO webhook_dlq (delivery_id, reason) VALUES ($1, $2)`, id, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) ResetDeliveryForReplay(ctx context.Context, id uuid.UUID) (Delivery, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE webhook_deliveries
		SET status = 'PENDING', attempt = 0, last_error = NULL,
		    next_attempt_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING `+deliveryColumns, id)
	return scanDelivery(row)
}

func (s *PgStore) DeleteDLQByDelivery(ctx context.Context, deliveryID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM webhook_dlq WHERE delivery_id = $1`, deliveryID)
	return err
}

func (s *PgStore) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, int64, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.EndpointID != uuid.Nil {
		args = append(args, filter.EndpointID)
		where += ` AND endpoint_id = $` + itoa(len(args))
	}
	if filter.EventID != uuid.Nil {
		args = append(args, filter.EventID)
		where += ` AND event_id = $` + itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += ` AND status = $` + itoa(len(args))
	}

	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM webhook_deliveries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit)
	limitArg := itoa(len(args))
	args = append(args, filter.Offset)
	offsetArg := itoa(len(args))
	rows, err := s.Pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries`+where+`
		ORDER BY created_at DESC
		LIMIT $`+limitArg+` OFFSET $`+offsetArg, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	deliveries := make([]Delivery, 0, filter.Limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, total, rows.Err()
}

func (s *PgStore) GetEvent(ctx context.Context, id uuid.UUID) (events.Event, error) {
	var ev events.Event
	err := s.Pool.QueryRow(ctx, `
		SELECT id, topic, aggregate_id, payload, occurred_at FROM domain_events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return events.Event{}, ErrNotFound
	}
	return ev, err
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
