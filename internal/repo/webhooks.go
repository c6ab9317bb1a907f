package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Endpoint is a registered webhook destination.
type Endpoint struct {
	ID     uuid.UUID `json:"id"`
	URL    string    `json:"url"`
	Secret string    `json:"-"`
	Topics []string  `json:"topics"`
	Active bool      `json:"active"`
}

// Delivery tracks one event-to-endpoint delivery attempt chain.
type Delivery struct {
	ID             uuid.UUID
	EndpointID     uuid.UUID
	EventID        uuid.UUID
	Attempt        int32
	MaxAttempt     int32
	Status         string
	NextRunAt      time.Time
	LastError      *string
	ResponseStatus *int32
}

// CreateEndpoint registers a webhook endpoint.
func (s *Store) CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO webhook_endpoints (id, url, secret, topics, active)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id`,
		ep.URL, ep.Secret, ep.Topics, ep.Active,
	).Scan(&ep.ID)
	if err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// ListEndpoints returns all registered endpoints.
func (s *Store) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, url, secret, topics, active FROM webhook_endpoints ORDER BY url`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var ep Endpoint
		if err := rows.Scan(&ep.ID, &ep.URL, &ep.Secret, &ep.Topics, &ep.Active); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// GetEndpoint loads one endpoint by id.
func (s *Store) GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error) {
	var ep Endpoint
	err := s.Pool.QueryRow(ctx, `SELECT id, url, secret, topics, active FROM webhook_endpoints WHERE id = $1`, id).
		Scan(&ep.ID, &ep.URL, &ep.Secret, &ep.Topics, &ep.Active)
	if err != nil {
		return Endpoint{}, mapNoRows(err)
	}
	return ep, nil
}

// ListActiveEndpointsForTopic returns active endpoints subscribed to the topic.
func (s *Store) ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, url, secret, topics, active
		FROM webhook_endpoints
		WHERE active AND $1 = ANY(topics)`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var ep Endpoint
		if err := rows.Scan(&ep.ID, &ep.URL, &ep.Secret, &ep.Topics, &ep.Active); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// EnqueueDelivery schedules one delivery for an endpoint/event pair. A repeat
// enqueue of the same pair is ignored.
func (s *Store) EnqueueDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int32) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, endpoint_id, event_id, attempt, max_attempt, status, next_run_at)
		VALUES (gen_random_uuid(), $1, $2, 0, $3, 'pending', now())
		ON CONFLICT (endpoint_id, event_id) DO NOTHING`,
		endpointID, eventID, maxAttempt,
	)
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

// DequeueDueDeliveries claims a batch of due deliveries for dispatch.
func (s *Store) DequeueDueDeliveries(ctx context.Context, batch int32) ([]Delivery, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, endpoint_id, event_id, attempt, max_attempt, status, next_run_at, last_error, response_status
		FROM webhook_deliveries
		WHERE status IN ('pending', 'failed') AND next_run_at <= now()
		ORDER BY next_run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Attempt, &d.MaxAttempt, &d.Status, &d.NextRunAt, &d.LastError, &d.ResponseStatus); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDelivering flags a claimed delivery as in flight.
func (s *Store) MarkDelivering(ctx context.Context, id uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `UPDATE webhook_deliveries SET status = 'delivering' WHERE id = $1`, id)
	return err
}

// MarkDelivered records a successful delivery.
func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID, responseStatus int32) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'delivered', response_status = $2, attempt = attempt + 1
		WHERE id = $1`, id, responseStatus)
	return err
}

// MarkFailedWithBackoff reschedules a failed delivery.
func (s *Store) MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delay time.Duration, lastError string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'failed', attempt = attempt + 1, last_error = $2,
		    next_run_at = now() + $3::interval
		WHERE id = $1`, id, lastError, delay.String())
	return err
}

// MoveToDLQ parks a delivery that exhausted its attempts.
func (s *Store) MoveToDLQ(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'dead', attempt = attempt + 1, last_error = $2
		WHERE id = $1`, id, lastError)
	return err
}
