package notify_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/vuhoang-dev/backend-preorder/internal/events"
	"github.com/vuhoang-dev/backend-preorder/internal/notify"
	"github.com/vuhoang-dev/backend-preorder/internal/resilience"
)

func testClient(srv *httptest.Server) *resilience.HTTPClient {
	return &resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(1, 1, time.Second),
		MaxAttempts: 1,
		Timeout:     time.Second,
	}
}

func TestSignatureAndHeaders(t *testing.T) {
	type recorded struct {
		req  *http.Request
		body []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{req: r, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	dispatcher := &notify.Dispatcher{
		HTTP:    testClient(srv),
		Enabled: true,
	}
	endpoint := notify.Endpoint{ID: uuid.New(), URL: srv.URL, Secret: "secret"}
	event := events.Event{
		ID:         uuid.New(),
		Topic:      "order.created",
		Payload:    []byte(`{"orderId":"abc"}`),
		OccurredAt: time.Now(),
	}
	delivery := notify.Delivery{ID: uuid.New()}

	status, _, err := dispatcher.Deliver(context.Background(), endpoint, event, delivery)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	record := <-received
	req := record.req
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, event.ID.String(), req.Header.Get("X-Event-ID"))
	require.Equal(t, delivery.ID.String(), req.Header.Get("X-Idempotency-Key"))
	timestamp := req.Header.Get("X-Timestamp")
	require.NotEmpty(t, timestamp)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	require.NoError(t, err)
	require.Equal(t,
		notify.ComputeSignature(endpoint.Secret, ts, req.Header.Get("X-Event-ID"), record.body),
		req.Header.Get("X-Signature"))
}

type memoryStore struct {
	endpoints map[uuid.UUID]notify.Endpoint
	event     events.Event
	due       []notify.Delivery
	failed    []notify.Delivery
	dlq       []uuid.UUID
	enqueued  int
	dupFirst  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{endpoints: make(map[uuid.UUID]notify.Endpoint)}
}

func (m *memoryStore) CreateEndpoint(_ context.Context, ep notify.Endpoint) (notify.Endpoint, error) {
	ep.ID = uuid.New()
	m.endpoints[ep.ID] = ep
	return ep, nil
}

func (m *memoryStore) UpdateEndpoint(_ context.Context, ep notify.Endpoint) (notify.Endpoint, error) {
	if _, ok := m.endpoints[ep.ID]; !ok {
		return notify.Endpoint{}, notify.ErrNotFound
	}
	m.endpoints[ep.ID] = ep
	return ep, nil
}

func (m *memoryStore) GetEndpoint(_ context.Context, id uuid.UUID) (notify.Endpoint, error) {
	ep, ok := m.endpoints[id]
	if !ok {
		return notify.Endpoint{}, notify.ErrNotFound
	}
	return ep, nil
}

func (m *memoryStore) ListEndpoints(context.Context, int, int) ([]notify.Endpoint, error) {
	return nil, nil
}

func (m *memoryStore) DeleteEndpoint(context.Context, uuid.UUID) error { return nil }

func (m *memoryStore) ActiveEndpointsForTopic(context.Context, string) ([]notify.Endpoint, error) {
	out := make([]notify.Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		out = append(out, ep)
	}
	return out, nil
}

func (m *memoryStore) EnqueueDelivery(_ context.Context, endpointID, eventID uuid.UUID, maxAttempt int) (notify.Delivery, error) {
	m.enqueued++
	if m.dupFirst && m.enqueued == 1 {
		return notify.Delivery{}, &pgconn.PgError{Code: "23505"}
	}
	return notify.Delivery{ID: uuid.New(), EndpointID: endpointID, EventID: eventID, MaxAttempt: maxAttempt}, nil
}

func (m *memoryStore) DueDeliveries(context.Context, int) ([]notify.Delivery, error) {
	due := m.due
	m.due = nil
	return due, nil
}

func (m *memoryStore) GetDelivery(context.Context, uuid.UUID) (notify.Delivery, error) {
	return notify.Delivery{}, notify.ErrNotFound
}

func (m *memoryStore) MarkDelivering(context.Context, uuid.UUID) error { return nil }

func (m *memoryStore) MarkDelivered(context.Context, uuid.UUID, int, string) error { return nil }

func (m *memoryStore) MarkFailedWithBackoff(_ context.Context, id uuid.UUID, delay time.Duration, reason string) error {
	m.failed = append(m.failed, notify.Delivery{ID: id, NextAttemptAt: time.Now().Add(delay), LastError: reason})
	return nil
}

func (m *memoryStore) MoveToDLQ(_ context.Context, id uuid.UUID, _ string) error {
	m.dlq = append(m.dlq, id)
	return nil
}

func (m *memoryStore) ResetDeliveryForReplay(context.Context, uuid.UUID) (notify.Delivery, error) {
	return notify.Delivery{}, notify.ErrNotFound
}

func (m *memoryStore) DeleteDLQByDelivery(context.Context, uuid.UUID) error { return nil }

func (m *memoryStore) ListDeliveries(context.Context, notify.DeliveryFilter) ([]notify.Delivery, int64, error) {
	return nil, 0, nil
}

func (m *memoryStore) GetEvent(context.Context, uuid.UUID) (events.Event, error) {
	if m.event.ID == uuid.Nil {
		return events.Event{}, notify.ErrNotFound
	}
	return m.event, nil
}

func TestRetryAndDLQ(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	store := newMemoryStore()
	endpoint, err := store.CreateEndpoint(context.Background(), notify.Endpoint{URL: srv.URL, Secret: "secret", Active: true})
	require.NoError(t, err)
	store.event = events.Event{ID: uuid.New(), Topic: "order.created", Payload: []byte(`{"orderId":"abc"}`), OccurredAt: time.Now()}

	dispatcher := &notify.Dispatcher{
		Store:              store,
		HTTP:               testClient(srv),
		BackoffBaseSec:     3,
		DefaultMaxAttempts: 2,
		Enabled:            true,
	}

	first := notify.Delivery{ID: uuid.New(), EndpointID: endpoint.ID, EventID: store.event.ID, Attempt: 0, MaxAttempt: 2}
	store.due = []notify.Delivery{first}
	require.NoError(t, dispatcher.WorkOnce(context.Background(), 1))
	require.Len(t, store.failed, 1)
	require.WithinDuration(t, time.Now().Add(3*time.Second), store.failed[0].NextAttemptAt, time.Second)

	second := first
	second.Attempt = 1
	store.due = []notify.Delivery{second}
	require.NoError(t, dispatcher.WorkOnce(context.Background(), 1))
	require.Len(t, store.dlq, 1)
}

func TestScheduleSkipsDuplicateDeliveries(t *testing.T) {
	store := newMemoryStore()
	store.dupFirst = true
	for i := 0; i < 2; i++ {
		_, err := store.CreateEndpoint(context.Background(), notify.Endpoint{URL: "https://example.com", Secret: "s", Active: true})
		require.NoError(t, err)
	}
	dispatcher := &notify.Dispatcher{Store: store, Enabled: true}

	err := dispatcher.Schedule(context.Background(), events.Event{ID: uuid.New(), Topic: "order.created"})
	require.NoError(t, err)
	require.Equal(t, 2, store.enqueued)
}

func TestValidateEndpointURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	dispatcher := &notify.Dispatcher{HTTP: testClient(srv), Enabled: true}
	endpoint := notify.Endpoint{ID: uuid.New(), URL: "http://evil.example.com/hook", Secret: "secret"}
	event := events.Event{ID: uuid.New(), Topic: "order.created", Payload: []byte(`{}`), OccurredAt: time.Now()}

	_, _, err := dispatcher.Deliver(context.Background(), endpoint, event, notify.Delivery{ID: uuid.New()})
	require.ErrorContains(t, err, "localhost")
}
