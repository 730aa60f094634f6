package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vuhoang-dev/backend-preorder/internal/events"
	"github.com/vuhoang-dev/backend-preorder/internal/obs"
	"github.com/vuhoang-dev/backend-preorder/internal/resilience"
)

// Dispatcher coordinates webhook scheduling and delivery. It implements
// events.DeliveryScheduler so the event bus can fan out to subscribed
// endpoints.
type Dispatcher struct {
	Store              Store
	HTTP               *resilience.HTTPClient
	Tasks              *Enqueuer
	BackoffBaseSec     int
	DefaultMaxAttempts int
	Enabled            bool
	Replay             ReplayProtector
	ReplayTTL          time.Duration
}

// Schedule enqueues deliveries for active endpoints subscribed to the topic.
func (d *Dispatcher) Schedule(ctx context.Context, event events.Event) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	if strings.TrimSpace(event.Topic) == "" {
		return nil
	}
	endpoints, err := d.Store.ActiveEndpointsForTopic(ctx, event.Topic)
	if err != nil {
		return err
	}
	maxAttempt := d.DefaultMaxAttempts
	if maxAttempt <= 0 {
		maxAttempt = 6
	}
	var joined error
	for _, ep := range endpoints {
		delivery, err := d.Store.EnqueueDelivery(ctx, ep.ID, event.ID, maxAttempt)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			joined = errors.Join(joined, fmt.Errorf("enqueue delivery for %s: %w", ep.ID, err))
			continue
		}
		if d.Tasks != nil {
			if err := d.Tasks.EnqueueDelivery(ctx, delivery.ID, 0); err != nil {
				joined = errors.Join(joined, fmt.Errorf("queue delivery %s: %w", delivery.ID, err))
			}
		}
	}
	return joined
}

// WorkOnce claims due deliveries and attempts them. Used by the worker sweep
// to pick up retries whose backoff has elapsed.
func (d *Dispatcher) WorkOnce(ctx context.Context, batch int) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	if batch <= 0 {
		batch = 1
	}
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.WorkOnce")
	defer span.End()
	span.SetAttributes(attribute.Int("webhook.batch", batch))

	deliveries, err := d.Store.DueDeliveries(ctx, batch)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for _, del := range deliveries {
		if err := d.process(ctx, del); err != nil {
			span.RecordError(err)
		}
	}
	return nil
}

// DeliverByID attempts the delivery identified by id, regardless of its
// backoff schedule. Used by the queue worker and manual replays.
func (d *Dispatcher) DeliverByID(ctx context.Context, rawID string) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return fmt.Errorf("invalid delivery id %q: %w", rawID, err)
	}
	del, err := d.Store.GetDelivery(ctx, id)
	if err != nil {
		return err
	}
	switch del.Status {
	case DeliveryDelivered, DeliveryDLQ:
		return nil
	}
	return d.process(ctx, del)
}

func (d *Dispatcher) process(ctx context.Context, del Delivery) error {
	attemptStart := time.Now()
	if err := d.Store.MarkDelivering(ctx, del.ID); err != nil {
		return err
	}
	endpoint, err := d.Store.GetEndpoint(ctx, del.EndpointID)
	if err != nil {
		return d.failDelivery(ctx, del, fmt.Errorf("load endpoint: %w", err))
	}
	event, err := d.Store.GetEvent(ctx, del.EventID)
	if err != nil {
		return d.failDelivery(ctx, del, fmt.Errorf("load event: %w", err))
	}
	status, respBody, deliverErr := d.deliver(ctx, endpoint, event, del)
	if deliverErr == nil && status >= 200 && status < 300 {
		countDelivery("delivered", attemptStart)
		return d.Store.MarkDelivered(ctx, del.ID, status, respBody)
	}
	reason := fmt.Sprintf("status=%d err=%v", status, deliverErr)
	if del.Attempt+1 >= del.MaxAttempt {
		countDelivery("dlq", attemptStart)
		if obs.WebhookDispatchDLQ != nil {
			obs.WebhookDispatchDLQ.Inc()
		}
		return d.Store.MoveToDLQ(ctx, del.ID, reason)
	}
	countDelivery("failed", attemptStart)
	return d.Store.MarkFailedWithBackoff(ctx, del.ID, d.nextDelay(del.Attempt), reason)
}

func (d *Dispatcher) failDelivery(ctx context.Context, del Delivery, err error) error {
	reason := err.Error()
	if del.Attempt+1 >= del.MaxAttempt {
		if obs.WebhookDeliveriesTotal != nil {
			obs.WebhookDeliveriesTotal.WithLabelValues("dlq").Inc()
		}
		if obs.WebhookDispatchDLQ != nil {
			obs.WebhookDispatchDLQ.Inc()
		}
		return d.Store.MoveToDLQ(ctx, del.ID, reason)
	}
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	}
	return d.Store.MarkFailedWithBackoff(ctx, del.ID, d.nextDelay(del.Attempt), reason)
}

func countDelivery(result string, start time.Time) {
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if obs.WebhookAttemptLatency != nil {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
}

func (d *Dispatcher) nextDelay(attempt int) time.Duration {
	base := d.BackoffBaseSec
	if base <= 0 {
		base = 5
	}
	factor := 1 << attempt
	if factor < 1 {
		factor = 1
	}
	return time.Duration(base*factor) * time.Second
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, ev events.Event, del Delivery) (int, string, error) {
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.endpoint_id", ep.ID.String()),
		attribute.String("webhook.delivery_id", del.ID.String()),
		attribute.String("webhook.topic", ev.Topic),
	)
	if err := validateURL(ep.URL); err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	payload := struct {
		EventID    string          `json:"eventId"`
		Topic      string          `json:"topic"`
		Data       json.RawMessage `json:"data"`
		OccurredAt time.Time       `json:"occurredAt"`
	}{
		EventID:    ev.ID.String(),
		Topic:      ev.Topic,
		Data:       ev.Payload,
		OccurredAt: occurred,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	ts := time.Now().Unix()
	if d.Replay != nil && d.ReplayTTL > 0 {
		key := replayKey(ep.ID, ev.ID)
		ok, err := d.Replay.Acquire(ctx, key, d.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return 0, "", err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return http.StatusOK, "replay-suppressed", nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "preorder-api-webhooks/1.0")
	req.Header.Set("X-Event-ID", ev.ID.String())
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", del.ID.String())
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, ev.ID.String(), body))

	client := d.HTTP
	if client == nil {
		client = &resilience.HTTPClient{Client: HttpClient(5000, false), MaxAttempts: 1}
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return resp.StatusCode, "", err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, string(responseBody), nil
}

// Deliver exposes the low-level delivery routine for manual replays and testing.
func (d *Dispatcher) Deliver(ctx context.Context, ep Endpoint, ev events.Event, del Delivery) (int, string, error) {
	return d.deliver(ctx, ep, ev, del)
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HttpClient returns an HTTP client configured for webhook delivery.
func HttpClient(timeoutMs int, insecure bool) *http.Client {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = insecureTLSConfig
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
		Transport: otelhttp.NewTransport(transport),
	}
}

var insecureTLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

func replayKey(endpointID, eventID uuid.UUID) string {
	return fmt.Sprintf("wh:%s:%s", endpointID, eventID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

