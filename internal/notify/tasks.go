package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/vuhoang-dev/backend-preorder/internal/lock"
)

// TaskTypeDelivery is the asynq task type for webhook deliveries.
const TaskTypeDelivery = "webhook:deliver"

type deliveryTaskPayload struct {
	DeliveryID string `json:"deliveryId"`
}

// NewDeliveryTask builds the asynq task for a delivery id.
func NewDeliveryTask(deliveryID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(deliveryTaskPayload{DeliveryID: deliveryID.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDelivery, payload), nil
}

// Enqueuer publishes delivery tasks onto the asynq queue.
type Enqueuer struct {
	Client *asynq.Client
	Queue  string
}

// EnqueueDelivery schedules a delivery task, optionally delayed.
func (e *Enqueuer) EnqueueDelivery(ctx context.Context, deliveryID uuid.UUID, delay time.Duration) error {
	if e == nil || e.Client == nil {
		return nil
	}
	task, err := NewDeliveryTask(deliveryID)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.TaskID(deliveryID.String()),
		asynq.MaxRetry(0),
	}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	_, err = e.Client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// DeliveryWorker handles webhook delivery tasks with a distributed lock so a
// delivery is never attempted by two workers at once. Retries are driven by
// the delivery row's backoff schedule, not by asynq retries.
type DeliveryWorker struct {
	Dispatcher *Dispatcher
	Locker     lock.Locker
	LockTTL    time.Duration
}

// ProcessTask implements asynq.Handler.
func (w DeliveryWorker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if w.Dispatcher == nil {
		return errors.New("webhook worker: dispatcher not configured")
	}
	var payload deliveryTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode delivery task: %w", err)
	}
	if payload.DeliveryID == "" {
		return nil
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := fmt.Sprintf("lock:delivery:%s", payload.DeliveryID)
	return w.Locker.WithLock(ctx, key, ttl, func(ctx context.Context) error {
		return w.Dispatcher.DeliverByID(ctx, payload.DeliveryID)
	})
}
