package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ozerpan/ercom-sync/internal/lock"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/queue"
)

// DeliveryWorker runs queued deliveries under a per-delivery lock.
type DeliveryWorker struct {
	Dispatcher *Dispatcher
	Locker     lock.Locker
	LockTTL    time.Duration
}

// Handle executes one delivery task. Non-2xx responses are returned as
// errors so the queue retries them.
func (w DeliveryWorker) Handle(ctx context.Context, task queue.Task) error {
	if w.Dispatcher == nil {
		return fmt.Errorf("webhook worker: dispatcher not configured")
	}
	var del delivery
	if err := json.Unmarshal(task.Payload, &del); err != nil || del.URL == "" {
		w.Dispatcher.Logger.Warn().Err(err).Msg("webhook_delivery_malformed")
		return nil
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := "lock:delivery:" + deliveryKey(del.URL, del.Event)
	return w.Locker.WithLock(ctx, key, ttl, func(ctx context.Context) error {
		start := time.Now()
		status, _, err := w.Dispatcher.Deliver(ctx, del.URL, del.Event)
		result := "delivered"
		if err == nil && (status < 200 || status >= 300) {
			err = fmt.Errorf("webhook %s returned %d", redact(del.URL), status)
		}
		if err != nil {
			result = "failed"
			if task.MaxAttempts > 0 && task.Attempt >= task.MaxAttempts {
				result = "dlq"
			}
		}
		obs.IncCounter(obs.WebhookDeliveriesTotal, result)
		obs.Observe(obs.WebhookAttemptLatency, obs.DurationMillis(time.Since(start)), result)
		logger := w.Dispatcher.Logger.With().
			Str("event_id", del.Event.ID.String()).
			Str("topic", del.Event.Topic).
			Str("url", redact(del.URL)).
			Int("attempt", task.Attempt).
			Logger()
		if err != nil {
			logger.Warn().Err(err).Str("result", result).Msg("webhook_delivery")
			return err
		}
		logger.Debug().Int("status", status).Msg("webhook_delivery")
		return nil
	})
}

// QueueWorker builds the queue consumer for deliveries.
func (w DeliveryWorker) QueueWorker(r *redis.Client, prefix string, concurrency int, store queue.Store) queue.Worker {
	logger := w.Dispatcher.Logger
	return queue.Worker{
		R:                 r,
		Prefix:            prefix,
		Kind:              DeliveryTask,
		Concurrency:       concurrency,
		VisibilityTimeout: time.Minute,
		RetryBase:         2 * time.Second,
		RetryJitter:       0.2,
		Handler:           w.Handle,
		Store:             store,
		Logger:            &logger,
	}
}
