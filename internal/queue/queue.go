// Package queue is a Redis sorted-set work queue with retries, visibility
// timeouts and a Postgres dead-letter store.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ozerpan/ercom-sync/internal/resilience"
)

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	// Attempt is 1 for the first delivery.
	Attempt int
	Delay   time.Duration
}

// Enqueuer publishes tasks to Redis backed queues.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task into the queue. If an idempotency key is supplied the
// task is only enqueued once within the configured deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxAttempts,
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}
	msg.AvailableAt = time.Now().Add(t.Delay).UnixNano()

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, dedupKey(e.Prefix, kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	queueKey := queueKey(e.Prefix, kind)
	if err := e.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return err
	}
	if depth, err := e.R.ZCard(ctx, queueKey).Result(); err == nil {
		QueueDepth.WithLabelValues(kind).Set(float64(depth))
	}
	return nil
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '-' || c == '_' || c == ':' {
			continue
		}
		return ""
	}
	return kind
}

// Worker consumes tasks for a specific kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline cancels the handler context before the visibility
	// timeout expires. Defaults to 80% of VisibilityTimeout.
	SoftDeadline time.Duration
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	RetryJitter  float64
	// Store receives tasks that exhausted their attempts. When nil they
	// are kept in a Redis list.
	Store  Store
	Logger *zerolog.Logger
}

// Run starts processing tasks until the context is cancelled. Active tasks are
// tracked in a processing set to enable redelivery when workers crash.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	soft := w.SoftDeadline
	if soft <= 0 || soft > visibility {
		soft = visibility * 8 / 10
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	processingKey := processingKey(w.Prefix, kind)
	queueKey := queueKey(w.Prefix, kind)

	requeueTicker := time.NewTicker(100 * time.Millisecond)
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-requeueTicker.C:
			if err := w.requeueExpired(ctx, processingKey, queueKey); err != nil && ctx.Err() == nil {
				return err
			}
		default:
		}

		res, err := w.R.ZPopMin(ctx, queueKey, 1).Result()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			if errors.Is(err, redis.Nil) {
				sleepCtx(ctx, 50*time.Millisecond)
				continue
			}
			return err
		}
		if len(res) == 0 {
			sleepCtx(ctx, 50*time.Millisecond)
			continue
		}
		member, ok := res[0].Member.(string)
		if !ok {
			continue
		}
		msg, err := decodeMessage(member)
		if err != nil {
			w.logger().Warn().Err(err).Str("kind", kind).Msg("queue_message_dropped")
			continue
		}
		now := time.Now().UnixNano()
		if msg.AvailableAt > now {
			// not due yet, push back and wait
			w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: member})
			sleep := time.Duration(msg.AvailableAt - now)
			if sleep > 50*time.Millisecond {
				sleep = 50 * time.Millisecond
			}
			sleepCtx(ctx, sleep)
			continue
		}

		msg.Attempt++
		rawBytes, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		raw := string(rawBytes)
		deadline := time.Now().Add(visibility).UnixNano()
		if err := w.R.ZAdd(ctx, processingKey, redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(raw string, m taskMessage) {
			defer func() { <-sem }()
			defer wg.Done()
			jobCtx, cancel := context.WithTimeout(ctx, soft)
			defer cancel()
			started := time.Now()
			err := w.Handler(jobCtx, Task{
				Kind:           kind,
				Payload:        m.Payload,
				IdempotencyKey: m.Key,
				MaxAttempts:    m.MaxAttempts,
				Attempt:        m.Attempt,
			})
			QueueTaskDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
			bg := context.WithoutCancel(ctx)
			if err != nil {
				QueueProcessedTotal.WithLabelValues(kind, "failed").Inc()
				w.handleFailure(bg, queueKey, processingKey, raw, m, retryBase, err)
				return
			}
			QueueProcessedTotal.WithLabelValues(kind, "ok").Inc()
			w.ack(bg, processingKey, raw, m)
		}(raw, msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (w Worker) handleFailure(ctx context.Context, queueKey, processingKey, raw string, msg taskMessage, base time.Duration, cause error) {
	if raw != "" {
		if removed, _ := w.R.ZRem(ctx, processingKey, raw).Result(); removed == 0 {
			// already requeued by the visibility sweep
			return
		}
	}
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		w.deadLetter(ctx, msg, cause)
		return
	}
	delay := resilience.Backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	rawBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: string(rawBytes)}).Err()
	w.logger().Warn().Err(cause).Str("kind", msg.Kind).Int("attempt", msg.Attempt).Dur("retry_in", delay).Msg("queue_task_retry")
}

func (w Worker) deadLetter(ctx context.Context, msg taskMessage, cause error) {
	rawBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if msg.Key != "" {
		_ = w.R.Del(ctx, dedupKey(w.Prefix, msg.Kind, msg.Key)).Err()
	}
	QueueProcessedTotal.WithLabelValues(msg.Kind, "dead").Inc()
	w.logger().Error().Err(cause).Str("kind", msg.Kind).Str("key", msg.Key).Int("attempts", msg.Attempt).Msg("queue_task_dead_lettered")

	if w.Store == nil {
		_ = w.R.LPush(ctx, dlqKey(w.Prefix, msg.Kind), rawBytes).Err()
		return
	}
	lastErr := cause.Error()
	if _, err := w.Store.InsertQueueDlq(ctx, DLQEntry{
		Kind:           msg.Kind,
		IdempotencyKey: msg.Key,
		Payload:        rawBytes,
		Attempts:       msg.Attempt,
		LastError:      &lastErr,
	}); err != nil {
		w.logger().Error().Err(err).Str("kind", msg.Kind).Msg("queue_dlq_insert_failed")
		_ = w.R.LPush(ctx, dlqKey(w.Prefix, msg.Kind), rawBytes).Err()
		return
	}
	if n, err := w.Store.CountQueueDlq(ctx, msg.Kind); err == nil {
		QueueDLQSize.WithLabelValues(msg.Kind).Set(float64(n))
	}
}

func (w Worker) ack(ctx context.Context, processingKey, raw string, msg taskMessage) {
	if raw != "" {
		_ = w.R.ZRem(ctx, processingKey, raw)
	}
	if msg.Key != "" {
		_ = w.R.Del(ctx, dedupKey(w.Prefix, msg.Kind, msg.Key)).Err()
	}
}

func (w Worker) requeueExpired(ctx context.Context, processingKey, queueKey string) error {
	now := float64(time.Now().UnixNano())
	due, err := w.R.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	for _, raw := range due {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		if removed, _ := w.R.ZRem(ctx, processingKey, raw).Result(); removed == 0 {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
		w.logger().Warn().Str("kind", msg.Kind).Int("attempt", msg.Attempt).Msg("queue_visibility_expired")
	}
	return nil
}

func queueKey(prefix, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:%s", kind)
	}
	return fmt.Sprintf("%s:queue:%s", prefix, kind)
}

func processingKey(prefix, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:%s:processing", kind)
	}
	return fmt.Sprintf("%s:%s:processing", prefix, kind)
}

func dlqKey(prefix, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:%s:dlq", kind)
	}
	return fmt.Sprintf("%s:%s:dlq", prefix, kind)
}

func dedupKey(prefix, kind, key string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:dedup:%s:%s", kind, key)
	}
	return fmt.Sprintf("%s:dedup:%s:%s", prefix, kind, key)
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
