package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/ozerpan/ercom-sync/internal/common"
)

var (
	errUnavailable = common.NewAppError("UNAVAILABLE", "queue dependencies unavailable", http.StatusServiceUnavailable, nil)
	errKindMissing = common.BadRequest("kind is required", nil)
)

// AdminHandler lets operators inspect the delivery queue and replay or drop
// dead letters.
type AdminHandler struct {
	Store  Store
	Queue  Enqueuer
	Logger zerolog.Logger
	// DefaultKind is used when a request names no kind.
	DefaultKind       string
	PageSize          int
	VisibilityTimeout time.Duration
}

// Routes mounts the handler under r.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/dlq", h.ListDLQ)
	r.Post("/dlq/replay", h.ReplayDLQ)
	r.Delete("/dlq/{id}", h.DeleteDLQ)
	r.Get("/stats", h.Stats)
}

type deadLetter struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Attempts       int             `json:"attempts"`
	LastError      *string         `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Payload        json.RawMessage `json:"payload"`
}

type replayRequest struct {
	IDs   []string `json:"ids" validate:"max=500"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit" validate:"gte=0,lte=500"`
}

type replayResult struct {
	Replayed []uuid.UUID       `json:"replayed"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// ListDLQ handles GET /dlq?kind=&limit=&offset=.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.WriteError(w, errUnavailable)
		return
	}
	ctx := r.Context()
	kind := h.kind(r.URL.Query().Get("kind"))
	limit := common.ParseLimit(r, h.pageSize(), 200)
	offset := max(common.AtoiDefault(r.URL.Query().Get("offset"), 0), 0)

	entries, err := h.Store.ListQueueDlq(ctx, kind, limit, offset)
	if err != nil {
		h.internal(w, err, "dlq_list_failed")
		return
	}
	total, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		h.internal(w, err, "dlq_count_failed")
		return
	}

	items := lo.FilterMap(entries, func(entry DLQEntry, _ int) (deadLetter, bool) {
		msg, err := decodeMessage(string(entry.Payload))
		if err != nil {
			h.Logger.Warn().Err(err).Str("id", entry.ID.String()).Msg("dlq_entry_undecodable")
			return deadLetter{}, false
		}
		return deadLetter{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt,
			Payload:        rawPayload(msg.Payload),
		}, true
	})
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "total": total, "kind": kind})
}

// ReplayDLQ re-enqueues dead letters by id, or the oldest page of one kind.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Queue.R == nil {
		common.WriteError(w, errUnavailable)
		return
	}
	var req replayRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	ids := lo.Uniq(lo.Compact(lo.Map(req.IDs, func(id string, _ int) string { return strings.TrimSpace(id) })))
	kind := h.kind(req.Kind)
	if len(ids) == 0 && kind == "" {
		common.WriteError(w, common.BadRequest("ids or kind required", nil))
		return
	}

	ctx := r.Context()
	res := replayResult{Replayed: []uuid.UUID{}, Failed: map[string]string{}}
	if len(ids) > 0 {
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				res.Failed[raw] = "invalid uuid"
				continue
			}
			entry, err := h.Store.GetQueueDlq(ctx, id)
			if err == nil {
				err = h.requeue(ctx, entry)
			}
			if err != nil {
				res.Failed[raw] = err.Error()
				continue
			}
			res.Replayed = append(res.Replayed, id)
		}
	} else {
		limit := req.Limit
		if limit == 0 {
			limit = h.pageSize()
		}
		entries, err := h.Store.ListQueueDlq(ctx, kind, limit, 0)
		if err != nil {
			h.internal(w, err, "dlq_list_failed")
			return
		}
		for _, entry := range entries {
			if err := h.requeue(ctx, entry); err != nil {
				res.Failed[entry.ID.String()] = err.Error()
				continue
			}
			res.Replayed = append(res.Replayed, entry.ID)
		}
	}

	h.Logger.Info().Int("replayed", len(res.Replayed)).Int("failed", len(res.Failed)).Str("kind", kind).Msg("dlq_replay")
	common.JSON(w, http.StatusOK, res)
}

// DeleteDLQ drops one dead letter without replaying it.
func (h *AdminHandler) DeleteDLQ(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.WriteError(w, errUnavailable)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, common.BadRequest("invalid id", err))
		return
	}
	entry, err := h.Store.GetQueueDlq(r.Context(), id)
	switch {
	case errors.Is(err, ErrEntryNotFound):
		common.WriteError(w, common.NewAppError("NOT_FOUND", "dlq entry not found", http.StatusNotFound, err))
		return
	case err != nil:
		h.internal(w, err, "dlq_get_failed")
		return
	}
	if err := h.Store.DeleteQueueDlq(r.Context(), id); err != nil {
		h.internal(w, err, "dlq_delete_failed")
		return
	}
	h.Logger.Info().Str("id", id.String()).Str("kind", entry.Kind).Msg("dlq_deleted")
	h.refreshDLQSize(r.Context(), entry.Kind)
	w.WriteHeader(http.StatusNoContent)
}

// Stats reports ready, in-flight and dead-lettered counts for a kind and the
// age of the oldest due task.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Queue.R == nil {
		common.WriteError(w, errUnavailable)
		return
	}
	kind := h.kind(r.URL.Query().Get("kind"))
	if kind == "" {
		common.WriteError(w, errKindMissing)
		return
	}
	ctx := r.Context()
	qKey := queueKey(h.Queue.Prefix, kind)

	pipe := h.Queue.R.Pipeline()
	readyCmd := pipe.ZCard(ctx, qKey)
	inflightCmd := pipe.ZCard(ctx, processingKey(h.Queue.Prefix, kind))
	oldestCmd := pipe.ZRangeWithScores(ctx, qKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		h.internal(w, err, "queue_stats_failed")
		return
	}
	dlq, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		h.internal(w, err, "dlq_count_failed")
		return
	}

	var lag time.Duration
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		lag = max(time.Since(time.Unix(0, int64(oldest[0].Score))), 0)
	}
	ready := readyCmd.Val()
	QueueDepth.WithLabelValues(kind).Set(float64(ready))
	QueueDLQSize.WithLabelValues(kind).Set(float64(dlq))

	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":               kind,
		"ready":              ready,
		"processing":         inflightCmd.Val(),
		"dlq":                dlq,
		"oldest_lag_ms":      lag.Milliseconds(),
		"visibility_timeout": visibility.Seconds(),
	})
}

// requeue enqueues entry with a fresh attempt budget and removes it from the
// store. The dedup marker is cleared first so the key is accepted again.
func (h *AdminHandler) requeue(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	if msg.Key != "" {
		if err := h.Queue.R.Del(ctx, dedupKey(h.Queue.Prefix, msg.Kind, msg.Key)).Err(); err != nil {
			return err
		}
	}
	err = h.Queue.Enqueue(ctx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
	})
	if err != nil {
		return err
	}
	if err := h.Store.DeleteQueueDlq(ctx, entry.ID); err != nil {
		return err
	}
	h.refreshDLQSize(ctx, msg.Kind)
	return nil
}

func (h *AdminHandler) refreshDLQSize(ctx context.Context, kind string) {
	if count, err := h.Store.CountQueueDlq(ctx, kind); err == nil {
		QueueDLQSize.WithLabelValues(kind).Set(float64(count))
	}
}

func (h *AdminHandler) internal(w http.ResponseWriter, err error, msg string) {
	h.Logger.Error().Err(err).Msg(msg)
	common.WriteError(w, err)
}

func (h *AdminHandler) kind(raw string) string {
	if kind := sanitizeKind(strings.TrimSpace(raw)); kind != "" {
		return kind
	}
	return h.DefaultKind
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

// rawPayload keeps JSON payloads as objects and quotes anything else.
func rawPayload(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
