package queue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ozerpan/ercom-sync/internal/queue"
)

func newAdmin(t *testing.T) (*queue.AdminHandler, *memoryStore, *redis.Client, http.Handler) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	h := &queue.AdminHandler{
		Store:             store,
		Queue:             queue.Enqueuer{R: client, Prefix: "adm", DedupTTL: time.Minute, MaxAttempts: 5},
		PageSize:          10,
		VisibilityTimeout: 60 * time.Second,
	}
	r := chi.NewRouter()
	r.Route("/admin/queue", h.Routes)
	return h, store, client, r
}

func deadEntry(t *testing.T, store *memoryStore, key string) queue.DLQEntry {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"kind":         "webhook-delivery",
		"key":          key,
		"payload":      []byte(`{"event_id":"e1"}`),
		"attempt":      3,
		"max_attempts": 3,
		"available_at": time.Now().UnixNano(),
	})
	require.NoError(t, err)
	msg := "endpoint returned 500"
	entry := queue.DLQEntry{
		Kind:           "webhook-delivery",
		IdempotencyKey: key,
		Payload:        raw,
		Attempts:       3,
		LastError:      &msg,
		CreatedAt:      time.Now(),
	}
	id, err := store.InsertQueueDlq(context.Background(), entry)
	require.NoError(t, err)
	entry.ID = id
	return entry
}

func TestDLQReplay(t *testing.T) {
	_, store, client, router := newAdmin(t)
	entry := deadEntry(t, store, "dlq1")

	body := bytes.NewBufferString(`{"ids":["` + entry.ID.String() + `","nope"]}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Replayed []string          `json:"replayed"`
		Failed   map[string]string `json:"failed"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, []string{entry.ID.String()}, resp.Replayed)
	require.Equal(t, "invalid uuid", resp.Failed["nope"])

	depth, err := client.ZCard(context.Background(), "adm:queue:webhook-delivery").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	_, err = store.GetQueueDlq(context.Background(), entry.ID)
	require.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func TestDLQListAndDelete(t *testing.T) {
	_, store, _, router := newAdmin(t)
	entry := deadEntry(t, store, "k1")
	deadEntry(t, store, "k2")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/dlq?kind=webhook-delivery&limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Data []struct {
			ID        string          `json:"id"`
			Payload   json.RawMessage `json:"payload"`
			LastError string          `json:"last_error"`
		} `json:"data"`
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Equal(t, 2, list.Total)
	require.Len(t, list.Data, 1)
	require.JSONEq(t, `{"event_id":"e1"}`, string(list.Data[0].Payload))
	require.Equal(t, "endpoint returned 500", list.Data[0].LastError)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admin/queue/dlq/"+entry.ID.String(), nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Len(t, store.snapshot(), 1)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admin/queue/dlq/"+entry.ID.String(), nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestQueueStats(t *testing.T) {
	h, store, _, router := newAdmin(t)
	deadEntry(t, store, "k1")
	require.NoError(t, h.Queue.Enqueue(context.Background(), queue.Task{Kind: "webhook-delivery", Payload: []byte("x")}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats?kind=webhook-delivery", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&stats))
	require.EqualValues(t, 1, stats["ready"])
	require.EqualValues(t, 0, stats["processing"])
	require.EqualValues(t, 1, stats["dlq"])

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestQueueStatsUsesDefaultKind(t *testing.T) {
	h, _, _, router := newAdmin(t)
	h.DefaultKind = "webhook-delivery"
	require.NoError(t, h.Queue.Enqueue(context.Background(), queue.Task{Kind: "webhook-delivery", Payload: []byte(`{"event_id":"e2"}`)}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&stats))
	require.Equal(t, "webhook-delivery", stats["kind"])
	require.EqualValues(t, 1, stats["ready"])
}

func TestDLQReplayValidatesBody(t *testing.T) {
	_, _, _, router := newAdmin(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", bytes.NewBufferString(`{"limit":-1,"kind":"webhook-delivery"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
