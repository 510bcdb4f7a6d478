package queue_test

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ozerpan/ercom-sync/internal/queue"
)

// memoryStore is an in-process queue.Store.
type memoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]queue.DLQEntry
}

var _ queue.Store = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: map[uuid.UUID]queue.DLQEntry{}}
}

func (m *memoryStore) InsertQueueDlq(_ context.Context, entry queue.DLQEntry) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.entries[entry.ID] = entry
	return entry.ID, nil
}

func (m *memoryStore) DeleteQueueDlq(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memoryStore) GetQueueDlq(_ context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[id]; ok {
		return entry, nil
	}
	return queue.DLQEntry{}, queue.ErrEntryNotFound
}

// ListQueueDlq returns newest first, like the Postgres store.
func (m *memoryStore) ListQueueDlq(_ context.Context, kind string, limit, offset int) ([]queue.DLQEntry, error) {
	m.mu.Lock()
	matched := m.byKind(kind)
	m.mu.Unlock()

	slices.SortFunc(matched, func(a, b queue.DLQEntry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit <= 0 {
		limit = len(matched)
	}
	return lo.Subset(matched, offset, uint(limit)), nil
}

func (m *memoryStore) CountQueueDlq(_ context.Context, kind string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.byKind(kind))), nil
}

func (m *memoryStore) byKind(kind string) []queue.DLQEntry {
	return lo.Filter(slices.Collect(maps.Values(m.entries)), func(e queue.DLQEntry, _ int) bool {
		return kind == "" || e.Kind == kind
	})
}

func (m *memoryStore) snapshot() map[uuid.UUID]queue.DLQEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.entries)
}
