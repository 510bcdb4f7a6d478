package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ozerpan/ercom-sync/internal/store"
)

// ErrStoreUnavailable indicates the DLQ store dependency is not configured.
var ErrStoreUnavailable = errors.New("queue: store unavailable")

// ErrEntryNotFound is returned by GetQueueDlq for unknown ids.
var ErrEntryNotFound = errors.New("queue: dlq entry not found")

// Store persists dead-lettered tasks.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
}

// DLQEntry is a row of queue_dlq.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}

// NewStore returns a Store over the run history database.
func NewStore(db store.DBTX) Store {
	return &pgStore{db: db}
}

type pgStore struct {
	db store.DBTX
}

const dlqColumns = `id, kind, idem_key, payload, attempts, last_error, created_at`

func (s *pgStore) InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	if s == nil || s.db == nil {
		return uuid.Nil, ErrStoreUnavailable
	}
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, entry.Kind, entry.IdempotencyKey, entry.Payload, entry.Attempts, entry.LastError).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *pgStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	_, err := s.db.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}

func (s *pgStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	if s == nil || s.db == nil {
		return DLQEntry{}, ErrStoreUnavailable
	}
	entry, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+dlqColumns+` FROM queue_dlq WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return DLQEntry{}, ErrEntryNotFound
	}
	return entry, err
}

// ListQueueDlq returns the newest entries first, optionally for one kind.
func (s *pgStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	limit = clampPositive(limit, 1, 500)
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `SELECT `+dlqColumns+` FROM queue_dlq
WHERE ($1 = '' OR kind = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`, strings.TrimSpace(kind), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]DLQEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *pgStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE ($1 = '' OR kind = $1)`, strings.TrimSpace(kind)).Scan(&total)
	return total, err
}

func scanEntry(row pgx.Row) (DLQEntry, error) {
	var entry DLQEntry
	err := row.Scan(&entry.ID, &entry.Kind, &entry.IdempotencyKey, &entry.Payload, &entry.Attempts, &entry.LastError, &entry.CreatedAt)
	return entry, err
}

func clampPositive(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
