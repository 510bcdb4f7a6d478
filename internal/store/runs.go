package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrRunNotFound is returned by Get for unknown ids.
var ErrRunNotFound = errors.New("store: run not found")

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Run is one recorded operation.
type Run struct {
	ID         uuid.UUID       `json:"id"`
	Operation  string          `json:"operation"`
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	Stats      json.RawMessage `json:"stats"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// RunStore persists operation history in sync_runs.
type RunStore struct {
	db DBTX
}

// NewRunStore constructs a RunStore.
func NewRunStore(db DBTX) *RunStore {
	return &RunStore{db: db}
}

// Start records a running operation and returns its id.
func (s *RunStore) Start(ctx context.Context, operation string) (uuid.UUID, error) {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		return uuid.Nil, errors.New("store: operation is required")
	}
	id := uuid.New()
	_, err := s.db.Exec(ctx,
		`INSERT INTO sync_runs (id, operation, status) VALUES ($1, $2, $3)`,
		id, operation, StatusRunning)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: start run: %w", err)
	}
	return id, nil
}

// Finish closes a run with its final status.
func (s *RunStore) Finish(ctx context.Context, id uuid.UUID, status, message string, stats any) error {
	if status != StatusSuccess && status != StatusFailed {
		return fmt.Errorf("store: invalid final status %q", status)
	}
	encoded := []byte("{}")
	if stats != nil {
		var err error
		if encoded, err = json.Marshal(stats); err != nil {
			return fmt.Errorf("store: encode stats: %w", err)
		}
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE sync_runs SET status = $2, message = $3, stats = $4, finished_at = now() WHERE id = $1`,
		id, status, message, encoded)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

const runColumns = `id, operation, status, message, stats, started_at, finished_at`

// Get loads one run.
func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (Run, error) {
	row := s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: get run: %w", err)
	}
	return run, nil
}

// List returns the newest runs, optionally filtered by operation.
func (s *RunStore) List(ctx context.Context, operation string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM sync_runs
		 WHERE ($1 = '' OR operation = $1)
		 ORDER BY started_at DESC
		 LIMIT $2`, strings.TrimSpace(operation), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Operation, &r.Status, &r.Message, &r.Stats, &r.StartedAt, &r.FinishedAt)
	return r, err
}
