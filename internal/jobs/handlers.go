package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/ozerpan/ercom-sync/internal/ercomsync"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/upload"
)

// SyncRunner is satisfied by *ercomsync.Syncer.
type SyncRunner interface {
	Execute(ctx context.Context, op string) (ercomsync.Report, error)
}

// FileRunner is satisfied by *upload.Processor.
type FileRunner interface {
	UploadFile(ctx context.Context, fileURL string) (upload.Result, error)
	UpdateBOM(ctx context.Context, fileURL string) (upload.Result, error)
	UpdateDST(ctx context.Context, fileURL string) (upload.Result, error)
}

// Handlers adapts the domain runners to asynq.
type Handlers struct {
	Sync   SyncRunner
	Files  FileRunner
	Logger zerolog.Logger
}

// HandleSync runs the sync operation named by the task type. A sync that
// finds the lock taken is dropped.
func (h Handlers) HandleSync(ctx context.Context, t *asynq.Task) error {
	op, ok := syncOps[t.Type()]
	if !ok || h.Sync == nil {
		return fmt.Errorf("%w: no sync handler for %s", asynq.SkipRetry, t.Type())
	}
	report, err := h.Sync.Execute(obs.WithOperation(ctx, op), op)
	if errors.Is(err, ercomsync.ErrBusy) {
		h.Logger.Info().Str("task", t.Type()).Msg("sync already running, task dropped")
		return nil
	}
	if err != nil {
		return err
	}
	h.Logger.Info().Str("task", t.Type()).Str("run_id", report.RunID.String()).Msg(report.Message())
	return nil
}

// HandleFile runs a file operation. Workbook errors do not improve on
// retry, so only transport failures are retried.
func (h Handlers) HandleFile(ctx context.Context, t *asynq.Task) error {
	var p FilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.FileURL == "" {
		return asynq.SkipRetry
	}
	if h.Files == nil {
		return fmt.Errorf("%w: file processing not configured", asynq.SkipRetry)
	}
	var run func(context.Context, string) (upload.Result, error)
	switch p.Operation {
	case upload.OpUploadFile:
		run = h.Files.UploadFile
	case upload.OpUpdateBOM:
		run = h.Files.UpdateBOM
	case upload.OpUpdateDST:
		run = h.Files.UpdateDST
	default:
		return fmt.Errorf("%w: unknown file operation %q", asynq.SkipRetry, p.Operation)
	}
	res, err := run(obs.WithOperation(ctx, p.Operation), p.FileURL)
	if err != nil {
		h.Logger.Error().Err(err).Str("operation", p.Operation).Str("file_url", p.FileURL).Msg("file task failed")
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	h.Logger.Info().Str("operation", p.Operation).Str("run_id", res.RunID).Msg(res.Message)
	return nil
}

// TaskHandlers lists the handlers for worker registration.
func (h Handlers) TaskHandlers() []TaskHandler {
	out := make([]TaskHandler, 0, len(syncOps)+1)
	for typ := range syncOps {
		out = append(out, TaskHandler{Type: typ, Handler: h.HandleSync})
	}
	return append(out, TaskHandler{Type: TaskFileProcess, Handler: h.HandleFile})
}
