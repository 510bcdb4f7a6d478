// Package upload turns ERCOM workbook exports into ERP documents.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ozerpan/ercom-sync/internal/ercom"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/events"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/sheet"
	"github.com/ozerpan/ercom-sync/internal/store"
)

// Operation names recorded in the run history.
const (
	OpUploadFile = "upload_file"
	OpUpdateBOM  = "update_bom"
	OpUpdateDST  = "update_opt_genel_dst_list"
)

var (
	// ErrNoSalesOrder means the order has not been synced from ERCOM yet.
	ErrNoSalesOrder = errors.New("No such Sales Order found. Please sync the database before uploading the file.")
	// ErrUnknownCategory is returned for files that are neither MLY nor OPT.
	ErrUnknownCategory = errors.New("upload: unrecognised file category")
)

// ERP is the ERP surface the processor needs.
type ERP interface {
	GetDoc(ctx context.Context, doctype, name string) (erp.Doc, error)
	GetList(ctx context.Context, doctype string, q erp.ListQuery) ([]erp.Doc, error)
	FindDoc(ctx context.Context, doctype string, filters erp.Filters) (erp.Doc, error)
	Exists(ctx context.Context, doctype string, filters erp.Filters) (string, error)
	Insert(ctx context.Context, doc erp.Doc) (erp.Doc, error)
	Save(ctx context.Context, doc erp.Doc) (erp.Doc, error)
	SetValue(ctx context.Context, doctype, name, field string, value any) error
	Submit(ctx context.Context, doc erp.Doc) (erp.Doc, error)
	Cancel(ctx context.Context, doctype, name string) error
	Download(ctx context.Context, fileURL string) ([]byte, error)
}

// Source is the ERCOM surface the processor needs.
type Source interface {
	PositionsByOrder(ctx context.Context, orderNo string) ([]ercom.Position, error)
	Order(ctx context.Context, orderNo string) (ercom.Order, error)
	MachineNumber(ctx context.Context, optNo string) (int, error)
}

// RunRecorder keeps operation history.
type RunRecorder interface {
	Start(ctx context.Context, operation string) (uuid.UUID, error)
	Finish(ctx context.Context, id uuid.UUID, status, message string, stats any) error
}

// Result is returned by every file operation.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// Processor runs the file actions.
type Processor struct {
	ERP     ERP
	Source  Source
	Runs    RunRecorder
	Events  events.Emitter
	Logger  zerolog.Logger
	Company string
}

// UploadFile processes an attached MLY or OPT workbook.
func (p *Processor) UploadFile(ctx context.Context, fileURL string) (Result, error) {
	return p.run(ctx, OpUploadFile, fileURL, "File processed successfully.", func(ctx context.Context) (any, error) {
		info, wb, err := p.open(ctx, fileURL)
		if err != nil {
			return nil, err
		}
		switch {
		case hasPrefix(info.Category, "mly"):
			p.log(ctx).Info().Str("file", info.Name).Msg("mly file detected")
			return p.ProcessMLY(ctx, wb)
		case hasPrefix(info.Category, "opt"):
			p.log(ctx).Info().Str("file", info.Name).Msg("opt file detected")
			return p.ProcessOPT(ctx, wb, info.Code)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, info.Name)
		}
	})
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (p *Processor) open(ctx context.Context, fileURL string) (sheet.FileInfo, *sheet.Workbook, error) {
	info := sheet.Describe(fileURL)
	if !sheet.Supported(info.Ext) {
		return info, nil, sheet.ErrUnsupportedFile
	}
	data, err := p.ERP.Download(ctx, fileURL)
	if err != nil {
		return info, nil, fmt.Errorf("download %s: %w", info.Name, err)
	}
	wb, err := sheet.Open(info.Name, data)
	if err != nil {
		return info, nil, err
	}
	return info, wb, nil
}

// run records op in the run history around fn and emits file.processed on
// success.
func (p *Processor) run(ctx context.Context, op, fileURL, okMsg string, fn func(context.Context) (any, error)) (Result, error) {
	start := time.Now()
	var runID uuid.UUID
	if p.Runs != nil {
		id, err := p.Runs.Start(ctx, op)
		if err != nil {
			return Result{}, err
		}
		runID = id
	}
	logger := obs.Component(p.Logger, "upload").With().Str("operation", op).Str("file_url", fileURL).Logger()
	if runID != uuid.Nil {
		logger = logger.With().Str("run_id", runID.String()).Logger()
	}
	ctx = logger.WithContext(ctx)

	stats, err := fn(ctx)

	bg := context.WithoutCancel(ctx)
	status, msg := store.StatusSuccess, okMsg
	if err != nil {
		status, msg = store.StatusFailed, err.Error()
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("file_operation_failed")
	} else {
		logger.Info().Dur("elapsed", time.Since(start)).Msg("file_operation_completed")
	}
	if p.Runs != nil {
		if ferr := p.Runs.Finish(bg, runID, status, msg, stats); ferr != nil {
			logger.Warn().Err(ferr).Msg("run_finish_failed")
		}
	}
	if err != nil {
		return Result{}, err
	}
	res := Result{Status: "Success", Message: okMsg}
	if runID != uuid.Nil {
		res.RunID = runID.String()
	}
	if p.Events != nil {
		payload := map[string]any{"operation": op, "file_url": fileURL, "run_id": res.RunID, "stats": stats}
		if _, err := p.Events.Emit(bg, events.TopicFileProcessed, fileURL, payload); err != nil {
			logger.Debug().Err(err).Msg("emit_failed")
		}
	}
	return res, nil
}

func (p *Processor) log(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

func (p *Processor) progress(ctx context.Context, title string, done, total int) {
	if p.Events == nil {
		return
	}
	_, _ = p.Events.Emit(ctx, events.TopicSyncProgress, title, events.NewProgress(title, done, total))
}

func isNotFound(err error) bool {
	return errors.Is(err, erp.ErrNotFound)
}
