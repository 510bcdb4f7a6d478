package actions

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/ozerpan/ercom-sync/internal/common"
	"github.com/ozerpan/ercom-sync/internal/ercomsync"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/events"
	"github.com/ozerpan/ercom-sync/internal/notify"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/sheet"
	"github.com/ozerpan/ercom-sync/internal/store"
	"github.com/ozerpan/ercom-sync/internal/upload"
)

const defaultMaxUpload = 20 << 20

// Uploader stores attachments on the ERP.
type Uploader interface {
	UploadFile(ctx context.Context, filename string, content []byte, private bool) (erp.FileRef, error)
}

// RunReader reads operation history.
type RunReader interface {
	Get(ctx context.Context, id uuid.UUID) (store.Run, error)
	List(ctx context.Context, operation string, limit int) ([]store.Run, error)
}

// Handler serves the action endpoints.
type Handler struct {
	Registry *Registry
	Files    Uploader
	Runs     RunReader
	Events   events.Emitter
	Logger   zerolog.Logger
	// MaxUploadBytes caps multipart uploads; zero means 20 MiB.
	MaxUploadBytes int64
}

// Envelope is the response body of an action call.
type Envelope struct {
	Notice notify.Notice     `json:"notice"`
	Result any               `json:"result,omitempty"`
	TaskID string            `json:"task_id,omitempty"`
	Error  *common.ErrorBody `json:"error,omitempty"`
}

type actionRequest struct {
	Args  map[string]any `json:"args"`
	Async bool           `json:"async"`
}

// Routes mounts the endpoints. write wraps the POST routes, typically with
// idempotency and rate limiting.
func (h *Handler) Routes(r chi.Router, write ...func(http.Handler) http.Handler) {
	r.With(write...).Post("/actions/{operation}", h.Invoke)
	r.With(write...).Post("/files", h.Upload)
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{id}", h.GetRun)
}

// Invoke handles POST /api/v1/actions/{operation}.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operation")
	op, err := h.Registry.Lookup(name)
	if err != nil {
		h.fail(w, r, Operation{Name: name, Title: TitleOperation}, err)
		return
	}
	var req actionRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}
	if req.Async {
		h.enqueue(w, r, op, req.Args)
		return
	}

	start := time.Now()
	out, err := op.Run(obs.WithOperation(r.Context(), op.Name), req.Args)
	obs.Observe(obs.ActionDuration, float64(time.Since(start).Milliseconds()), op.Name)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	obs.IncCounter(obs.ActionTotal, op.Name, "success")
	h.emit(r.Context(), events.TopicActionCompleted, op.Name, map[string]any{
		"operation":   op.Name,
		"message":     out.Message,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	common.JSON(w, http.StatusOK, Envelope{Notice: notify.Success(op.Title, out.Message), Result: out.Result})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, op Operation, args map[string]any) {
	if op.Enqueue == nil {
		h.fail(w, r, op, common.BadRequest(ErrAsyncUnsupported.Error(), ErrAsyncUnsupported))
		return
	}
	info, err := op.Enqueue(r.Context(), args)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			err = common.NewAppError("CONFLICT", "the operation is already queued", http.StatusConflict, err)
		}
		h.fail(w, r, op, err)
		return
	}
	obs.IncCounter(obs.ActionTotal, op.Name, "queued")
	common.JSON(w, http.StatusAccepted, Envelope{
		Notice: notify.Info(op.Title, "The operation has been queued."),
		TaskID: info.ID,
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op Operation, err error) {
	status, code, msg := classify(err)
	obs.IncCounter(obs.ActionTotal, op.Name, "failed")
	logger := zerolog.Ctx(r.Context())
	if logger.GetLevel() == zerolog.Disabled {
		logger = &h.Logger
	}
	logger.Warn().Err(err).Str("operation", op.Name).Int("status", status).Msg("action failed")
	if !errors.Is(err, ErrUnknownOperation) {
		h.emit(r.Context(), events.TopicActionFailed, op.Name, map[string]any{
			"operation": op.Name,
			"error":     msg,
		})
	}
	common.JSON(w, status, Envelope{
		Notice: notify.Failure(op.Title, msg),
		Error:  &common.ErrorBody{Code: code, Message: msg},
	})
}

func (h *Handler) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if h.Events == nil {
		return
	}
	if _, err := h.Events.Emit(context.WithoutCancel(ctx), topic, aggregateID, payload); err != nil {
		h.Logger.Error().Err(err).Str("topic", topic).Msg("emit event")
	}
}

// classify maps an operation error to a status, a code and the message shown
// to the user.
func classify(err error) (int, string, string) {
	if appErr := common.AsAppError(err); appErr != nil {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, appErr.Code, appErr.Message
	}
	var remote *erp.RemoteError
	switch {
	case errors.Is(err, ErrUnknownOperation):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, ercomsync.ErrBusy):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, sheet.ErrUnsupportedFile),
		errors.Is(err, upload.ErrUnknownCategory),
		errors.Is(err, upload.ErrNoSalesOrder):
		return http.StatusUnprocessableEntity, "UNPROCESSABLE", err.Error()
	case errors.Is(err, erp.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.As(err, &remote):
		if remote.Status >= 400 && remote.Status < 500 {
			return http.StatusUnprocessableEntity, "ERP_REJECTED", err.Error()
		}
		return http.StatusBadGateway, "ERP_ERROR", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL", err.Error()
	}
}

// Upload handles POST /api/v1/files.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "file is required", nil)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !sheet.Supported(strings.ToLower(filepath.Ext(name))) {
		common.JSONError(w, http.StatusUnprocessableEntity, "UNSUPPORTED_FILE", sheet.ErrUnsupportedFile.Error(), map[string]string{"file": name})
		return
	}
	content, err := io.ReadAll(file)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "could not read file", nil)
		return
	}
	ref, err := h.Files.UploadFile(r.Context(), name, content, true)
	if err != nil {
		status, code, msg := classify(err)
		common.JSONError(w, status, code, msg, nil)
		return
	}
	common.JSON(w, http.StatusCreated, ref)
}

// ListRuns handles GET /api/v1/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "run history not configured", nil)
		return
	}
	op := strings.TrimSpace(r.URL.Query().Get("operation"))
	runs, err := h.Runs.List(r.Context(), op, common.ParseLimit(r, 20, 200))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": runs})
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "run history not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid run id", nil)
		return
	}
	run, err := h.Runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "run not found", nil)
			return
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, run)
}
