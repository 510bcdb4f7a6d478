package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ozerpan/ercom-sync/internal/ercomsync"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/erp/erptest"
	"github.com/ozerpan/ercom-sync/internal/events"
	"github.com/ozerpan/ercom-sync/internal/jobs"
	"github.com/ozerpan/ercom-sync/internal/notify"
	"github.com/ozerpan/ercom-sync/internal/store"
	"github.com/ozerpan/ercom-sync/internal/upload"
)

type fakeSync struct {
	ops []string
	err error
}

func (f *fakeSync) Execute(_ context.Context, op string) (ercomsync.Report, error) {
	f.ops = append(f.ops, op)
	if f.err != nil {
		return ercomsync.Report{}, f.err
	}
	return ercomsync.Report{Operation: op, Customers: &ercomsync.Stats{Entity: "customer", Total: 2, Created: 1, Skipped: 1}}, nil
}

type fakeFiles struct {
	urls []string
	err  error
}

func (f *fakeFiles) result(url string) (upload.Result, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return upload.Result{}, f.err
	}
	return upload.Result{Status: "Success", Message: "File processed successfully."}, nil
}

func (f *fakeFiles) UploadFile(_ context.Context, url string) (upload.Result, error) {
	return f.result(url)
}

func (f *fakeFiles) UpdateBOM(_ context.Context, url string) (upload.Result, error) {
	return f.result(url)
}

func (f *fakeFiles) UpdateDST(_ context.Context, url string) (upload.Result, error) {
	return f.result(url)
}

type fakeQueue struct {
	syncs []string
	files []jobs.FilePayload
	err   error
}

func (f *fakeQueue) EnqueueSync(_ context.Context, op string) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.syncs = append(f.syncs, op)
	return &asynq.TaskInfo{ID: "task-sync"}, nil
}

func (f *fakeQueue) EnqueueFile(_ context.Context, p jobs.FilePayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.files = append(f.files, p)
	return &asynq.TaskInfo{ID: "task-file"}, nil
}

type captureEmitter struct {
	topics []string
}

func (c *captureEmitter) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	c.topics = append(c.topics, topic+":"+aggregateID)
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

type fakeRuns struct {
	runs map[uuid.UUID]store.Run
}

func (f *fakeRuns) Get(_ context.Context, id uuid.UUID) (store.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return store.Run{}, store.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeRuns) List(_ context.Context, operation string, limit int) ([]store.Run, error) {
	var out []store.Run
	for _, run := range f.runs {
		if operation == "" || run.Operation == operation {
			out = append(out, run)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fixture struct {
	erp    *erptest.Fake
	sync   *fakeSync
	files  *fakeFiles
	queue  *fakeQueue
	events *captureEmitter
	runs   *fakeRuns
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		erp:    erptest.New(),
		sync:   &fakeSync{},
		files:  &fakeFiles{},
		queue:  &fakeQueue{},
		events: &captureEmitter{},
		runs:   &fakeRuns{runs: map[uuid.UUID]store.Run{}},
	}
	reg := NewRegistry(f.erp, []string{"erpnext.stock.reorder", " "})
	reg.RegisterSync(f.sync, f.queue)
	reg.RegisterFiles(f.files, f.queue)
	h := &Handler{Registry: reg, Files: f.erp, Runs: f.runs, Events: f.events, Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Route("/api/v1", func(v chi.Router) { h.Routes(v) })
	f.router = r
	return f
}

func (f *fixture) post(t *testing.T, op, body string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/"+op, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestRegistryNames(t *testing.T) {
	f := newFixture(t)
	reg := NewRegistry(f.erp, nil)
	reg.RegisterSync(f.sync, nil)
	reg.RegisterFiles(f.files, nil)
	require.Equal(t, []string{"sync_ercom", "sync_tes_detay", "update_bom", "update_opt_genel_dst_list", "upload_file"}, reg.Names())

	op, err := reg.Lookup(DottedPrefix + "update_bom")
	require.NoError(t, err)
	require.Equal(t, TitleBOM, op.Title)
	require.Nil(t, op.Enqueue)

	_, err = reg.Lookup("erpnext.stock.reorder")
	require.ErrorIs(t, err, ErrUnknownOperation)
}

func TestInvokeSyncOperation(t *testing.T) {
	f := newFixture(t)
	rec, env := f.post(t, DottedPrefix+"sync_ercom", `{"args":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, notify.IndicatorGreen, env.Notice.Indicator)
	require.Equal(t, TitleSync, env.Notice.Title)
	require.Contains(t, env.Notice.Message, "Sync Completed")
	require.Equal(t, []string{ercomsync.OpAll}, f.sync.ops)
	require.Equal(t, []string{events.TopicActionCompleted + ":sync_ercom"}, f.events.topics)
}

func TestInvokeEmptyBody(t *testing.T) {
	f := newFixture(t)
	rec, env := f.post(t, "sync_tes_detay", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, notify.IndicatorGreen, env.Notice.Indicator)
	require.Equal(t, []string{ercomsync.OpTesDetay}, f.sync.ops)
}

func TestInvokeFileOperationRequiresFileURL(t *testing.T) {
	f := newFixture(t)
	rec, env := f.post(t, "upload_file", `{"args":{}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, notify.IndicatorRed, env.Notice.Indicator)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)
	require.Empty(t, f.files.urls)
}

func TestInvokeFileOperationFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.files.err = fmt.Errorf("upload: %w", upload.ErrNoSalesOrder)

	rec, env := f.post(t, "upload_file", `{"args":{"file_url":"/private/files/MLY_1.xlsx"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, notify.IndicatorRed, env.Notice.Indicator)
	require.Equal(t, TitleUpload, env.Notice.Title)
	require.Contains(t, env.Notice.Message, "No such Sales Order found")
	require.Len(t, f.files.urls, 1)
	require.Equal(t, []string{events.TopicActionFailed + ":upload_file"}, f.events.topics)
}

func TestInvokeBusySync(t *testing.T) {
	f := newFixture(t)
	f.sync.err = ercomsync.ErrBusy
	rec, env := f.post(t, "sync_ercom", `{}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", env.Error.Code)
}

func TestInvokeAsync(t *testing.T) {
	f := newFixture(t)
	rec, env := f.post(t, "update_bom", `{"args":{"file_url":"/private/files/MLY_1.xlsx"},"async":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "task-file", env.TaskID)
	require.Equal(t, notify.IndicatorBlue, env.Notice.Indicator)
	require.Equal(t, []jobs.FilePayload{{Operation: upload.OpUpdateBOM, FileURL: "/private/files/MLY_1.xlsx"}}, f.queue.files)
	require.Empty(t, f.files.urls)

	rec, env = f.post(t, "sync_ercom", `{"async":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "task-sync", env.TaskID)

	f.queue.err = fmt.Errorf("enqueue: %w", asynq.ErrDuplicateTask)
	rec, env = f.post(t, "sync_ercom", `{"async":true}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, notify.IndicatorRed, env.Notice.Indicator)
}

func TestProxyAllowlistedOperation(t *testing.T) {
	f := newFixture(t)
	f.erp.Methods["erpnext.stock.reorder"] = func(args map[string]any) (erp.Outcome, error) {
		require.Equal(t, "WH-1", args["warehouse"])
		return erp.Outcome{OK: true, Message: "Reordered", Payload: map[string]any{"count": 3}}, nil
	}
	rec, env := f.post(t, "erpnext.stock.reorder", `{"args":{"warehouse":"WH-1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Reordered", env.Notice.Message)
	require.Equal(t, TitleRemote, env.Notice.Title)

	rec, env = f.post(t, "erpnext.stock.reorder", `{"async":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, notify.IndicatorRed, env.Notice.Indicator)

	rec, env = f.post(t, "erpnext.accounts.delete_all", `{}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)
	require.NotContains(t, f.erp.Calls, "invoke erpnext.accounts.delete_all")
}

func TestProxyRemoteFailure(t *testing.T) {
	f := newFixture(t)
	f.erp.Methods["erpnext.stock.reorder"] = func(map[string]any) (erp.Outcome, error) {
		err := &erp.RemoteError{Status: http.StatusExpectationFailed, ExcType: "ValidationError", Message: "Warehouse is required"}
		return erp.Outcome{Message: err.Message}, err
	}
	rec, env := f.post(t, "erpnext.stock.reorder", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, env.Notice.Message, "Warehouse is required")

	f.erp.Methods["erpnext.stock.reorder"] = func(map[string]any) (erp.Outcome, error) {
		return erp.Outcome{OK: false, Message: "nothing to reorder"}, nil
	}
	rec, env = f.post(t, "erpnext.stock.reorder", `{}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "nothing to reorder", env.Notice.Message)
}

func multipartBody(t *testing.T, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUploadFile(t *testing.T) {
	f := newFixture(t)
	body, ctype := multipartBody(t, "MLY_24-118.xlsx", []byte("PK"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ref erp.FileRef
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ref))
	require.Equal(t, "/private/files/MLY_24-118.xlsx", ref.URL)
	data, err := f.erp.Download(context.Background(), ref.URL)
	require.NoError(t, err)
	require.Equal(t, []byte("PK"), data)

	body, ctype = multipartBody(t, "notes.csv", []byte("a,b"))
	req = httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", ctype)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/files", strings.NewReader("x"))
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuns(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.runs.runs[id] = store.Run{ID: id, Operation: upload.OpUploadFile, Status: store.StatusSuccess, StartedAt: time.Now()}
	other := uuid.New()
	f.runs.runs[other] = store.Run{ID: other, Operation: ercomsync.OpAll, Status: store.StatusFailed, StartedAt: time.Now()}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var run store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, id, run.ID)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?operation=sync_ercom&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []store.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, other, list.Data[0].ID)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
