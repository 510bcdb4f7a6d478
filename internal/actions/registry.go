// Package actions exposes named remote operations over HTTP.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/ozerpan/ercom-sync/internal/common"
	"github.com/ozerpan/ercom-sync/internal/ercomsync"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/jobs"
	"github.com/ozerpan/ercom-sync/internal/upload"
)

// DottedPrefix is the server module path the ERP client uses for these
// operations.
const DottedPrefix = "ozerpan_ercom_sync.custom_api."

// Notice titles.
const (
	TitleSync      = "ERCOM Item Sync"
	TitleUpload    = "Sales Order File Upload"
	TitleBOM       = "BOM Update"
	TitleDST       = "Opt Genel Update"
	TitleRemote    = "Remote Action"
	TitleOperation = "Operation"
)

var (
	// ErrUnknownOperation is returned for names that are neither registered
	// nor allowlisted.
	ErrUnknownOperation = errors.New("actions: unknown operation")
	// ErrAsyncUnsupported is returned when async is requested for a proxied
	// operation.
	ErrAsyncUnsupported = errors.New("actions: operation cannot run in the background")
)

var validate = validator.New()

// Invoker proxies allowlisted operations to the ERP.
type Invoker interface {
	Invoke(ctx context.Context, method string, args map[string]any) (erp.Outcome, error)
}

// SyncRunner runs ERCOM synchronisations.
type SyncRunner interface {
	Execute(ctx context.Context, op string) (ercomsync.Report, error)
}

// Enqueuer submits background tasks.
type Enqueuer interface {
	EnqueueSync(ctx context.Context, op string) (*asynq.TaskInfo, error)
	EnqueueFile(ctx context.Context, p jobs.FilePayload) (*asynq.TaskInfo, error)
}

// Outcome is what a successful operation reports.
type Outcome struct {
	Message string
	Result  any
}

// Operation is one named action.
type Operation struct {
	Name  string
	Title string
	Run   func(ctx context.Context, args map[string]any) (Outcome, error)
	// Enqueue is nil for operations that only run inline.
	Enqueue func(ctx context.Context, args map[string]any) (*asynq.TaskInfo, error)
}

// Registry resolves operation names.
type Registry struct {
	ops       map[string]Operation
	allowlist map[string]bool
	remote    Invoker
}

// NewRegistry builds a registry. Dotted names listed in allowlist and not
// registered locally are proxied to remote.
func NewRegistry(remote Invoker, allowlist []string) *Registry {
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		if name = strings.TrimSpace(name); name != "" {
			allowed[name] = true
		}
	}
	return &Registry{ops: map[string]Operation{}, allowlist: allowed, remote: remote}
}

// Register adds op under its name.
func (r *Registry) Register(op Operation) {
	if op.Title == "" {
		op.Title = TitleOperation
	}
	r.ops[op.Name] = op
}

// Names lists the registered operation names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves name, accepting the dotted ERP path for local operations.
func (r *Registry) Lookup(name string) (Operation, error) {
	name = strings.TrimSpace(name)
	if op, ok := r.ops[strings.TrimPrefix(name, DottedPrefix)]; ok {
		return op, nil
	}
	if r.remote != nil && strings.Contains(name, ".") && r.allowlist[name] {
		return r.proxy(name), nil
	}
	return Operation{}, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
}

func (r *Registry) proxy(method string) Operation {
	return Operation{
		Name:  method,
		Title: TitleRemote,
		Run: func(ctx context.Context, args map[string]any) (Outcome, error) {
			out, err := r.remote.Invoke(ctx, method, args)
			if err != nil {
				return Outcome{}, err
			}
			if !out.OK {
				msg := out.Message
				if msg == "" {
					msg = "remote action failed"
				}
				return Outcome{}, errors.New(msg)
			}
			msg := out.Message
			if msg == "" {
				msg = "Done"
			}
			return Outcome{Message: msg, Result: out.Payload}, nil
		},
	}
}

// RegisterSync adds sync_ercom and sync_tes_detay.
func (r *Registry) RegisterSync(runner SyncRunner, queue Enqueuer) {
	for _, op := range []string{ercomsync.OpAll, ercomsync.OpTesDetay} {
		reg := Operation{
			Name:  op,
			Title: TitleSync,
			Run: func(ctx context.Context, _ map[string]any) (Outcome, error) {
				report, err := runner.Execute(ctx, op)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Message: report.Message(), Result: report}, nil
			},
		}
		if queue != nil {
			reg.Enqueue = func(ctx context.Context, _ map[string]any) (*asynq.TaskInfo, error) {
				return queue.EnqueueSync(ctx, op)
			}
		}
		r.Register(reg)
	}
}

type fileArgs struct {
	FileURL string `json:"file_url" validate:"required"`
}

// RegisterFiles adds upload_file, update_bom and update_opt_genel_dst_list.
func (r *Registry) RegisterFiles(runner jobs.FileRunner, queue Enqueuer) {
	ops := []struct {
		name  string
		title string
		run   func(context.Context, string) (upload.Result, error)
	}{
		{upload.OpUploadFile, TitleUpload, runner.UploadFile},
		{upload.OpUpdateBOM, TitleBOM, runner.UpdateBOM},
		{upload.OpUpdateDST, TitleDST, runner.UpdateDST},
	}
	for _, o := range ops {
		reg := Operation{
			Name:  o.name,
			Title: o.title,
			Run: func(ctx context.Context, args map[string]any) (Outcome, error) {
				fa, err := decodeArgs[fileArgs](args)
				if err != nil {
					return Outcome{}, err
				}
				res, err := o.run(ctx, fa.FileURL)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Message: res.Message, Result: res}, nil
			},
		}
		if queue != nil {
			reg.Enqueue = func(ctx context.Context, args map[string]any) (*asynq.TaskInfo, error) {
				fa, err := decodeArgs[fileArgs](args)
				if err != nil {
					return nil, err
				}
				return queue.EnqueueFile(ctx, jobs.FilePayload{Operation: o.name, FileURL: fa.FileURL})
			}
		}
		r.Register(reg)
	}
}

// decodeArgs maps loose action arguments onto T and validates it.
func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(args)
	if err != nil {
		return out, common.BadRequest("invalid arguments", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, common.BadRequest("invalid arguments", err)
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			appErr := common.BadRequest("invalid arguments", err)
			appErr.Details = fields
			return out, appErr
		}
		return out, common.BadRequest("invalid arguments", err)
	}
	return out, nil
}
