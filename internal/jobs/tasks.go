// Package jobs runs ERCOM synchronisation and file processing on asynq.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ozerpan/ercom-sync/internal/ercomsync"
	"github.com/ozerpan/ercom-sync/internal/upload"
)

const (
	// QueueDefault carries synchronisation tasks.
	QueueDefault = "default"
	// QueueFiles carries workbook processing.
	QueueFiles = "files"

	TaskSyncAll       = "ercom:sync_all"
	TaskSyncCustomers = "ercom:sync_customers"
	TaskSyncItems     = "ercom:sync_items"
	TaskSyncTesDetay  = "ercom:sync_tes_detay"
	TaskFileProcess   = "file:process"
)

var syncOps = map[string]string{
	TaskSyncAll:       ercomsync.OpAll,
	TaskSyncCustomers: ercomsync.OpCustomers,
	TaskSyncItems:     ercomsync.OpItems,
	TaskSyncTesDetay:  ercomsync.OpTesDetay,
}

var fileOps = map[string]bool{
	upload.OpUploadFile: true,
	upload.OpUpdateBOM:  true,
	upload.OpUpdateDST:  true,
}

// SyncTaskType maps a sync operation to its task type.
func SyncTaskType(op string) (string, bool) {
	for typ, o := range syncOps {
		if o == op {
			return typ, true
		}
	}
	return "", false
}

// NewSyncTask builds the task for a sync operation. Only one task per
// operation may be queued within uniqueFor.
func NewSyncTask(op string, uniqueFor time.Duration) (*asynq.Task, error) {
	typ, ok := SyncTaskType(op)
	if !ok {
		return nil, fmt.Errorf("jobs: unknown sync operation %q", op)
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(2 * time.Hour)}
	if uniqueFor > 0 {
		opts = append(opts, asynq.Unique(uniqueFor))
	}
	return asynq.NewTask(typ, nil, opts...), nil
}

// FilePayload names a file operation and its attachment.
type FilePayload struct {
	Operation string `json:"operation"`
	FileURL   string `json:"file_url"`
}

// NewFileTask builds a file processing task.
func NewFileTask(p FilePayload) (*asynq.Task, error) {
	if !fileOps[p.Operation] {
		return nil, fmt.Errorf("jobs: unknown file operation %q", p.Operation)
	}
	if p.FileURL == "" {
		return nil, fmt.Errorf("jobs: file_url is required")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFileProcess, body, asynq.Queue(QueueFiles), asynq.MaxRetry(1), asynq.Timeout(30*time.Minute)), nil
}

func sprint(args []any) string {
	return fmt.Sprint(args...)
}
