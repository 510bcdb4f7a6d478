// Package ercomsync copies ERCOM master data into the ERP.
package ercomsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ozerpan/ercom-sync/internal/ercom"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/events"
	"github.com/ozerpan/ercom-sync/internal/lock"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/store"
)

// LockKey serialises every sync run across processes.
const LockKey = "ercom:sync"

// Operations accepted by Execute.
const (
	OpAll       = "sync_ercom"
	OpCustomers = "sync_customers"
	OpItems     = "sync_items"
	OpTesDetay  = "sync_tes_detay"
)

// ERP is the part of the ERP client the syncer writes through.
type ERP interface {
	Exists(ctx context.Context, doctype string, filters erp.Filters) (string, error)
	Insert(ctx context.Context, doc erp.Doc) (erp.Doc, error)
	Save(ctx context.Context, doc erp.Doc) (erp.Doc, error)
	Submit(ctx context.Context, doc erp.Doc) (erp.Doc, error)
	Delete(ctx context.Context, doctype, name string) error
}

// Source is the part of the ERCOM reader the syncer needs.
type Source interface {
	Customers(ctx context.Context) ([]ercom.Customer, error)
	Positions(ctx context.Context, limit int) ([]ercom.Position, error)
	TesDetay(ctx context.Context, limit int) ([]ercom.TesDetay, error)
	MachineNumber(ctx context.Context, optNo string) (int, error)
}

// Locker runs fn while holding a distributed lock.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// RunRecorder keeps operation history.
type RunRecorder interface {
	Start(ctx context.Context, operation string) (uuid.UUID, error)
	Finish(ctx context.Context, id uuid.UUID, status, message string, stats any) error
}

// ErrBusy is returned when another sync holds the lock.
var ErrBusy = errors.New("ercomsync: a synchronisation is already running")

// Stats counts the outcome of one entity sync.
type Stats struct {
	Entity  string `json:"entity"`
	Total   int    `json:"total"`
	Created int    `json:"created"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

func (s *Stats) count(result string) {
	switch result {
	case "created":
		s.Created++
	case "skipped":
		s.Skipped++
	default:
		s.Failed++
	}
	obs.IncCounter(obs.SyncRecordsTotal, s.Entity, result)
}

// Report is the result of Execute.
type Report struct {
	RunID     uuid.UUID `json:"run_id"`
	Operation string    `json:"operation"`
	Customers *Stats    `json:"customers,omitempty"`
	Items     *Stats    `json:"items,omitempty"`
	TesDetay  *Stats    `json:"tes_detay,omitempty"`
}

// Message summarises the report for a notice.
func (r Report) Message() string {
	msg := "Sync Completed"
	for _, s := range []*Stats{r.Customers, r.Items, r.TesDetay} {
		if s == nil {
			continue
		}
		msg += fmt.Sprintf("; %s: %d created, %d skipped, %d failed", s.Entity, s.Created, s.Skipped, s.Failed)
	}
	return msg
}

// Options configures a Syncer.
type Options struct {
	ERP           ERP
	Source        Source
	Locker        Locker
	Runs          RunRecorder
	Events        events.Emitter
	Logger        zerolog.Logger
	Company       string
	ItemLimit     int
	TesDetayLimit int
	LockTTL       time.Duration
	// Concurrency bounds parallel existence checks against the ERP.
	Concurrency int
}

// Syncer creates ERP documents for ERCOM rows that are not there yet.
type Syncer struct {
	opts   Options
	logger zerolog.Logger
	// known remembers names confirmed to exist so scheduled runs skip the
	// lookup.
	known *cache.Cache
}

// New constructs a Syncer.
func New(opts Options) *Syncer {
	if opts.ItemLimit <= 0 {
		opts.ItemLimit = 3000
	}
	if opts.TesDetayLimit <= 0 {
		opts.TesDetayLimit = 100
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Syncer{
		opts:   opts,
		logger: obs.Component(opts.Logger, "ercomsync"),
		known:  cache.New(30*time.Minute, time.Hour),
	}
}

// SyncAll syncs customers and then items.
func (s *Syncer) SyncAll(ctx context.Context) (Report, error) {
	return s.Execute(ctx, OpAll)
}

// Execute runs op under the sync lock and records it in the run history.
func (s *Syncer) Execute(ctx context.Context, op string) (Report, error) {
	report := Report{Operation: op}
	steps, err := s.steps(op, &report)
	if err != nil {
		return report, err
	}

	if s.opts.Runs != nil {
		id, err := s.opts.Runs.Start(ctx, op)
		if err != nil {
			return report, err
		}
		report.RunID = id
	}

	run := func(ctx context.Context) error {
		for _, step := range steps {
			if err := step(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	if s.opts.Locker != nil {
		err = s.opts.Locker.TryWithLock(ctx, LockKey, s.opts.LockTTL, run)
		if errors.Is(err, lock.ErrLocked) {
			err = ErrBusy
		}
	} else {
		err = run(ctx)
	}

	s.finish(ctx, report, err)
	return report, err
}

func (s *Syncer) steps(op string, report *Report) ([]func(context.Context) error, error) {
	customers := func(ctx context.Context) error {
		st, err := s.SyncCustomers(ctx)
		report.Customers = &st
		return err
	}
	items := func(ctx context.Context) error {
		st, err := s.SyncItems(ctx)
		report.Items = &st
		return err
	}
	tes := func(ctx context.Context) error {
		st, err := s.SyncTesDetay(ctx)
		report.TesDetay = &st
		return err
	}
	switch op {
	case OpAll:
		return []func(context.Context) error{customers, items}, nil
	case OpCustomers:
		return []func(context.Context) error{customers}, nil
	case OpItems:
		return []func(context.Context) error{items}, nil
	case OpTesDetay:
		return []func(context.Context) error{tes}, nil
	default:
		return nil, fmt.Errorf("ercomsync: unknown operation %q", op)
	}
}

func (s *Syncer) finish(ctx context.Context, report Report, runErr error) {
	status, msg := store.StatusSuccess, report.Message()
	if runErr != nil {
		status, msg = store.StatusFailed, runErr.Error()
		s.logger.Error().Err(runErr).Str("operation", report.Operation).Msg("sync_failed")
	} else {
		s.logger.Info().Str("operation", report.Operation).Str("summary", msg).Msg("sync_completed")
	}
	// Bookkeeping must outlive a cancelled request.
	bg := context.WithoutCancel(ctx)
	if s.opts.Runs != nil && report.RunID != uuid.Nil {
		if err := s.opts.Runs.Finish(bg, report.RunID, status, msg, report); err != nil {
			s.logger.Warn().Err(err).Str("run_id", report.RunID.String()).Msg("run_finish_failed")
		}
	}
	if runErr == nil {
		s.emit(bg, events.TopicSyncCompleted, report.Operation, report)
	}
}

func (s *Syncer) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.opts.Events == nil {
		return
	}
	if _, err := s.opts.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.logger.Debug().Err(err).Str("topic", topic).Msg("emit_failed")
	}
}

// progress emits roughly one event per percent.
func (s *Syncer) progress(ctx context.Context, title string, done, total int) {
	step := total / 100
	if step < 1 {
		step = 1
	}
	if done%step != 0 && done != total {
		return
	}
	s.emit(ctx, events.TopicSyncProgress, title, events.NewProgress(title, done, total))
}

// existing checks every key concurrently and returns the subset that
// already exists in the ERP.
func (s *Syncer) existing(ctx context.Context, doctype, field string, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	results := make([]bool, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, key := range keys {
		if _, ok := s.known.Get(doctype + ":" + key); ok {
			results[i] = true
			continue
		}
		g.Go(func() error {
			name, err := s.opts.ERP.Exists(gctx, doctype, erp.Filters{field: key})
			if err != nil {
				return fmt.Errorf("check %s %s: %w", doctype, key, err)
			}
			results[i] = name != ""
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, key := range keys {
		if results[i] {
			found[key] = true
			s.remember(doctype, key)
		}
	}
	return found, nil
}

func (s *Syncer) remember(doctype, key string) {
	s.known.SetDefault(doctype+":"+key, struct{}{})
}

// inserted lists the documents created for one source record, oldest first.
type inserted []erp.Doc

func (in *inserted) insert(ctx context.Context, api ERP, doc erp.Doc) (erp.Doc, error) {
	created, err := api.Insert(ctx, doc)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("insert %s: empty response", doc.Doctype())
	}
	if created.Doctype() == "" {
		created["doctype"] = doc.Doctype()
	}
	*in = append(*in, created)
	return created, nil
}

// rollback deletes the documents newest first so that links are removed
// before their targets. A record that failed half way is then missing as a
// whole and the next run creates it again.
func (s *Syncer) rollback(ctx context.Context, docs inserted, cause error) error {
	ctx = context.WithoutCancel(ctx)
	errs := []error{cause}
	for i := len(docs) - 1; i >= 0; i-- {
		d := docs[i]
		if err := s.opts.ERP.Delete(ctx, d.Doctype(), d.Name()); err != nil {
			s.logger.Error().Err(err).Str("doctype", d.Doctype()).Str("name", d.Name()).Msg("sync_rollback_failed")
			errs = append(errs, fmt.Errorf("roll back %s %s: %w", d.Doctype(), d.Name(), err))
		}
	}
	return errors.Join(errs...)
}
