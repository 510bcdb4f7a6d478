package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Worker wraps the asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    zerolog.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisConnOpt
	Logger      zerolog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
	Location    *time.Location
}

// NewWorker constructs a Worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.RedisOpts == nil {
		return nil, errors.New("jobs: redis options required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	logger := cfg.Logger.With().Str("component", "jobs").Logger()
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 2,
			QueueFiles:   1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", t.Type()).Msg("task failed")
		}),
		Logger: asynqLogger{logger},
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		loc := cfg.Location
		if loc == nil {
			loc = time.UTC
		}
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: loc, Logger: asynqLogger{logger}})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			id, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...)
			if err != nil {
				return nil, err
			}
			logger.Info().Str("spec", entry.Spec).Str("task", entry.Task.Type()).Str("entry_id", id).Msg("cron registered")
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client    *asynq.Client
	uniqueFor time.Duration
}

// NewClient constructs an asynq client. Sync tasks are deduplicated for
// uniqueFor.
func NewClient(redisOpts asynq.RedisConnOpt, uniqueFor time.Duration) *Client {
	return &Client{client: asynq.NewClient(redisOpts), uniqueFor: uniqueFor}
}

// EnqueueSync queues a sync operation.
func (c *Client) EnqueueSync(ctx context.Context, op string) (*asynq.TaskInfo, error) {
	task, err := NewSyncTask(op, c.uniqueFor)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// EnqueueFile queues a file operation.
func (c *Client) EnqueueFile(ctx context.Context, p FilePayload) (*asynq.TaskInfo, error) {
	task, err := NewFileTask(p)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct{ l zerolog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(sprint(args)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(sprint(args)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(sprint(args)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(sprint(args)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(sprint(args)) }
