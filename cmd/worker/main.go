package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ozerpan/ercom-sync/internal/app"
	"github.com/ozerpan/ercom-sync/internal/config"
	"github.com/ozerpan/ercom-sync/internal/ercomsync"
	"github.com/ozerpan/ercom-sync/internal/jobs"
	"github.com/ozerpan/ercom-sync/internal/notify"
	"github.com/ozerpan/ercom-sync/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.Tracing.ServiceName + "-worker",
		Endpoint:      cfg.Tracing.Endpoint,
		SamplingRatio: cfg.Tracing.SampleRatio,
		Environment:   cfg.Tracing.Environment,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	deps, err := app.Open(ctx, cfg, logger, "ercom-sync-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	g, gctx := errgroup.WithContext(ctx)

	if deps.Syncer != nil {
		handlers := jobs.Handlers{Sync: deps.Syncer, Files: deps.Files, Logger: logger}
		var cron []jobs.CronRegistration
		if cfg.Sync.Cron != "" {
			task, err := jobs.NewSyncTask(ercomsync.OpAll, cfg.Sync.LockTTL)
			if err != nil {
				logger.Fatal().Err(err).Msg("build cron task")
			}
			cron = append(cron, jobs.CronRegistration{Spec: cfg.Sync.Cron, Task: task})
		}
		taskWorker, err := jobs.NewWorker(jobs.WorkerConfig{
			RedisOpts:   deps.RedisOpts,
			Logger:      logger,
			Concurrency: cfg.Sync.Concurrency,
			Handlers:    handlers.TaskHandlers(),
			Cron:        cron,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise task worker")
		}
		g.Go(func() error { return taskWorker.Run(gctx) })
	} else {
		logger.Warn().Msg("ERCOM not configured; task worker not started")
	}

	if deps.Dispatcher.Enabled() {
		delivery := notify.DeliveryWorker{Dispatcher: deps.Dispatcher, Locker: deps.Locker}
		queueWorker := delivery.QueueWorker(deps.Redis, app.QueuePrefix, cfg.Notify.WorkerCount, deps.QueueStore)
		g.Go(func() error { return queueWorker.Run(gctx) })
	}

	logger.Info().Msg("worker starting")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}
