// Package app builds the connections and services shared by the api and
// worker binaries.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ozerpan/ercom-sync/internal/cache"
	"github.com/ozerpan/ercom-sync/internal/config"
	"github.com/ozerpan/ercom-sync/internal/ercom"
	"github.com/ozerpan/ercom-sync/internal/ercomsync"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/events"
	"github.com/ozerpan/ercom-sync/internal/lock"
	"github.com/ozerpan/ercom-sync/internal/notify"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/queue"
	"github.com/ozerpan/ercom-sync/internal/resilience"
	"github.com/ozerpan/ercom-sync/internal/store"
	"github.com/ozerpan/ercom-sync/internal/upload"
)

// QueuePrefix namespaces the Redis keys of the delivery queue.
const QueuePrefix = "ercom-sync:queue"

// Dependencies holds everything the binaries wire into handlers and workers.
// Ercom, Syncer and Files are nil when no ERCOM database is configured.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	RedisOpts asynq.RedisConnOpt
	Ercom     *sqlx.DB

	ERP        *erp.Client
	Runs       *store.RunStore
	Locker     lock.Locker
	Queue      queue.Enqueuer
	QueueStore queue.Store
	Dispatcher *notify.Dispatcher
	Bus        *events.Bus
	Syncer     *ercomsync.Syncer
	Files      *upload.Processor

	closers []func()
}

// Open connects to Postgres, Redis and, when configured, ERCOM, and builds
// the domain services on top. app names the process in connection metadata.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, app string) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger}

	if cfg.MigrateOnStart {
		if err := store.Migrate(cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
	}

	if err := d.openDB(ctx, app); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.openRedis(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if cfg.Ercom.Enabled() {
		db, err := ercom.Open(ctx, ercom.DSNConfig{
			Host:        cfg.Ercom.Host,
			Port:        cfg.Ercom.Port,
			Name:        cfg.Ercom.Name,
			User:        cfg.Ercom.User,
			Password:    cfg.Ercom.Password,
			ConnectWait: cfg.Ercom.ConnectWait,
		}, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Ercom = db
		d.closers = append(d.closers, func() {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("close ercom")
			}
		})
	} else {
		logger.Warn().Msg("ERCOM database not configured; sync and file operations are disabled")
	}

	d.build()
	return d, nil
}

func (d *Dependencies) openDB(ctx context.Context, app string) error {
	poolConfig, err := pgxpool.ParseConfig(d.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = app

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	d.closers = append(d.closers, pool.Close)
	if err := pool.Ping(connectCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	d.DB = pool
	return nil
}

func (d *Dependencies) openRedis(ctx context.Context) error {
	redisOpts, err := redis.ParseURL(d.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	d.closers = append(d.closers, func() {
		if err := client.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	})
	if err := redisotel.InstrumentTracing(client); err != nil {
		d.Logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		d.Logger.Error().Err(err).Msg("instrument redis metrics")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	taskOpts, err := asynq.ParseRedisURI(d.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url for tasks: %w", err)
	}
	d.Redis = client
	d.RedisOpts = taskOpts
	return nil
}

func (d *Dependencies) build() {
	cfg := d.Config
	logger := d.Logger

	breaker := resilience.NewBreaker(cfg.ERP.BreakerMinReq, cfg.ERP.BreakerRatio, cfg.ERP.BreakerOpenFor).
		WithTarget("erp").
		WithLogger(logger)
	d.ERP = erp.New(erp.Options{
		BaseURL:   cfg.ERP.BaseURL,
		APIKey:    cfg.ERP.APIKey,
		APISecret: cfg.ERP.APISecret,
		HTTP: resilience.HTTPClient{
			Client:      erp.NewHTTPClient(cfg.ERP.Timeout, cfg.ERP.InsecureSkipTLS),
			Breaker:     breaker,
			BaseBackoff: cfg.ERP.RetryBase,
			MaxAttempts: cfg.ERP.ReadAttempts,
			Jitter:      0.2,
			Timeout:     cfg.ERP.Timeout,
		},
		Cache:  cache.NewJSON(d.Redis, "erp:doc:", cfg.ERP.CacheTTL),
		Logger: obs.Component(logger, "erp"),
	})

	d.Runs = store.NewRunStore(d.DB)
	d.Locker = lock.Locker{R: d.Redis, RetryBackoff: 100 * time.Millisecond}
	d.QueueStore = queue.NewStore(d.DB)
	d.Queue = queue.Enqueuer{
		R:           d.Redis,
		Prefix:      QueuePrefix,
		DedupTTL:    24 * time.Hour,
		MaxAttempts: cfg.Notify.MaxAttempts,
	}

	d.Dispatcher = &notify.Dispatcher{
		URLs:   cfg.Notify.WebhookURLs,
		Secret: cfg.Notify.WebhookSecret,
		Topics: events.DefaultTopics(),
		Queue:  d.Queue,
		HTTP: &resilience.HTTPClient{
			Client: &http.Client{
				Timeout:   cfg.Notify.Timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			Breaker:     resilience.NewBreaker(10, 0.5, time.Minute).WithTarget("notify-webhook").WithLogger(logger),
			MaxAttempts: 1,
			Timeout:     cfg.Notify.Timeout,
		},
		AllowPrivate: cfg.Notify.AllowPrivate,
		MaxAttempts:  cfg.Notify.MaxAttempts,
		Replay:       notify.ReplayGuard{Client: d.Redis, Prefix: "notify:sent:"},
		ReplayTTL:    24 * time.Hour,
		Logger:       obs.Component(logger, "notify"),
	}
	var scheduler events.DeliveryScheduler
	if d.Dispatcher.Enabled() {
		scheduler = d.Dispatcher
	}
	d.Bus = &events.Bus{
		Scheduler: scheduler,
		Notifiers: []events.Notifier{notify.LogNotifier{
			Logger: obs.Component(logger, "events"),
			Quiet:  map[string]bool{events.TopicSyncProgress: true},
		}},
		Logger: logger,
	}

	if d.Ercom == nil {
		return
	}
	source := ercom.NewSource(d.Ercom)
	d.Syncer = ercomsync.New(ercomsync.Options{
		ERP:           d.ERP,
		Source:        source,
		Locker:        d.Locker,
		Runs:          d.Runs,
		Events:        d.Bus,
		Logger:        obs.Component(logger, "ercomsync"),
		Company:       cfg.ERP.DefaultCompany,
		ItemLimit:     cfg.Ercom.ItemLimit,
		TesDetayLimit: cfg.Ercom.TesDetayLimit,
		LockTTL:       cfg.Sync.LockTTL,
		Concurrency:   cfg.Sync.Concurrency,
	})
	d.Files = &upload.Processor{
		ERP:     d.ERP,
		Source:  source,
		Runs:    d.Runs,
		Events:  d.Bus,
		Logger:  obs.Component(logger, "upload"),
		Company: cfg.ERP.DefaultCompany,
	}
}

// PingErcom reports ERCOM reachability. It is nil-safe so it can be used as
// a readiness probe when ERCOM is configured.
func (d *Dependencies) PingErcom(ctx context.Context) error {
	if d.Ercom == nil {
		return fmt.Errorf("ercom not configured")
	}
	return d.Ercom.PingContext(ctx)
}

// Close releases connections in reverse order of opening.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
