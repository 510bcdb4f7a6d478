package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ozerpan/ercom-sync/internal/actions"
	"github.com/ozerpan/ercom-sync/internal/app"
	"github.com/ozerpan/ercom-sync/internal/auth"
	"github.com/ozerpan/ercom-sync/internal/common"
	"github.com/ozerpan/ercom-sync/internal/config"
	"github.com/ozerpan/ercom-sync/internal/forms"
	"github.com/ozerpan/ercom-sync/internal/health"
	"github.com/ozerpan/ercom-sync/internal/jobs"
	"github.com/ozerpan/ercom-sync/internal/notify"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/queue"
	"github.com/ozerpan/ercom-sync/internal/ratelimit"
	"github.com/ozerpan/ercom-sync/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   cfg.Tracing.ServiceName,
			Endpoint:      cfg.Tracing.Endpoint,
			SamplingRatio: cfg.Tracing.SampleRatio,
			Environment:   cfg.Tracing.Environment,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger, "ercom-sync-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	taskClient := jobs.NewClient(deps.RedisOpts, cfg.Sync.LockTTL)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	registry := actions.NewRegistry(deps.ERP, cfg.ERP.InvokeAllowlist)
	if deps.Syncer != nil {
		registry.RegisterSync(deps.Syncer, taskClient)
		registry.RegisterFiles(deps.Files, taskClient)
	}
	logger.Info().Strs("operations", registry.Names()).Msg("actions registered")

	actionHandler := &actions.Handler{
		Registry:       registry,
		Files:          deps.ERP,
		Runs:           deps.Runs,
		Events:         deps.Bus,
		Logger:         obs.Component(logger, "actions"),
		MaxUploadBytes: cfg.ERP.MaxUploadBytes,
	}
	formsHandler := &forms.Handler{
		Svc: &forms.Service{
			ERP:    deps.ERP,
			Events: deps.Bus,
			Logger: obs.Component(logger, "forms"),
		},
		Secret: cfg.ERP.WebhookSecret,
		Replay: notify.ReplayGuard{Client: deps.Redis, Prefix: "erp:hook:", TTL: cfg.ERP.ReplayTTL},
	}
	queueAdmin := &queue.AdminHandler{
		DefaultKind: notify.DeliveryTask,
		Store:       deps.QueueStore,
		Queue:       deps.Queue,
		Logger:      obs.Component(logger, "queue"),
	}

	authMiddleware := mustAuth(ctx, cfg, logger)
	idem := common.Idem{R: deps.Redis, TTL: 24 * time.Hour}
	actionLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "ratelimit:action"},
		Config: ratelimit.Config{
			Key:    ratelimit.CallerOperationKey,
			Window: cfg.RateLimit.ActionWindow,
			Max:    cfg.RateLimit.ActionMax,
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("action rate limiter") },
	}
	globalLimiter, err := ratelimit.NewGlobal(deps.Redis, "ratelimit:global", cfg.RateLimit.GlobalRate)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise global rate limiter")
	}
	globalLimiter.OnError = func(err error) { logger.Error().Err(err).Msg("global rate limiter") }

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction()}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.APIKeyHeader, "Idempotency-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(globalLimiter.Middleware)
	r.Use(security.BodyLimit{
		Max:       1 << 20,
		Overrides: map[string]int64{"/api/v1/files": cfg.ERP.MaxUploadBytes},
	}.Middleware)

	metricsGuard := obs.TokenGuard(cfg.MetricsToken)
	if metricsEnabled {
		r.With(metricsGuard).Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", !cfg.IsProduction()) {
		if cfg.IsProduction() && cfg.MetricsToken == "" {
			logger.Warn().Msg("pprof requires METRICS_TOKEN in production; not mounted")
		} else {
			r.With(metricsGuard).Mount("/debug/pprof", newPprofMux())
		}
	}

	healthHandler := health.Handler{
		Checker:      health.Probes{DB: deps.DB, Redis: deps.Redis, ERP: deps.ERP},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		ERPTimeout:   envDurationMillis("HEALTH_READY_ERP_TIMEOUT_MS", 2000),
	}
	if deps.Ercom != nil {
		healthHandler.Extra = map[string]health.Probe{"ercom": deps.PingErcom}
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Post("/hooks/erp/{doctype}", formsHandler.Hook)

	r.Route("/api/v1", func(v chi.Router) {
		if authMiddleware != nil {
			v.Use(authMiddleware.RequireAuth)
		}
		formsHandler.Routes(v)
		actionHandler.Routes(v, idem.Middleware, actionLimiter.Middleware)
		v.Route("/admin/queue", queueAdmin.Routes)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// mustAuth builds the API authentication middleware. It returns nil when no
// credentials are configured outside production.
func mustAuth(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *auth.Middleware {
	if cfg.Auth.Disabled() {
		if cfg.IsProduction() {
			logger.Fatal().Msg("AUTH_JWKS_URL or API_KEY_HASH is required in production")
		}
		logger.Warn().Msg("authentication disabled")
		return nil
	}
	m := &auth.Middleware{Logger: obs.Component(logger, "auth")}
	if cfg.Auth.JWKSURL != "" {
		jwks, err := auth.NewJWKS(ctx, cfg.Auth.JWKSURL, 0)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise jwks")
		}
		m.Tokens = auth.Verifier{
			Keys: jwks,
			Validator: auth.TokenValidator{
				Issuer:   cfg.Auth.Issuer,
				Audience: cfg.Auth.Audience,
			},
		}
	}
	if cfg.Auth.APIKeyHash != "" {
		m.Keys = &auth.APIKey{Hash: cfg.Auth.APIKeyHash}
	}
	return m
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}
