package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string `validate:"required"`
	Port               string
	LogFormat          string `validate:"oneof=json console text"`
	LogLevel           string
	DatabaseURL        string `validate:"required"`
	MigrateOnStart     bool
	RedisURL           string `validate:"required"`
	CORSAllowedOrigins []string
	MetricsToken       string
	MetricsNamespace   string
	MetricsBuckets     string

	ERP       ERPConfig
	Ercom     ErcomConfig
	Sync      SyncConfig
	Notify    NotifyConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

// ERPConfig describes the Frappe site the service talks to.
type ERPConfig struct {
	BaseURL         string `validate:"required,url"`
	APIKey          string
	APISecret       string
	Timeout         time.Duration
	ReadAttempts    int `validate:"min=1"`
	RetryBase       time.Duration
	BreakerMinReq   int
	BreakerRatio    float64 `validate:"gte=0,lte=1"`
	BreakerOpenFor  time.Duration
	CacheTTL        time.Duration
	WebhookSecret   string
	InvokeAllowlist []string
	DefaultCompany  string
	InsecureSkipTLS bool
	ReplayTTL       time.Duration
	MaxUploadBytes  int64 `validate:"gt=0"`
}

// ErcomConfig holds the ERCOM MySQL connection settings.
type ErcomConfig struct {
	Host          string
	Port          int
	Name          string
	User          string
	Password      string
	ItemLimit     int `validate:"gt=0"`
	TesDetayLimit int `validate:"gt=0"`
	ConnectWait   time.Duration
}

// Enabled reports whether an ERCOM database has been configured.
func (c ErcomConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.Name) != ""
}

// SyncConfig controls scheduled synchronisation.
type SyncConfig struct {
	Cron        string
	LockTTL     time.Duration
	Concurrency int `validate:"gt=0"`
}

// NotifyConfig controls outbound notice webhooks.
type NotifyConfig struct {
	WebhookURLs   []string
	WebhookSecret string
	Timeout       time.Duration
	AllowPrivate  bool
	MaxAttempts   int `validate:"gt=0"`
	WorkerCount   int `validate:"gt=0"`
}

// AuthConfig controls access to the action endpoints.
type AuthConfig struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	APIKeyHash string
}

// Disabled reports whether no authentication method is configured.
func (c AuthConfig) Disabled() bool {
	return c.JWKSURL == "" && c.APIKeyHash == ""
}

// RateLimitConfig bounds action invocations per caller.
type RateLimitConfig struct {
	ActionWindow time.Duration
	ActionMax    int
	GlobalRate   string
}

// TracingConfig configures OTLP export.
type TracingConfig struct {
	Endpoint    string
	ServiceName string
	Environment string
	SampleRatio float64
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	appEnv := valueOrDefault(k.String("APP_ENV"), "development")
	cfg := &Config{
		AppEnv:             appEnv,
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		LogFormat:          strings.ToLower(valueOrDefault(k.String("LOG_FORMAT"), "json")),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		DatabaseURL:        k.String("DATABASE_URL"),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MetricsToken:       strings.TrimSpace(k.String("METRICS_TOKEN")),
		MetricsNamespace:   valueOrDefault(k.String("METRICS_NAMESPACE"), "ercom_sync"),
		MetricsBuckets:     k.String("METRICS_BUCKETS_MS"),
		ERP: ERPConfig{
			BaseURL:         strings.TrimRight(strings.TrimSpace(k.String("ERP_BASE_URL")), "/"),
			APIKey:          k.String("ERP_API_KEY"),
			APISecret:       k.String("ERP_API_SECRET"),
			Timeout:         parseDuration(k.String("ERP_TIMEOUT"), "15s"),
			ReadAttempts:    parseInt(k.String("ERP_READ_ATTEMPTS"), 3),
			RetryBase:       parseDuration(k.String("ERP_RETRY_BASE"), "200ms"),
			BreakerMinReq:   parseInt(k.String("ERP_BREAKER_MIN_REQUESTS"), 20),
			BreakerRatio:    parseFloat(k.String("ERP_BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor:  parseDuration(k.String("ERP_BREAKER_OPEN_FOR"), "30s"),
			CacheTTL:        parseDuration(k.String("ERP_CACHE_TTL"), "2m"),
			WebhookSecret:   k.String("ERP_WEBHOOK_SECRET"),
			InvokeAllowlist: splitAndTrim(k.String("ERP_INVOKE_ALLOWLIST")),
			DefaultCompany:  strings.TrimSpace(k.String("ERP_DEFAULT_COMPANY")),
			InsecureSkipTLS: parseBool(k.String("ERP_INSECURE_SKIP_TLS")),
			ReplayTTL:       parseDuration(k.String("ERP_WEBHOOK_REPLAY_TTL"), "10m"),
			MaxUploadBytes:  int64(parseInt(k.String("ERP_MAX_UPLOAD_MB"), 20)) << 20,
		},
		Ercom: ErcomConfig{
			Host:          k.String("ERCOM_DB_HOST"),
			Port:          parseInt(k.String("ERCOM_DB_PORT"), 3306),
			Name:          k.String("ERCOM_DB_NAME"),
			User:          k.String("ERCOM_DB_USER"),
			Password:      k.String("ERCOM_DB_PASSWORD"),
			ItemLimit:     parseInt(k.String("ERCOM_ITEM_LIMIT"), 3000),
			TesDetayLimit: parseInt(k.String("ERCOM_TESDETAY_LIMIT"), 100),
			ConnectWait:   parseDuration(k.String("ERCOM_CONNECT_WAIT"), "30s"),
		},
		Sync: SyncConfig{
			Cron:        strings.TrimSpace(k.String("ERCOM_SYNC_CRON")),
			LockTTL:     parseDuration(k.String("ERCOM_SYNC_LOCK_TTL"), "30m"),
			Concurrency: parseInt(k.String("WORKER_CONCURRENCY"), 4),
		},
		Notify: NotifyConfig{
			WebhookURLs:   splitAndTrim(k.String("NOTIFY_WEBHOOK_URLS")),
			WebhookSecret: k.String("NOTIFY_WEBHOOK_SECRET"),
			Timeout:       parseDuration(k.String("NOTIFY_WEBHOOK_TIMEOUT"), "5s"),
			AllowPrivate:  parseBool(k.String("NOTIFY_WEBHOOK_ALLOW_PRIVATE")),
			MaxAttempts:   parseInt(k.String("NOTIFY_WEBHOOK_MAX_ATTEMPTS"), 8),
			WorkerCount:   parseInt(k.String("NOTIFY_WORKERS"), 2),
		},
		Auth: AuthConfig{
			JWKSURL:    strings.TrimSpace(k.String("AUTH_JWKS_URL")),
			Issuer:     strings.TrimSpace(k.String("AUTH_ISSUER")),
			Audience:   strings.TrimSpace(k.String("AUTH_AUDIENCE")),
			APIKeyHash: strings.TrimSpace(k.String("API_KEY_HASH")),
		},
		RateLimit: RateLimitConfig{
			ActionWindow: parseDuration(k.String("ACTION_RATE_WINDOW"), "1m"),
			ActionMax:    parseInt(k.String("ACTION_RATE_MAX"), 30),
			GlobalRate:   valueOrDefault(k.String("GLOBAL_RATE_LIMIT"), "300-M"),
		},
		Tracing: TracingConfig{
			Endpoint:    strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
			ServiceName: valueOrDefault(k.String("OTEL_SERVICE_NAME"), "ercom-sync"),
			Environment: appEnv,
			SampleRatio: parseFloat(k.String("OTEL_TRACES_SAMPLER_ARG"), 0.1),
		},
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid config: %s failed %q", envName(verrs[0].Namespace()), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with production hardening.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.AppEnv)
	return env == "production" || env == "prod"
}

var envNames = map[string]string{
	"Config.DatabaseURL":         "DATABASE_URL",
	"Config.RedisURL":            "REDIS_URL",
	"Config.LogFormat":           "LOG_FORMAT",
	"Config.ERP.BaseURL":         "ERP_BASE_URL",
	"Config.ERP.ReadAttempts":    "ERP_READ_ATTEMPTS",
	"Config.ERP.BreakerRatio":    "ERP_BREAKER_FAILURE_RATIO",
	"Config.ERP.MaxUploadBytes":  "ERP_MAX_UPLOAD_MB",
	"Config.Ercom.ItemLimit":     "ERCOM_ITEM_LIMIT",
	"Config.Ercom.TesDetayLimit": "ERCOM_TESDETAY_LIMIT",
	"Config.Sync.Concurrency":    "WORKER_CONCURRENCY",
	"Config.Notify.MaxAttempts":  "NOTIFY_WEBHOOK_MAX_ATTEMPTS",
	"Config.Notify.WorkerCount":  "NOTIFY_WORKERS",
}

func envName(namespace string) string {
	if name, ok := envNames[namespace]; ok {
		return name
	}
	return namespace
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
