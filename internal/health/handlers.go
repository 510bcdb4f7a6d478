package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips readiness. Shutdown sets it to false so load balancers stop
// routing before the server drains.
func SetReady(v bool) { ready.Store(v) }

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
	PingERP(ctx context.Context, timeout time.Duration) error
}

// Probe checks one optional dependency.
type Probe func(ctx context.Context) error

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
	ERPTimeout   time.Duration
	// Extra probes are reported under their key and also gate readiness.
	Extra map[string]Probe
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil || !ready.Load() {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	status := map[string]string{
		"db":    result(h.Checker.PingDB(ctx, orDefault(h.DBTimeout, 500*time.Millisecond))),
		"redis": result(h.Checker.PingRedis(ctx, orDefault(h.RedisTimeout, 300*time.Millisecond))),
		"erp":   result(h.Checker.PingERP(ctx, orDefault(h.ERPTimeout, 2*time.Second))),
	}
	names := make([]string, 0, len(h.Extra))
	for name := range h.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, orDefault(h.DBTimeout, 500*time.Millisecond))
		status[name] = result(h.Extra[name](pctx))
		cancel()
	}

	code := http.StatusOK
	for _, s := range status {
		if s != "ok" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func result(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// ERPPinger is satisfied by *erp.Client.
type ERPPinger interface {
	Ping(ctx context.Context) (string, error)
}

// Probes checks the service's real dependencies.
type Probes struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
	ERP   ERPPinger
}

// PingDB implements Checker.
func (p Probes) PingDB(ctx context.Context, timeout time.Duration) error {
	if p.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.DB.Ping(ctx)
}

// PingRedis implements Checker.
func (p Probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// PingERP implements Checker. It calls frappe.auth.get_logged_user.
func (p Probes) PingERP(ctx context.Context, timeout time.Duration) error {
	if p.ERP == nil {
		return errors.New("erp not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := p.ERP.Ping(ctx)
	return err
}
