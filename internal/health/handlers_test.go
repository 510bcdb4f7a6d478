package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/ozerpan/ercom-sync/internal/erp/erptest"
	"github.com/ozerpan/ercom-sync/internal/health"
)

type stubChecker struct {
	dbErr    error
	redisErr error
	erpErr   error
}

func (s stubChecker) PingDB(_ context.Context, _ time.Duration) error {
	return s.dbErr
}

func (s stubChecker) PingRedis(_ context.Context, _ time.Duration) error {
	return s.redisErr
}

func (s stubChecker) PingERP(_ context.Context, _ time.Duration) error {
	return s.erpErr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var status map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return status
}

func TestLive(t *testing.T) {
	handler := health.Handler{}
	rr := httptest.NewRecorder()
	handler.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestReadySuccess(t *testing.T) {
	handler := health.Handler{
		Checker: stubChecker{},
		Extra:   map[string]health.Probe{"ercom": func(context.Context) error { return nil }},
	}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	status := decode(t, rr)
	for _, key := range []string{"db", "redis", "erp", "ercom"} {
		if status[key] != "ok" {
			t.Fatalf("unexpected status %#v", status)
		}
	}
}

func TestReadyFailure(t *testing.T) {
	cases := map[string]health.Handler{
		"db":    {Checker: stubChecker{dbErr: errors.New("db down")}},
		"erp":   {Checker: stubChecker{erpErr: errors.New("erp: status 401")}},
		"ercom": {Checker: stubChecker{}, Extra: map[string]health.Probe{"ercom": func(context.Context) error { return errors.New("mysql down") }}},
	}
	for key, handler := range cases {
		rr := httptest.NewRecorder()
		handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503 got %d", key, rr.Code)
		}
		if status := decode(t, rr); status[key] == "ok" {
			t.Fatalf("%s: expected failure in %#v", key, status)
		}
	}
}

func TestProbes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := health.Probes{Redis: client, ERP: erptest.New()}
	ctx := context.Background()
	if err := p.PingRedis(ctx, time.Second); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	if err := p.PingERP(ctx, time.Second); err != nil {
		t.Fatalf("ping erp: %v", err)
	}
	if err := p.PingDB(ctx, time.Second); err == nil {
		t.Fatal("expected unconfigured db to fail")
	}
	if err := (health.Probes{}).PingERP(ctx, time.Second); err == nil {
		t.Fatal("expected unconfigured erp to fail")
	}
}

func TestReadyDrainsDuringShutdown(t *testing.T) {
	handler := health.Handler{
		Checker: stubChecker{},
		Extra:   map[string]health.Probe{"ercom": func(context.Context) error { return nil }},
	}
	t.Cleanup(func() { health.SetReady(true) })

	health.SetReady(true)
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 before shutdown, got %d", rr.Code)
	}
	if got := decode(t, rr)["ercom"]; got != "ok" {
		t.Fatalf("expected ercom ok, got %q", got)
	}

	health.SetReady(false)
	rr = httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("liveness must stay up while draining, got %d", rr.Code)
	}
}
