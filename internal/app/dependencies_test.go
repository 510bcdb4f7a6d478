package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ozerpan/ercom-sync/internal/config"
)

func testConfig(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	env := map[string]string{
		"APP_ENV":       "test",
		"DATABASE_URL":  "postgres://localhost/ercom_sync",
		"REDIS_URL":     "redis://localhost:6379/0",
		"ERP_BASE_URL":  "https://erp.example.com",
		"ERCOM_DB_HOST": "",
		"ERCOM_DB_NAME": "",
	}
	for k, v := range extra {
		env[k] = v
	}
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	return cfg
}

func newDeps(t *testing.T, cfg *config.Config) *Dependencies {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	d := &Dependencies{Config: cfg, Logger: zerolog.Nop(), Redis: client}
	d.build()
	return d
}

func TestBuildWithoutErcom(t *testing.T) {
	d := newDeps(t, testConfig(t, nil))

	require.NotNil(t, d.ERP)
	require.NotNil(t, d.Runs)
	require.NotNil(t, d.Bus)
	require.Nil(t, d.Syncer)
	require.Nil(t, d.Files)
	require.Nil(t, d.Bus.Scheduler)
	require.False(t, d.Dispatcher.Enabled())
	require.Equal(t, QueuePrefix, d.Queue.Prefix)
	require.Error(t, d.PingErcom(context.Background()))
}

func TestBuildSchedulesWebhooksWhenSubscribed(t *testing.T) {
	d := newDeps(t, testConfig(t, map[string]string{"NOTIFY_WEBHOOK_URLS": "https://hooks.example.com/ercom"}))

	require.True(t, d.Dispatcher.Enabled())
	require.Same(t, d.Dispatcher, d.Bus.Scheduler)
	require.Equal(t, d.Config.Notify.MaxAttempts, d.Queue.MaxAttempts)
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	var order []int
	d := &Dependencies{}
	d.closers = append(d.closers, func() { order = append(order, 1) }, func() { order = append(order, 2) })
	d.Close()
	d.Close()
	require.Equal(t, []int{2, 1}, order)
}
