package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newWindowLimiter(t *testing.T) (Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Limiter{Client: client, Prefix: "test:"}, mr
}

func TestLimiterAllowWithinWindow(t *testing.T) {
	limiter, mr := newWindowLimiter(t)
	ctx := context.Background()
	window := 2 * time.Second

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "sync.customers", window, 2)
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d", i)
		require.Equal(t, 1-i, d.Remaining)
	}

	d, err := limiter.Allow(ctx, "sync.customers", window, 2)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.False(t, d.Reset.IsZero())

	members, err := mr.ZMembers("test:sync.customers")
	require.NoError(t, err)
	require.Len(t, members, 2, "rejected calls are not counted")

	mr.FastForward(window)

	d, err = limiter.Allow(ctx, "sync.customers", window, 2)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newWindowLimiter(t)
	ctx := context.Background()

	d, err := limiter.Allow(ctx, "a", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = limiter.Allow(ctx, "b", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = limiter.Allow(ctx, "a", time.Minute, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestLimiterWithoutClientAllows(t *testing.T) {
	d, err := Limiter{}.Allow(context.Background(), "k", time.Second, 3)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 3, d.Remaining)
}
