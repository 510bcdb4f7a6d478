package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayProtector guards against handling the same key twice within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// ReplayGuard implements ReplayProtector with Redis SETNX. A nil client
// admits every key.
type ReplayGuard struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

// Acquire claims key for ttl and reports whether it was free.
func (r ReplayGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	if ttl <= 0 {
		ttl = r.ttl()
	}
	return r.Client.SetNX(ctx, r.Prefix+key, "1", ttl).Result()
}

// Release removes the guard key.
func (r ReplayGuard) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, r.Prefix+key).Err()
}

// First reports whether key is seen for the first time within the guard TTL.
func (r ReplayGuard) First(ctx context.Context, key string) (bool, error) {
	return r.Acquire(ctx, key, r.ttl())
}

func (r ReplayGuard) ttl() time.Duration {
	if r.TTL <= 0 {
		return 10 * time.Minute
	}
	return r.TTL
}
