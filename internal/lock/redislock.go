package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned by TryWithLock when another holder owns the key.
var ErrLocked = errors.New("lock: already held")

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

const extendScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
else
  return 0
end`

// Locker provides a Redis-backed distributed lock. While fn runs the lease is
// extended every third of the TTL, so long synchronisations keep their lock.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// WithLock waits until key is free, then runs fn while holding it.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	return l.run(ctx, key, ttl, true, fn)
}

// TryWithLock runs fn only if key is free right now, returning ErrLocked otherwise.
func (l Locker) TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	return l.run(ctx, key, ttl, false, fn)
}

func (l Locker) run(ctx context.Context, key string, ttl time.Duration, wait bool, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	token := uuid.NewString()

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if !wait {
			return ErrLocked
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, ttl, stop, done)
	defer func() {
		close(stop)
		<-done
		_ = l.R.Eval(context.Background(), releaseScript, []string{key}, token).Err()
	}()
	return fn(ctx)
}

func (l Locker) keepAlive(key, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = l.R.Eval(context.Background(), extendScript, []string{key}, token, ttl.Milliseconds()).Err()
		}
	}
}
