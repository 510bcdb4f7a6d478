package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	// Reset is when the oldest counted call leaves the window.
	Reset time.Time
}

// Limiter counts calls per key in a sliding window kept as a Redis sorted set.
// Rejected calls are not counted, so a caller that keeps retrying does not
// extend its own lockout.
type Limiter struct {
	Client *redis.Client
	Prefix string
}

// Allow records a call for key and reports whether it fits in max calls per window.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	now := time.Now()
	if l.Client == nil || max <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: max, Reset: now.Add(window)}, nil
	}

	redisKey := l.Prefix + key
	member := uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Reset: now.Add(window)}, err
	}

	d := Decision{Reset: now.Add(window)}
	if first := oldest.Val(); len(first) > 0 {
		d.Reset = time.Unix(0, int64(first[0].Score)).Add(window)
	}
	current := int(count.Val())
	if current > max {
		if err := l.Client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return d, err
		}
		return d, nil
	}
	d.Allowed = true
	d.Remaining = max - current
	return d, nil
}
