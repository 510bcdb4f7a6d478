package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/ozerpan/ercom-sync/internal/common"
)

// Global applies one fixed-window rate per client IP to every request.
type Global struct {
	Limiter *limiter.Limiter
	OnError func(error)
}

// NewGlobal builds a Global limiter from a formatted rate such as "300-M".
func NewGlobal(rdb *redis.Client, prefix, rate string) (*Global, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return &Global{Limiter: limiter.New(store, parsed)}, nil
}

// Middleware rejects requests over the rate with 429. Store failures let the
// request through.
func (g *Global) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g == nil || g.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		lctx, err := g.Limiter.Get(r.Context(), common.ClientIP(r))
		if err != nil {
			if g.OnError != nil {
				g.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		headers.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))
		if lctx.Reached {
			retryAfter := time.Until(time.Unix(lctx.Reset, 0)).Seconds()
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(int(retryAfter)))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
