package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hubex-fl/hubex/internal/httpserver"
)

// RateLimiter limits authenticated API calls per subject+route using Redis
// INCR + EXPIRE over a fixed one-minute window.
type RateLimiter struct {
	redis   *redis.Client
	enabled bool
	perMin  int
	window  time.Duration
}

// NewRateLimiter creates the per-subject API rate limiter.
func NewRateLimiter(rdb *redis.Client, enabled bool, perMin int) *RateLimiter {
	return &RateLimiter{
		redis:   rdb,
		enabled: enabled,
		perMin:  perMin,
		window:  time.Minute,
	}
}

// Middleware rejects requests over the per-subject budget with 429. Requests
// without an authenticated user pass through; device traffic has its own
// domain-specific limits.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled {
			next.ServeHTTP(w, r)
			return
		}

		res := ResolutionFromContext(r.Context())
		if res.User == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := fmt.Sprintf("api_ratelimit:%d:%s:%s", res.User.UserID, r.Method, r.URL.Path)
		ctx := r.Context()

		pipe := rl.redis.Pipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rl.window)
		if _, err := pipe.Exec(ctx); err != nil {
			// Limiter unavailability must not take the API down.
			next.ServeHTTP(w, r)
			return
		}

		if incr.Val() > int64(rl.perMin) {
			ttl, err := rl.redis.TTL(ctx, key).Result()
			retryAfter := int64(rl.window.Seconds())
			if err == nil && ttl > 0 {
				retryAfter = int64(ttl.Seconds())
			}
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			httpserver.RespondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
