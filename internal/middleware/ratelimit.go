// AngelaMos | 2026
// ratelimit.go

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/carterperez-dev/accounts-api/internal/core"
)

type RateLimitConfig struct {
	Limit      redis_rate.Limit
	KeyFunc    func(*http.Request) string
	FailOpen   bool
	BypassFunc func(*http.Request) bool
}

// RateLimiter enforces a GCRA limit in Redis. While Redis is unreachable
// each instance falls back to its own token buckets, so the effective
// limit is per process until Redis returns.
type RateLimiter struct {
	redis   *redis_rate.Limiter
	buckets *bucketSet
	cfg     RateLimitConfig
}

func NewRateLimiter(rdb *redis.Client, cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = KeyByIP
	}

	rl := &RateLimiter{
		buckets: newBucketSet(cfg.Limit),
		cfg:     cfg,
	}
	if rdb != nil {
		rl.redis = redis_rate.NewLimiter(rdb)
	}
	return rl
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cfg.BypassFunc != nil && rl.cfg.BypassFunc(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := rl.cfg.KeyFunc(r)
		res, err := rl.allow(r.Context(), key)
		if err != nil {
			if rl.cfg.FailOpen {
				slog.WarnContext(r.Context(), "rate limiter failing open",
					"key", key,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}
			core.JSON(w, http.StatusServiceUnavailable, core.ErrorResponse{
				Error: core.ErrorBody{
					Code:    core.CodeInternal,
					Message: "rate limiter unavailable",
				},
			})
			return
		}

		writeLimitHeaders(w.Header(), rl.cfg.Limit, res)

		if res.Allowed == 0 {
			rejectOverLimit(w, res)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(
	ctx context.Context,
	key string,
) (*redis_rate.Result, error) {
	if rl.redis != nil {
		res, err := rl.redis.Allow(ctx, key, rl.cfg.Limit)
		if err == nil {
			return res, nil
		}
		slog.DebugContext(ctx, "redis rate limit unavailable, using local bucket",
			"error", err,
		)
	}

	return rl.buckets.allow(key), nil
}

// clientIP trusts the last X-Forwarded-For hop, the one appended by the
// proxy directly in front of this service.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		return strings.TrimSpace(hops[len(hops)-1])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func KeyByIP(r *http.Request) string {
	return "ratelimit:ip:" + clientIP(r)
}

// KeyByUser buckets authenticated callers by account and everyone else by
// address.
func KeyByUser(r *http.Request) string {
	if id := GetUserID(r.Context()); id != 0 {
		return "ratelimit:user:" + strconv.FormatInt(id, 10)
	}
	return KeyByIP(r)
}

// KeyWithPrefix namespaces another key function, so a stricter limit on one
// route does not share a bucket with the global limit.
func KeyWithPrefix(
	prefix string,
	keyFunc func(*http.Request) string,
) func(*http.Request) string {
	return func(r *http.Request) string {
		return prefix + ":" + keyFunc(r)
	}
}

func writeLimitHeaders(h http.Header, limit redis_rate.Limit, res *redis_rate.Result) {
	reset := int(res.ResetAfter.Seconds())

	h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.ResetAfter).Unix(), 10))
	h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", limit.Rate, int(limit.Period.Seconds())))
	h.Set("RateLimit", fmt.Sprintf("%d;t=%d", res.Remaining, reset))
}

func rejectOverLimit(w http.ResponseWriter, res *redis_rate.Result) {
	retryAfter := max(int(res.RetryAfter.Seconds()), 1)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	core.JSON(w, http.StatusTooManyRequests, core.ErrorResponse{
		Error: core.ErrorBody{
			Code:    core.CodeRateLimited,
			Message: fmt.Sprintf("rate limit exceeded, retry after %d seconds", retryAfter),
		},
	})
}

const (
	bucketIdleTTL    = 10 * time.Minute
	bucketSweepEvery = 5 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// bucketSet is the in-process fallback. Idle buckets are swept on access
// instead of by a background goroutine.
type bucketSet struct {
	mu        sync.Mutex
	limit     redis_rate.Limit
	perSecond rate.Limit
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func newBucketSet(limit redis_rate.Limit) *bucketSet {
	perSecond := rate.Inf
	if limit.Period > 0 && limit.Rate > 0 {
		perSecond = rate.Limit(float64(limit.Rate) / limit.Period.Seconds())
	}

	return &bucketSet{
		limit:     limit,
		perSecond: perSecond,
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

func (s *bucketSet) allow(key string) *redis_rate.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.perSecond, s.limit.Burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now

	res := &redis_rate.Result{
		Limit:      s.limit,
		Remaining:  max(int(b.limiter.TokensAt(now)), 0),
		RetryAfter: -1,
		ResetAfter: s.interval(),
	}

	if b.limiter.AllowN(now, 1) {
		res.Allowed = 1
		res.Remaining = max(res.Remaining-1, 0)
		return res
	}

	res.RetryAfter = s.interval()
	return res
}

func (s *bucketSet) interval() time.Duration {
	if s.perSecond == rate.Inf || s.perSecond <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(s.perSecond))
}

func (s *bucketSet) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < bucketSweepEvery {
		return
	}
	s.lastSweep = now

	for key, b := range s.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(s.buckets, key)
		}
	}
}

func (s *bucketSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func PerMinute(rate, burst int) redis_rate.Limit {
	return PerWindow(rate, burst, time.Minute)
}

// PerWindow builds a limit of rate requests per arbitrary period.
func PerWindow(rate, burst int, period time.Duration) redis_rate.Limit {
	if period <= 0 {
		period = time.Minute
	}
	return redis_rate.Limit{
		Rate:   rate,
		Burst:  burst,
		Period: period,
	}
}
