package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/itsneelabh/apiflow/core"
)

// RateLimiter decides whether a client may issue another request.
type RateLimiter interface {
	// Allow records one request for key. When the request is refused it
	// returns the number of seconds after which a retry may succeed.
	Allow(ctx context.Context, key string) (allowed bool, retryAfter int)
}

// RedisRateLimiter is a sliding one-minute window shared by every replica.
// Each request is a member of a sorted set scored by its timestamp.
type RedisRateLimiter struct {
	client            *redis.Client
	requestsPerMinute int
	prefix            string
	logger            core.Logger
	telemetry         core.Telemetry

	now func() time.Time
}

// NewRedisRateLimiter creates a limiter allowing requestsPerMinute per key.
func NewRedisRateLimiter(client *redis.Client, requestsPerMinute int) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:            client,
		requestsPerMinute: requestsPerMinute,
		prefix:            "apiflow:ratelimit:",
		logger:            &core.NoOpLogger{},
		telemetry:         &core.NoOpTelemetry{},
		now:               time.Now,
	}
}

// SetLogger sets the logger
func (r *RedisRateLimiter) SetLogger(logger core.Logger) {
	if logger == nil {
		r.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		r.logger = cal.WithComponent("apiflow/ratelimit")
	} else {
		r.logger = logger
	}
}

// SetTelemetry sets the telemetry provider
func (r *RedisRateLimiter) SetTelemetry(t core.Telemetry) {
	if t == nil {
		r.telemetry = &core.NoOpTelemetry{}
	} else {
		r.telemetry = t
	}
}

// Allow implements RateLimiter. Redis failures let the request through.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int) {
	now := r.now()
	windowStart := now.Add(-time.Minute)
	redisKey := r.prefix + key
	minScore := strconv.FormatInt(windowStart.UnixMicro(), 10)

	if err := r.client.ZRemRangeByScore(ctx, redisKey, "0", "("+minScore).Err(); err != nil {
		r.failOpen(key, err)
		return true, 0
	}
	count, err := r.client.ZCount(ctx, redisKey, minScore, "+inf").Result()
	if err != nil {
		r.failOpen(key, err)
		return true, 0
	}

	if count >= int64(r.requestsPerMinute) {
		retryAfter := 60
		oldest, err := r.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err == nil && len(oldest) == 1 {
			expires := time.UnixMicro(int64(oldest[0].Score)).Add(time.Minute)
			retryAfter = int(expires.Sub(now).Seconds()) + 1
		}
		if retryAfter < 1 {
			retryAfter = 1
		}
		r.logger.Warn("Rate limit exceeded", map[string]interface{}{
			"operation":   "rate_limit",
			"key":         key,
			"count":       count,
			"limit":       r.requestsPerMinute,
			"retry_after": retryAfter,
		})
		r.telemetry.RecordMetric("apiflow.ratelimit.rejected", 1, nil)
		return false, retryAfter
	}

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, redisKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		r.failOpen(key, err)
	}
	return true, 0
}

func (r *RedisRateLimiter) failOpen(key string, err error) {
	r.logger.Error("Rate limiter unavailable, allowing request", map[string]interface{}{
		"operation": "rate_limit",
		"key":       key,
		"error":     err.Error(),
	})
}

// RateLimitMiddleware rejects requests over the limit with 429. Clients are
// identified by bearer token, or by address when anonymous.
func RateLimitMiddleware(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(r.Context(), clientKey(r))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests,
					fmt.Sprintf("rate limit exceeded, retry in %ds", retryAfter),
					RequestIDFromContext(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "token:" + hex.EncodeToString(sum[:8])
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return "ip:" + strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
