package orchestration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"

	"github.com/itsneelabh/apiflow/core"
)

// CacheStats provides cache performance metrics
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// CallKey builds the deduplication key of an upstream call. Parameters are
// the query parameters for GET/DELETE and the body for POST/PUT.
// encoding/json writes map keys in sorted order, so the key does not depend
// on map iteration order.
func CallKey(method, url string, params map[string]interface{}) string {
	if params == nil {
		params = map[string]interface{}{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", params))
	}
	return method + ":" + url + ":" + string(data)
}

// CallCache is the per-run call cache. It never evicts and only ever holds
// successful responses. A new one is created for every plan run.
type CallCache struct {
	mu      sync.RWMutex
	entries map[string]Response
	stats   CacheStats
}

// NewCallCache creates an empty per-run cache.
func NewCallCache() *CallCache {
	return &CallCache{entries: make(map[string]Response)}
}

// Get returns a cached response.
func (c *CallCache) Get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, ok := c.entries[key]
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return resp, ok
}

// Put stores a response.
func (c *CallCache) Put(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = resp
	c.stats.Size = len(c.entries)
}

// Stats returns cache statistics
func (c *CallCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// FetchFunc performs the underlying upstream call.
type FetchFunc func(ctx context.Context) (Response, error)

// SharedCache is the optional cross-request cache for idempotent GETs.
// Entries live in Redis with a TTL, are scoped by a hash of the caller's
// bearer token and concurrent misses on one key share a single fetch.
type SharedCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	group  singleflight.Group
	logger core.Logger

	hits   int64
	misses int64
}

// SharedCacheOption customizes the shared cache.
type SharedCacheOption func(*SharedCache)

// WithSharedCacheTTL sets the TTL of cached responses.
func WithSharedCacheTTL(ttl time.Duration) SharedCacheOption {
	return func(c *SharedCache) {
		c.ttl = ttl
	}
}

// WithSharedCachePrefix sets the Redis key prefix.
func WithSharedCachePrefix(prefix string) SharedCacheOption {
	return func(c *SharedCache) {
		c.prefix = prefix
	}
}

// NewSharedCache creates a Redis-backed shared cache.
func NewSharedCache(client *redis.Client, opts ...SharedCacheOption) *SharedCache {
	c := &SharedCache{
		client: client,
		ttl:    30 * time.Second,
		prefix: "apiflow:cache:",
		logger: &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLogger sets the logger
func (c *SharedCache) SetLogger(logger core.Logger) {
	if logger == nil {
		c.logger = &core.NoOpLogger{}
	} else {
		c.logger = logger
	}
}

// Fetch returns the cached response for the call or runs fetch once for all
// concurrent callers. Only successful responses are stored.
//
// The shared fetch does not inherit the cancellation of the caller that
// started it, so one canceled request cannot fail the others waiting on the
// same key. fetch must bound itself; the executor applies its call timeout.
// Each caller still returns as soon as its own context is done.
func (c *SharedCache) Fetch(ctx context.Context, callKey, authToken string, fetch FetchFunc) (Response, bool, error) {
	key := c.redisKey(callKey, authToken)

	if resp, ok := c.get(ctx, key); ok {
		return resp, true, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		resp, err := fetch(detached)
		if err != nil {
			return nil, err
		}
		c.set(detached, key, resp)
		return resp, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Response{}, false, res.Err
		}
		return res.Val.(Response), false, nil
	case <-ctx.Done():
		return Response{}, false, ctx.Err()
	}
}

func (c *SharedCache) get(ctx context.Context, key string) (Response, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&c.misses, 1)
		return Response{}, false
	}
	if err != nil {
		// Redis error - degrade gracefully
		atomic.AddInt64(&c.misses, 1)
		c.logger.Warn("Shared cache read failed", map[string]interface{}{
			"operation": "shared_cache_get",
			"error":     err.Error(),
		})
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return Response{}, false
	}
	atomic.AddInt64(&c.hits, 1)
	return resp, true
}

func (c *SharedCache) set(ctx context.Context, key string, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Shared cache write failed", map[string]interface{}{
			"operation": "shared_cache_set",
			"error":     err.Error(),
		})
	}
}

func (c *SharedCache) redisKey(callKey, authToken string) string {
	h := sha256.New()
	h.Write([]byte(authToken))
	h.Write([]byte{0})
	h.Write([]byte(callKey))
	return c.prefix + hex.EncodeToString(h.Sum(nil))
}

// Stats returns cache performance statistics for monitoring.
func (c *SharedCache) Stats() CacheStats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	stats := CacheStats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}
