package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis instance and a client for it
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestCallKey_OrderIndependent(t *testing.T) {
	a := CallKey("GET", "http://x/api/companies", map[string]interface{}{"a": 1, "b": 2})
	b := CallKey("GET", "http://x/api/companies", map[string]interface{}{"b": 2, "a": 1})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, CallKey("POST", "http://x/api/companies", map[string]interface{}{"a": 1, "b": 2}))
	assert.NotEqual(t, a, CallKey("GET", "http://x/api/companies", map[string]interface{}{"a": 1}))
	assert.Equal(t, CallKey("GET", "u", nil), CallKey("GET", "u", map[string]interface{}{}))
}

func TestCallCache(t *testing.T) {
	cache := NewCallCache()

	_, ok := cache.Get("k")
	assert.False(t, ok)

	resp := ResponseFromValue(map[string]interface{}{"id": "7"})
	cache.Put("k", resp)

	got, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, resp, got)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
}

func TestSharedCache_HitAfterMiss(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewSharedCache(client, WithSharedCacheTTL(time.Minute))
	ctx := context.Background()

	var calls int32
	fetch := func(ctx context.Context) (Response, error) {
		atomic.AddInt32(&calls, 1)
		return ResponseFromValue(map[string]interface{}{"id": "7", "name": "Acme"}), nil
	}

	resp, hit, err := cache.Fetch(ctx, "GET:u:{}", "token-a", fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "Acme", resp.Object["name"])

	resp, hit, err = cache.Fetch(ctx, "GET:u:{}", "token-a", fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Acme", resp.Object["name"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestSharedCache_ScopedByToken(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewSharedCache(client)
	ctx := context.Background()

	var calls int32
	fetch := func(ctx context.Context) (Response, error) {
		atomic.AddInt32(&calls, 1)
		return ResponseFromValue([]interface{}{"x"}), nil
	}

	_, _, err := cache.Fetch(ctx, "GET:u:{}", "token-a", fetch)
	require.NoError(t, err)
	_, hit, err := cache.Fetch(ctx, "GET:u:{}", "token-b", fetch)
	require.NoError(t, err)

	assert.False(t, hit)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSharedCache_ErrorsAreNotCached(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewSharedCache(client)
	ctx := context.Background()

	boom := errors.New("boom")
	_, _, err := cache.Fetch(ctx, "k", "t", func(ctx context.Context) (Response, error) {
		return Response{}, boom
	})
	assert.ErrorIs(t, err, boom)

	_, hit, err := cache.Fetch(ctx, "k", "t", func(ctx context.Context) (Response, error) {
		return ResponseFromValue("ok"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSharedCache_RawTextSurvivesRoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewSharedCache(client)
	ctx := context.Background()

	fetch := func(ctx context.Context) (Response, error) {
		return ParseResponse([]byte("plain text")), nil
	}
	_, _, err := cache.Fetch(ctx, "k", "t", fetch)
	require.NoError(t, err)

	resp, hit, err := cache.Fetch(ctx, "k", "t", fetch)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, KindRawText, resp.Kind)
	assert.Equal(t, "plain text", resp.RawText)
}

func TestSharedCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewSharedCache(client)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (Response, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return ResponseFromValue(map[string]interface{}{"id": "1"}), nil
	}

	const callers = 5
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			resp, _, err := cache.Fetch(ctx, "same", "t", fetch)
			assert.NoError(t, err)
			assert.Equal(t, "1", resp.Object["id"])
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSharedCache_CanceledCallerDoesNotFailWaiters(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewSharedCache(client)

	var calls int32
	entered := make(chan struct{})
	release := make(chan struct{})
	var fetchErr error
	fetch := func(ctx context.Context) (Response, error) {
		atomic.AddInt32(&calls, 1)
		close(entered)
		<-release
		fetchErr = ctx.Err()
		return ResponseFromValue(map[string]interface{}{"id": "1"}), nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := cache.Fetch(firstCtx, "same", "t", fetch)
		firstErr <- err
	}()
	<-entered

	type result struct {
		resp Response
		err  error
	}
	second := make(chan result, 1)
	go func() {
		resp, _, err := cache.Fetch(context.Background(), "same", "t", fetch)
		second <- result{resp, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "1", got.resp.Object["id"])
	assert.NoError(t, fetchErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// the detached fetch still filled the cache
	resp, hit, err := cache.Fetch(context.Background(), "same", "t", fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "1", resp.Object["id"])
}

func TestSharedCache_RedisDownFallsThrough(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewSharedCache(client)
	mr.Close()

	resp, hit, err := cache.Fetch(context.Background(), "k", "t", func(ctx context.Context) (Response, error) {
		return ResponseFromValue("fresh"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", resp.Scalar)
}

func TestSharedCache_Expiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewSharedCache(client, WithSharedCacheTTL(time.Second), WithSharedCachePrefix("test:"))
	ctx := context.Background()

	fetch := func(ctx context.Context) (Response, error) {
		return ResponseFromValue("v"), nil
	}
	_, _, err := cache.Fetch(ctx, "k", "t", fetch)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 1)
	assert.Contains(t, mr.Keys()[0], "test:")

	mr.FastForward(2 * time.Second)
	_, hit, err := cache.Fetch(ctx, "k", "t", fetch)
	require.NoError(t, err)
	assert.False(t, hit)
}
