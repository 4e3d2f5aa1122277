package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "price:AAPL:any", 123.45, time.Minute))

	value, ok, err := c.Get(ctx, "price:AAPL:any")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 123.45, value)

	_, ok, err = c.Get(ctx, "price:MSFT:any")
	require.NoError(t, err)
	assert.False(t, ok)

	hits, misses, entries := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, entries)
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	c := NewMemoryCache(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entries read as misses")

	_, _, entries := c.Stats()
	assert.Equal(t, 0, entries, "expired entries are removed on read")
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	c := NewMemoryCache(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "b", 2, time.Minute))
	time.Sleep(time.Millisecond)

	// Touch "a" so "b" becomes the least recently used
	_, ok, _ := c.Get(ctx, "a")
	require.True(t, ok)
	time.Sleep(time.Millisecond)

	require.NoError(t, c.Set(ctx, "c", 3, time.Minute))

	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok, "LRU entry is evicted at capacity")
	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemoryCacheDeletePattern(t *testing.T) {
	c := NewMemoryCache(10)
	defer c.Close()
	ctx := context.Background()

	for _, key := range []string{"price:AAPL:any", "price:AAPL:1d", "price:MSFT:any", "news:AAPL:any"} {
		require.NoError(t, c.Set(ctx, key, 1, time.Minute))
	}

	removed, err := c.DeletePattern(ctx, "price:AAPL:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok, _ := c.Get(ctx, "price:MSFT:any")
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, "news:AAPL:any")
	assert.True(t, ok)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "price:AAPL:any", Key("price", "AAPL", ""))
	assert.Equal(t, "ohlcv:BTC:1d", Key("ohlcv", "BTC", "1d"))
	assert.Equal(t, "narrative:BTC:en:general", NarrativeKey("BTC", "en", "general"))
}
