package cache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxBytes int64) (*Cache, *time.Time) {
	t.Helper()
	c := New(maxBytes, zerolog.Nop())
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })
	return c, &now
}

func TestSetRejectsNonPositiveTTL(t *testing.T) {
	c, _ := newTestCache(t, 0)

	assert.ErrorIs(t, c.Set("k", "v", 0), ErrInvalidTTL)
	assert.ErrorIs(t, c.Set("k", "v", -time.Second), ErrInvalidTTL)
}

func TestGetReturnsValueBeforeExpiry(t *testing.T) {
	c, now := newTestCache(t, 0)

	require.NoError(t, c.Set("price:AAPL", 187.5, time.Minute))

	v, ok := c.Get("price:AAPL")
	require.True(t, ok)
	assert.Equal(t, 187.5, v)

	*now = now.Add(59 * time.Second)
	_, ok = c.Get("price:AAPL")
	assert.True(t, ok)
}

func TestGetRemovesExpiredEntry(t *testing.T) {
	c, now := newTestCache(t, 0)

	require.NoError(t, c.Set("k", "v", time.Minute))
	*now = now.Add(time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 0, stats.EntryCount)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestLRUEvictionUnderByteBudget(t *testing.T) {
	// budget fits roughly two entries of this payload size
	payload := make([]byte, 400)
	c, _ := newTestCache(t, 1000)

	require.NoError(t, c.Set("a", payload, time.Hour))
	require.NoError(t, c.Set("b", payload, time.Hour))

	// touching a makes b the LRU victim
	_, ok := c.Get("a")
	require.True(t, ok)

	require.NoError(t, c.Set("c", payload, time.Hour))

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	assert.LessOrEqual(t, c.Stats().SizeBytes, int64(1000))
}

func TestDeleteAndClear(t *testing.T) {
	c, _ := newTestCache(t, 0)

	require.NoError(t, c.Set("k", 1, time.Hour))
	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"))

	require.NoError(t, c.Set("x", 1, time.Hour))
	require.NoError(t, c.Set("y", 2, time.Hour))
	c.Clear()
	assert.Equal(t, 0, c.Stats().EntryCount)
	assert.Equal(t, int64(0), c.Stats().SizeBytes)
}

func TestStatsEntriesSortedByRemainingTTL(t *testing.T) {
	c, _ := newTestCache(t, 0)

	require.NoError(t, c.Set("long", 1, time.Hour))
	require.NoError(t, c.Set("short", 2, time.Minute))
	require.NoError(t, c.Set("mid", 3, 10*time.Minute))

	stats := c.Stats()
	require.Len(t, stats.Entries, 3)
	assert.Equal(t, "short", stats.Entries[0].Key)
	assert.Equal(t, "mid", stats.Entries[1].Key)
	assert.Equal(t, "long", stats.Entries[2].Key)
}

func TestHitRate(t *testing.T) {
	c, _ := newTestCache(t, 0)

	require.NoError(t, c.Set("k", 1, time.Hour))
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestSetRefreshesExistingKey(t *testing.T) {
	c, now := newTestCache(t, 0)

	require.NoError(t, c.Set("k", "old", time.Minute))
	*now = now.Add(50 * time.Second)
	require.NoError(t, c.Set("k", "new", time.Minute))

	*now = now.Add(30 * time.Second)
	v, ok := c.Get("k")
	require.True(t, ok, "rewritten entry should use the fresh TTL")
	assert.Equal(t, "new", v)
}
