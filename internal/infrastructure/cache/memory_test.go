package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryGetSetRoundTrip(t *testing.T) {
	c := NewMemoryCache(100, zap.NewNop())
	ctx := context.Background()

	payload := samplePayload{ItemID: "item-1", Value: 42}
	require.NoError(t, c.Set(ctx, "k", payload, time.Minute))

	var decoded samplePayload
	found, err := c.GetObject(ctx, "k", &decoded)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload, decoded)
}

func TestMemoryMissingKey(t *testing.T) {
	c := NewMemoryCache(100, zap.NewNop())

	value, found, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	c := NewMemoryCache(100, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "forever", "v", 0))
	require.NoError(t, c.Set(ctx, "brief", "v", time.Millisecond))

	time.Sleep(10 * time.Millisecond)

	_, found, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = c.Get(ctx, "brief")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryLRUEviction(t *testing.T) {
	c := NewMemoryCache(3, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, c.Set(ctx, "k"+strconv.Itoa(i), "v", 0))
	}

	// Touch k1 so k2 becomes the eviction candidate.
	_, _, err := c.Get(ctx, "k1")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k4", "v", 0))

	_, found, _ := c.Get(ctx, "k1")
	assert.True(t, found)
	_, found, _ = c.Get(ctx, "k2")
	assert.False(t, found, "least recently used entry is evicted")
	_, found, _ = c.Get(ctx, "k4")
	assert.True(t, found)

	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestMemorySetIfAbsent(t *testing.T) {
	c := NewMemoryCache(100, zap.NewNop())
	ctx := context.Background()

	didSet, err := c.SetIfAbsent(ctx, "lock", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, didSet)

	didSet, err = c.SetIfAbsent(ctx, "lock", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, didSet)

	value, found, err := c.Get(ctx, "lock")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("owner-1"), value)
}

func TestMemorySetIfAbsentReplacesExpired(t *testing.T) {
	c := NewMemoryCache(100, zap.NewNop())
	ctx := context.Background()

	_, err := c.SetIfAbsent(ctx, "lock", "owner-1", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	didSet, err := c.SetIfAbsent(ctx, "lock", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, didSet, "expired entry does not block the write")
}

func TestMemoryMGetPositionalSlots(t *testing.T) {
	c := NewMemoryCache(100, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "c", "3", 0))

	values, err := c.MGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []byte("1"), values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, []byte("3"), values[2])
}

func TestMemoryDeleteEmptyIsNoOp(t *testing.T) {
	c := NewMemoryCache(100, zap.NewNop())
	assert.NoError(t, c.Delete(context.Background()))
}

func TestMemoryDeleteByPattern(t *testing.T) {
	c := NewMemoryCache(100, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "valuation:top:day", "x", 0))
	require.NoError(t, c.Set(ctx, "valuation:top:week", "x", 0))
	require.NoError(t, c.Set(ctx, "valuation:item:1", "x", 0))

	count, err := c.DeleteByPattern(ctx, "valuation:top:*")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	_, found, _ := c.Get(ctx, "valuation:item:1")
	assert.True(t, found)
}

func TestMemoryScan(t *testing.T) {
	c := NewMemoryCache(100, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "market:summary:day", "x", 0))
	require.NoError(t, c.Set(ctx, "market:summary:week", "x", 0))
	require.NoError(t, c.Set(ctx, "other", "x", 0))

	keys, err := c.Scan(ctx, "market:summary:*", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"market:summary:day", "market:summary:week"}, keys)
}

func TestMemoryStats(t *testing.T) {
	c := NewMemoryCache(100, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	c.Get(ctx, "k")
	c.Get(ctx, "absent")

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Items)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		str     string
		pattern string
		want    bool
	}{
		{"anything", "*", true},
		{"valuation:top:day", "valuation:top:*", true},
		{"valuation:item:1", "valuation:top:*", false},
		{"file.json", "*.json", true},
		{"file.yaml", "*.json", false},
		{"exact", "exact", true},
		{"exact", "other", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.str, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPattern(tt.str, tt.pattern))
		})
	}
}
