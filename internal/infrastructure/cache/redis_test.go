package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"appraisal-backend/internal/config"
	apperrors "appraisal-backend/pkg/errors"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	cfg := config.Cache{
		OpTimeout: 2 * time.Second,
		WarmTTL:   24 * time.Hour,
		Breaker: config.Breaker{
			MaxRequests:      3,
			OpenTimeout:      30 * time.Second,
			FailureThreshold: 0.6,
			MinRequests:      100, // keep the breaker out of functional tests
		},
	}

	c := NewRedisCacheWithClient(client, cfg, zap.NewNop(), nil)
	t.Cleanup(func() { c.Close() })
	return c, s
}

func TestGetSetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	payload := samplePayload{ItemID: "item-1", Value: 150}
	require.NoError(t, c.Set(ctx, "k", payload, time.Minute))

	var decoded samplePayload
	found, err := c.GetObject(ctx, "k", &decoded)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload, decoded)
}

func TestGetMissingIsNotError(t *testing.T) {
	c, _ := newTestCache(t)

	value, found, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)
}

func TestSetRawStringStoredVerbatim(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "raw", "hello", time.Minute))

	stored, err := s.Get("raw")
	require.NoError(t, err)
	assert.Equal(t, "hello", stored, "no framing added to raw strings")
}

func TestSetZeroTTLMeansNoExpiration(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "forever", "v", 0))
	require.NoError(t, c.Set(ctx, "negative", "v", -time.Second))
	require.NoError(t, c.Set(ctx, "bounded", "v", time.Minute))

	assert.Zero(t, s.TTL("forever"))
	assert.Zero(t, s.TTL("negative"))
	assert.Equal(t, time.Minute, s.TTL("bounded"))

	// Entries without expiration survive arbitrary time passing.
	s.FastForward(48 * time.Hour)
	_, found, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = c.Get(ctx, "bounded")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetIfAbsent(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	didSet, err := c.SetIfAbsent(ctx, "lock", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, didSet)

	didSet, err = c.SetIfAbsent(ctx, "lock", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, didSet, "existing key is never overwritten")

	value, found, err := c.Get(ctx, "lock")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("owner-1"), value)
}

func TestMGetPositionalSlots(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, c.Set(ctx, "c", "3", time.Minute))

	values, err := c.MGet(ctx, []string{"a", "missing", "c"})
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []byte("1"), values[0])
	assert.Nil(t, values[1], "missing key yields a nil slot, not an error")
	assert.Equal(t, []byte("3"), values[2])
}

func TestDeleteEmptyIsNoOp(t *testing.T) {
	c, _ := newTestCache(t)
	assert.NoError(t, c.Delete(context.Background()))
}

func TestDeleteChunksLargeKeySets(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	// More keys than one delete chunk holds.
	keys := make([]string, deleteChunkSize+5)
	for i := range keys {
		keys[i] = "bulk:" + strconv.Itoa(i)
		require.NoError(t, s.Set(keys[i], "x"))
	}

	require.NoError(t, c.Delete(ctx, keys...))
	for _, key := range keys {
		assert.False(t, s.Exists(key))
	}
}

func TestScanCollectsMatchingKeys(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, s.Set("valuation:top:1", "x"))
	require.NoError(t, s.Set("valuation:top:2", "x"))
	require.NoError(t, s.Set("market:summary:1", "x"))

	keys, err := c.Scan(ctx, "valuation:top:*", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"valuation:top:1", "valuation:top:2"}, keys)
}

func TestScanHonorsCancellation(t *testing.T) {
	c, s := newTestCache(t)

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Set("k:"+string(rune('a'+i%26))+string(rune('0'+i%10)), "x"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Scan(ctx, "k:*", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeleteByPattern(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, s.Set("market:summary:day", "x"))
	require.NoError(t, s.Set("market:summary:week", "x"))
	require.NoError(t, s.Set("market:comparisons:item-1", "x"))

	count, err := c.DeleteByPattern(ctx, "market:summary:*")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	assert.False(t, s.Exists("market:summary:day"))
	assert.False(t, s.Exists("market:summary:week"))
	assert.True(t, s.Exists("market:comparisons:item-1"))
}

func TestWarmWritesAllEntries(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	count, err := c.Warm(ctx, func(ctx context.Context) (map[string]interface{}, error) {
		return map[string]interface{}{
			"valuation:current:1": samplePayload{ItemID: "1", Value: 10},
			"valuation:current:2": samplePayload{ItemID: "2", Value: 20},
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.True(t, s.Exists("valuation:current:1"))
	assert.True(t, s.Exists("valuation:current:2"))
	assert.Equal(t, 24*time.Hour, s.TTL("valuation:current:1"), "warm entries get the long TTL")

	var decoded samplePayload
	found, err := c.GetObject(ctx, "valuation:current:2", &decoded)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 20.0, decoded.Value)
}

func TestWarmLoaderFailureWritesNothing(t *testing.T) {
	c, s := newTestCache(t)

	count, err := c.Warm(context.Background(), func(ctx context.Context) (map[string]interface{}, error) {
		return nil, assert.AnError
	})
	require.Error(t, err)
	assert.Zero(t, count)
	assert.Empty(t, s.Keys(), "a failed loader aborts the warm before any write")
}

func TestPublishSubscribe(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	sub := c.Subscribe(ctx, "updates")
	defer sub.Close()

	// Wait for the subscription to be established.
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "updates", "price moved"))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "updates", msg.Channel)
		assert.Equal(t, "price moved", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestStatsCountsHitsAndMisses(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	_, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	_, _, err = c.Get(ctx, "absent")
	require.NoError(t, err)
	_, _, err = c.Get(ctx, "absent")
	require.NoError(t, err)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 2, stats.Misses)
	assert.Equal(t, "closed", stats.BreakerState)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	cfg := config.Cache{
		OpTimeout: 200 * time.Millisecond,
		Breaker: config.Breaker{
			MaxRequests:      1,
			OpenTimeout:      time.Minute,
			FailureThreshold: 0.5,
			MinRequests:      3,
		},
	}
	c := NewRedisCacheWithClient(client, cfg, zap.NewNop(), nil)
	defer c.Close()

	// Kill the server so every operation fails.
	s.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, err := c.Get(ctx, "k")
		require.Error(t, err)
	}

	_, _, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))
	assert.Equal(t, "open", c.Stats().BreakerState)
}

func TestPing(t *testing.T) {
	c, s := newTestCache(t)
	require.NoError(t, c.Ping(context.Background()))

	s.Close()
	assert.Error(t, c.Ping(context.Background()))
}
