package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"appraisal-backend/internal/config"
	"appraisal-backend/internal/infrastructure/observability"
	apperrors "appraisal-backend/pkg/errors"
)

const (
	defaultOpTimeout    = 2 * time.Second
	defaultWarmTTL      = 24 * time.Hour
	deleteChunkSize     = 1000
	defaultScanPageSize = 100
)

// Loader produces the entries written during a cache warm. It is an alias
// so ports can describe warming without importing this package.
type Loader = func(ctx context.Context) (map[string]interface{}, error)

// RedisCache is a failure-tolerant facade over Redis. Every operation is
// bounded by a timeout and guarded by a circuit breaker; callers treat any
// error as a soft failure and fall back to the source of truth.
type RedisCache struct {
	client    redis.UniversalClient
	breaker   *gobreaker.CircuitBreaker
	opTimeout time.Duration
	warmTTL   time.Duration
	logger    *zap.Logger
	metrics   *observability.Collector

	hits     int64
	misses   int64
	timeouts int64
}

// NewRedisCache creates the facade with its own Redis client.
func NewRedisCache(cfg config.Cache, redisCfg config.Redis, logger *zap.Logger, metrics *observability.Collector) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         redisCfg.Addr(),
		Password:     redisCfg.Password,
		DB:           redisCfg.DB,
		PoolSize:     redisCfg.PoolSize,
		MinIdleConns: redisCfg.MinIdleConns,
		DialTimeout:  redisCfg.DialTimeout,
		ReadTimeout:  redisCfg.ReadTimeout,
		WriteTimeout: redisCfg.WriteTimeout,
	})
	return NewRedisCacheWithClient(client, cfg, logger, metrics)
}

// NewRedisCacheWithClient creates the facade around an existing client.
func NewRedisCacheWithClient(client redis.UniversalClient, cfg config.Cache, logger *zap.Logger, metrics *observability.Collector) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	warmTTL := cfg.WarmTTL
	if warmTTL <= 0 {
		warmTTL = defaultWarmTTL
	}

	brk := cfg.Breaker
	if brk.MaxRequests == 0 {
		brk.MaxRequests = 3
	}
	if brk.FailureThreshold <= 0 {
		brk.FailureThreshold = 0.6
	}
	if brk.MinRequests == 0 {
		brk.MinRequests = 5
	}
	if brk.OpenTimeout <= 0 {
		brk.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache",
		MaxRequests: brk.MaxRequests,
		Interval:    brk.Interval,
		Timeout:     brk.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < brk.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= brk.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &RedisCache{
		client:    client,
		breaker:   breaker,
		opTimeout: opTimeout,
		warmTTL:   warmTTL,
		logger:    logger,
		metrics:   metrics,
	}
}

// execute runs one remote operation under the operation timeout and the
// circuit breaker, classifying failures into the error taxonomy.
func (c *RedisCache) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn(opCtx)
	})

	c.metrics.RecordCacheOp(op, time.Since(start))

	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Warn("cache circuit open, rejecting operation",
			zap.String("operation", op))
		return apperrors.NewUnavailable("cache unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		atomic.AddInt64(&c.timeouts, 1)
		c.metrics.RecordCacheTimeout()
		c.logger.Warn("cache operation timed out",
			zap.String("operation", op),
			zap.Duration("timeout", c.opTimeout))
		return apperrors.NewTimeout("cache operation timed out", err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		c.metrics.RecordCacheError(op)
		c.logger.Error("cache operation failed",
			zap.String("operation", op),
			zap.Error(err))
		return apperrors.NewUnavailable("cache operation failed", err)
	}
}

// Get retrieves the raw bytes stored under key. A missing key is a normal
// outcome: (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var found bool

	err := c.execute(ctx, "get", func(ctx context.Context) error {
		data, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		value = data
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if found {
		atomic.AddInt64(&c.hits, 1)
		c.metrics.RecordCacheHit()
	} else {
		atomic.AddInt64(&c.misses, 1)
		c.metrics.RecordCacheMiss()
	}
	return value, found, nil
}

// GetObject retrieves and deserializes the value stored under key into dest.
func (c *RedisCache) GetObject(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key, overwriting any prior value. A ttl <= 0
// stores the entry without expiration.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := Marshal(value)
	if err != nil {
		return err
	}
	return c.execute(ctx, "set", func(ctx context.Context) error {
		return c.client.Set(ctx, key, data, normalizeTTL(ttl)).Err()
	})
}

// SetIfAbsent stores value only when key does not exist, reporting whether
// the write happened. Safe for distributed-lock use.
func (c *RedisCache) SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := Marshal(value)
	if err != nil {
		return false, err
	}

	var didSet bool
	err = c.execute(ctx, "setnx", func(ctx context.Context) error {
		ok, err := c.client.SetNX(ctx, key, data, normalizeTTL(ttl)).Result()
		if err != nil {
			return err
		}
		didSet = ok
		return nil
	})
	return didSet, err
}

// MGet retrieves multiple keys in one round-trip. The result is positional:
// a missing key yields a nil slot at its index.
func (c *RedisCache) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values := make([][]byte, len(keys))
	err := c.execute(ctx, "mget", func(ctx context.Context) error {
		raw, err := c.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, item := range raw {
			switch v := item.(type) {
			case string:
				values[i] = []byte(v)
			case []byte:
				values[i] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, v := range values {
		if v != nil {
			atomic.AddInt64(&c.hits, 1)
			c.metrics.RecordCacheHit()
		} else {
			atomic.AddInt64(&c.misses, 1)
			c.metrics.RecordCacheMiss()
		}
	}
	return values, nil
}

// Delete removes the given keys in chunks so no single request grows
// unbounded. Deletion is best-effort: a failed chunk is logged and the
// remaining chunks still run. An empty key list is a no-op.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	var failed int
	var firstErr error
	for start := 0; start < len(keys); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		err := c.execute(ctx, "del", func(ctx context.Context) error {
			return c.client.Del(ctx, chunk...).Err()
		})
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Warn("cache delete chunk failed",
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err))
		}
	}

	if firstErr != nil {
		return fmt.Errorf("delete failed for %d chunk(s): %w", failed, firstErr)
	}
	return nil
}

// Scan returns all keys matching pattern, iterating the cursor until it
// returns to zero. Cancellation is checked between pages; on cancellation
// the keys collected so far are returned together with ctx.Err().
func (c *RedisCache) Scan(ctx context.Context, pattern string, pageSize int64) ([]string, error) {
	if pageSize <= 0 {
		pageSize = defaultScanPageSize
	}

	var keys []string
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return keys, err
		}

		var page []string
		err := c.execute(ctx, "scan", func(ctx context.Context) error {
			var err error
			page, cursor, err = c.client.Scan(ctx, cursor, pattern, pageSize).Result()
			return err
		})
		if err != nil {
			return keys, err
		}

		keys = append(keys, page...)
		if cursor == 0 {
			return keys, nil
		}
	}
}

// DeleteByPattern removes every key matching pattern and returns the number
// of keys matched.
func (c *RedisCache) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := c.Scan(ctx, pattern, defaultScanPageSize)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.Delete(ctx, keys...); err != nil {
		return int64(len(keys)), err
	}
	return int64(len(keys)), nil
}

// Publish sends a message on a Redis pub/sub channel.
func (c *RedisCache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := Marshal(message)
	if err != nil {
		return err
	}
	return c.execute(ctx, "publish", func(ctx context.Context) error {
		return c.client.Publish(ctx, channel, data).Err()
	})
}

// Subscribe opens a subscription on the given channels. The caller owns the
// subscription and must Close it; messages flow until then.
func (c *RedisCache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}

// Warm invokes the loader and writes all returned entries in one pipelined
// round-trip with the warm TTL. A loader or encoding failure aborts the warm
// before any write. Returns the number of entries written.
func (c *RedisCache) Warm(ctx context.Context, load Loader) (int, error) {
	entries, err := load(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache warm loader failed: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	encoded := make(map[string][]byte, len(entries))
	for key, value := range entries {
		data, err := Marshal(value)
		if err != nil {
			return 0, fmt.Errorf("cache warm: encoding %q: %w", key, err)
		}
		encoded[key] = data
	}

	err = c.execute(ctx, "warm", func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		for key, data := range encoded {
			pipe.Set(ctx, key, data, c.warmTTL)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	c.logger.Info("cache warmed",
		zap.Int("entries", len(encoded)),
		zap.Duration("ttl", c.warmTTL))
	return len(encoded), nil
}

// Stats is a point-in-time snapshot of cache counters and pool state.
type Stats struct {
	Hits         int64     `json:"hits"`
	Misses       int64     `json:"misses"`
	Timeouts     int64     `json:"timeouts"`
	BreakerState string    `json:"breaker_state"`
	Pool         PoolStats `json:"pool"`
}

// PoolStats mirrors the connection pool counters of the underlying client.
type PoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// Stats returns current counters without touching the network.
func (c *RedisCache) Stats() Stats {
	pool := c.client.PoolStats()
	return Stats{
		Hits:         atomic.LoadInt64(&c.hits),
		Misses:       atomic.LoadInt64(&c.misses),
		Timeouts:     atomic.LoadInt64(&c.timeouts),
		BreakerState: c.breaker.State().String(),
		Pool: PoolStats{
			Hits:       pool.Hits,
			Misses:     pool.Misses,
			Timeouts:   pool.Timeouts,
			TotalConns: pool.TotalConns,
			IdleConns:  pool.IdleConns,
			StaleConns: pool.StaleConns,
		},
	}
}

// Ping checks connectivity to Redis.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.execute(ctx, "ping", func(ctx context.Context) error {
		return c.client.Ping(ctx).Err()
	})
}

// Close releases the client's connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}
