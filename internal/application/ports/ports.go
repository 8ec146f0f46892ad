// Package ports defines the interfaces between application services and
// infrastructure. Services depend on these, never on concrete adapters.
package ports

import (
	"context"
	"time"

	"appraisal-backend/internal/domain/events"
	"appraisal-backend/internal/domain/valuation"
)

// Cache is the read/write surface domain services depend on. Implementations
// must treat a missing key as a normal outcome, not an error, and bound every
// operation with a timeout so callers can fall back to the source of truth.
type Cache interface {
	// Get retrieves the raw bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// GetObject retrieves and deserializes the value stored under key into dest.
	GetObject(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set stores value under key, overwriting any prior value.
	// A ttl <= 0 stores the entry without expiration.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetIfAbsent stores value only when key does not exist.
	// It reports whether the value was stored.
	SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// MGet retrieves multiple keys in one round-trip. The result is
	// positional: a missing key yields a nil slot at its index.
	MGet(ctx context.Context, keys []string) ([][]byte, error)

	// Delete removes the given keys. Deletion is best-effort: a failed
	// batch is logged and remaining batches still run.
	Delete(ctx context.Context, keys ...string) error
}

// KeyScanner iterates keys matching a glob pattern.
type KeyScanner interface {
	// Scan returns all keys matching pattern. It honors ctx cancellation
	// between pages, returning the keys collected so far with ctx.Err().
	Scan(ctx context.Context, pattern string, pageSize int64) ([]string, error)
}

// PatternInvalidator removes every key matching a glob pattern.
type PatternInvalidator interface {
	// DeleteByPattern returns the number of keys removed.
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}

// Warmer bulk-loads entries into the cache in one batch with a long TTL.
// A loader failure aborts the warm before any write.
type Warmer interface {
	Warm(ctx context.Context, load func(ctx context.Context) (map[string]interface{}, error)) (int, error)
}

// EventPublisher posts events to the in-process bus. Publishing is
// fire-and-forget: it never blocks and never fails.
type EventPublisher interface {
	Publish(event events.Event)
}

// ValuationReader loads appraisal data from the source of truth. The
// persistence layer behind it is outside this core; cache misses always
// fall back to these reads.
type ValuationReader interface {
	// LoadValuation returns the current valuation for an item.
	LoadValuation(ctx context.Context, itemID string) (*valuation.Valuation, error)

	// LoadMarketComparisons returns the comparable items backing an
	// item's valuation.
	LoadMarketComparisons(ctx context.Context, itemID string) ([]valuation.MarketComparison, error)

	// LoadActiveItemIDs returns the items eligible for cache warming.
	LoadActiveItemIDs(ctx context.Context) ([]string, error)
}

// TrendAnalyzer ingests price observations and detects sustained moves.
type TrendAnalyzer interface {
	// RecordAndAnalyze adds an observation and returns a trend when one
	// is detected, nil otherwise.
	RecordAndAnalyze(ctx context.Context, obs valuation.PriceObservation) (*valuation.Trend, error)

	// RecomputeGlobal refreshes aggregate trend state across all items.
	RecomputeGlobal(ctx context.Context) error

	// GlobalSummary returns the aggregate state produced by the last
	// RecomputeGlobal call.
	GlobalSummary() valuation.TrendSummary
}
