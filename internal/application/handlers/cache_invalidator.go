// Package handlers contains the built-in event handlers registered on the
// bus at startup: cache invalidation, audit logging, and trend analysis.
package handlers

import (
	"context"

	"go.uber.org/zap"

	"appraisal-backend/internal/application/ports"
	"appraisal-backend/internal/domain/events"
	"appraisal-backend/internal/infrastructure/cache"
)

// InvalidationStore is the cache surface invalidation needs.
type InvalidationStore interface {
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}

// CacheInvalidator evicts an item's cached valuation and market data when
// an event signals the underlying state changed, then clears the
// cross-item aggregates the change may have reordered. Eviction is best
// effort: failures are logged and swallowed because every cached read has
// a source-of-truth fallback anyway.
type CacheInvalidator struct {
	store     InvalidationStore
	keys      cache.KeyBuilder
	publisher ports.EventPublisher
	logger    *zap.Logger
}

// NewCacheInvalidator creates the invalidation handler. The publisher is
// optional; when present, a cache.invalidated event is emitted after each
// eviction so audit and remote instances can observe it.
func NewCacheInvalidator(store InvalidationStore, keys cache.KeyBuilder, publisher ports.EventPublisher, logger *zap.Logger) *CacheInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheInvalidator{
		store:     store,
		keys:      keys,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *CacheInvalidator) Name() string { return "cache-invalidator" }

func (h *CacheInvalidator) EventTypes() []events.Type {
	return []events.Type{
		events.TypeValuationCreated,
		events.TypeValuationUpdated,
		events.TypeValuationExpired,
		events.TypePriceChanged,
		events.TypeMarketDataUpdated,
		events.TypeComparisonFound,
	}
}

// Handle deletes the item-scoped keys, then the aggregate patterns.
// Events without an item identifier are ignored.
func (h *CacheInvalidator) Handle(ctx context.Context, event events.Event) error {
	if event.ItemID == "" {
		h.logger.Debug("invalidation skipped, event has no item id",
			zap.String("eventType", string(event.Type)),
			zap.String("eventID", event.ID),
		)
		return nil
	}

	keys := h.keys.ItemKeys(event.ItemID)
	if err := h.store.Delete(ctx, keys...); err != nil {
		h.logger.Warn("item key invalidation failed",
			zap.String("itemID", event.ItemID),
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}

	var removed int64
	for _, pattern := range h.keys.AggregatePatterns() {
		n, err := h.store.DeleteByPattern(ctx, pattern)
		if err != nil {
			h.logger.Warn("aggregate invalidation failed",
				zap.String("pattern", pattern),
				zap.Error(err),
			)
			continue
		}
		removed += n
	}

	h.logger.Debug("cache invalidated",
		zap.String("itemID", event.ItemID),
		zap.String("eventType", string(event.Type)),
		zap.Int("itemKeys", len(keys)),
		zap.Int64("aggregateKeys", removed),
	)

	if h.publisher != nil {
		h.publisher.Publish(events.NewCacheInvalidated(event.ItemID, keys))
	}
	return nil
}
