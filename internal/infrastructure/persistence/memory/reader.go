// Package memory provides an in-memory ValuationReader. It backs the
// development profile and tests, where no external source of truth is
// wired in; data is seeded explicitly.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"appraisal-backend/internal/domain/valuation"
	apperrors "appraisal-backend/pkg/errors"
)

// Reader is a seedable, concurrency-safe valuation source.
type Reader struct {
	mu          sync.RWMutex
	valuations  map[string]valuation.Valuation
	comparisons map[string][]valuation.MarketComparison
	logger      *zap.Logger
}

// NewReader creates an empty reader.
func NewReader(logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		valuations:  make(map[string]valuation.Valuation),
		comparisons: make(map[string][]valuation.MarketComparison),
		logger:      logger,
	}
}

// SeedValuation stores or replaces the valuation for an item.
func (r *Reader) SeedValuation(v valuation.Valuation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.valuations[v.ItemID] = v
}

// SeedComparisons stores or replaces the market comparisons for an item.
func (r *Reader) SeedComparisons(itemID string, comparisons []valuation.MarketComparison) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comparisons[itemID] = append([]valuation.MarketComparison(nil), comparisons...)
}

// SeedDemoData loads a small fixture set so the development profile has
// something to serve out of the box.
func (r *Reader) SeedDemoData() {
	now := time.Now().UTC()
	items := []struct {
		id    string
		value float64
	}{
		{"demo-watch", 4800},
		{"demo-guitar", 1250},
		{"demo-print", 390},
	}
	for _, item := range items {
		r.SeedValuation(valuation.Valuation{
			ItemID:     item.id,
			Value:      item.value,
			Currency:   "USD",
			Confidence: 0.85,
			Method:     valuation.MethodMarketComparison,
			ValuedAt:   now,
			ExpiresAt:  now.Add(24 * time.Hour),
		})
		r.SeedComparisons(item.id, []valuation.MarketComparison{
			{ItemID: item.id, ComparableID: item.id + "-comp-1", Price: item.value * 0.97, Similarity: 0.91, Source: "auction", ObservedAt: now},
			{ItemID: item.id, ComparableID: item.id + "-comp-2", Price: item.value * 1.04, Similarity: 0.88, Source: "marketplace", ObservedAt: now},
		})
	}
	r.logger.Info("demo data seeded", zap.Int("items", len(items)))
}

// LoadValuation returns a copy of the stored valuation for an item.
func (r *Reader) LoadValuation(ctx context.Context, itemID string) (*valuation.Valuation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.valuations[itemID]
	if !ok {
		return nil, apperrors.NewNotFound("valuation not found for item " + itemID)
	}
	return &v, nil
}

// LoadMarketComparisons returns a copy of the stored comparisons for an
// item. An item without comparisons yields an empty slice, not an error.
func (r *Reader) LoadMarketComparisons(ctx context.Context, itemID string) ([]valuation.MarketComparison, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.comparisons[itemID]
	out := make([]valuation.MarketComparison, len(stored))
	copy(out, stored)
	return out, nil
}

// LoadActiveItemIDs returns every item that has a valuation or
// comparisons, sorted for deterministic warming.
func (r *Reader) LoadActiveItemIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.valuations))
	for id := range r.valuations {
		seen[id] = struct{}{}
	}
	for id := range r.comparisons {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
