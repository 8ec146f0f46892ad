package cache

// KeyBuilder constructs the cache key namespace. An optional prefix isolates
// environments sharing one Redis database; an empty prefix produces bare keys.
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates a key builder with the given namespace prefix.
func NewKeyBuilder(prefix string) KeyBuilder {
	return KeyBuilder{prefix: prefix}
}

func (b KeyBuilder) join(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + ":" + key
}

// ValuationCurrent is the key holding an item's current valuation.
func (b KeyBuilder) ValuationCurrent(itemID string) string {
	return b.join("valuation:current:" + itemID)
}

// ValuationItem is the key holding an item's full valuation record.
func (b KeyBuilder) ValuationItem(itemID string) string {
	return b.join("valuation:item:" + itemID)
}

// MarketComparisons is the key holding an item's comparable listings.
func (b KeyBuilder) MarketComparisons(itemID string) string {
	return b.join("market:comparisons:" + itemID)
}

// TrendItem is the key holding an item's detected trend.
func (b KeyBuilder) TrendItem(itemID string) string {
	return b.join("trend:item:" + itemID)
}

// TrendGlobal is the key holding the aggregate trend summary.
func (b KeyBuilder) TrendGlobal() string {
	return b.join("trend:global")
}

// Lock is the key for a named distributed lock.
func (b KeyBuilder) Lock(name string) string {
	return b.join("lock:" + name)
}

// ValuationTopPattern matches the ranked-valuation aggregate keys.
func (b KeyBuilder) ValuationTopPattern() string {
	return b.join("valuation:top:*")
}

// MarketSummaryPattern matches the market summary aggregate keys.
func (b KeyBuilder) MarketSummaryPattern() string {
	return b.join("market:summary:*")
}

// ItemKeys returns every item-scoped key invalidated when an item changes.
func (b KeyBuilder) ItemKeys(itemID string) []string {
	return []string{
		b.ValuationCurrent(itemID),
		b.ValuationItem(itemID),
		b.MarketComparisons(itemID),
	}
}

// AggregatePatterns returns the key patterns holding cross-item aggregates,
// invalidated wholesale when any item changes.
func (b KeyBuilder) AggregatePatterns() []string {
	return []string{
		b.ValuationTopPattern(),
		b.MarketSummaryPattern(),
	}
}
