package events

// Type identifies a kind of domain event. The set is closed: producers
// use the constructors below rather than inventing ad-hoc types.
type Type string

const (
	// Valuation lifecycle events
	TypeValuationCreated Type = "valuation.created"
	TypeValuationUpdated Type = "valuation.updated"
	TypeValuationExpired Type = "valuation.expired"

	// Market data events
	TypeMarketDataUpdated Type = "market_data.updated"
	TypeComparisonFound   Type = "comparison.found"

	// Price events
	TypePriceChanged       Type = "price.changed"
	TypePriceTrendDetected Type = "price.trend_detected"

	// Appraisal request lifecycle events
	TypeRequestCreated   Type = "request.created"
	TypeRequestCompleted Type = "request.completed"
	TypeRequestFailed    Type = "request.failed"

	// Cache events
	TypeCacheInvalidated Type = "cache.invalidated"

	// Bulk operation events
	TypeBulkStarted   Type = "bulk.started"
	TypeBulkCompleted Type = "bulk.completed"
)

// allTypes lists every known event type, in declaration order.
var allTypes = []Type{
	TypeValuationCreated,
	TypeValuationUpdated,
	TypeValuationExpired,
	TypeMarketDataUpdated,
	TypeComparisonFound,
	TypePriceChanged,
	TypePriceTrendDetected,
	TypeRequestCreated,
	TypeRequestCompleted,
	TypeRequestFailed,
	TypeCacheInvalidated,
	TypeBulkStarted,
	TypeBulkCompleted,
}

// AllTypes returns every known event type.
func AllTypes() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event sources identify where events originate.
const (
	SourceValuation = "appraisal.valuation"
	SourceMarket    = "appraisal.market"
	SourceRequest   = "appraisal.request"
	SourceCache     = "appraisal.cache"
	SourceBulk      = "appraisal.bulk"
	SourceTrend     = "appraisal.trend"
	SourceBridge    = "appraisal.bridge"
)

// Data keys shared between producers and handlers.
const (
	KeyValue         = "value"
	KeyOldValue      = "old_value"
	KeyNewValue      = "new_value"
	KeyCurrency      = "currency"
	KeyOldPrice      = "old_price"
	KeyNewPrice      = "new_price"
	KeyDirection     = "direction"
	KeyChangePercent = "change_percent"
	KeyComparableID  = "comparable_id"
	KeySimilarity    = "similarity"
	KeySampleSize    = "sample_size"
	KeyRequestID     = "request_id"
	KeyReason        = "reason"
	KeyKeys          = "keys"
	KeyJobID         = "job_id"
	KeyItemCount     = "item_count"
	KeySucceeded     = "succeeded"
	KeyFailed        = "failed"
)

// Priority orders event dispatch. Lower values dispatch with less delay
// under load; the numeric order also defines the overflow cascade, which
// only moves from higher priority queues toward lower ones.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// String returns the priority name for logs and metrics labels.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ClassifyPriority maps an event type to its dispatch priority.
// Price movements, expirations, and failures are time-sensitive; bulk
// progress events tolerate delay; everything else is normal.
func ClassifyPriority(t Type) Priority {
	switch t {
	case TypePriceChanged, TypeValuationExpired, TypeRequestFailed:
		return PriorityHigh
	case TypeBulkStarted, TypeBulkCompleted:
		return PriorityLow
	default:
		return PriorityNormal
	}
}
