// Package events defines the domain events exchanged over the event bus,
// their priorities, and the handler contract.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record of something that happened in the domain.
// Producers create events through the typed constructors so the type set
// and payload keys stay consistent across the system.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ItemID    string                 `json:"item_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
}

// Priority returns the dispatch priority for this event's type.
func (e Event) Priority() Priority {
	return ClassifyPriority(e.Type)
}

// New creates an event with a fresh ID and the current time.
func New(typ Type, source string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewValuationCreated records a new valuation for an item.
func NewValuationCreated(itemID, userID string, value float64, currency string) Event {
	e := New(TypeValuationCreated, SourceValuation, map[string]interface{}{
		KeyValue:    value,
		KeyCurrency: currency,
	})
	e.ItemID = itemID
	e.UserID = userID
	return e
}

// NewValuationUpdated records a change to an existing valuation.
func NewValuationUpdated(itemID, userID string, oldValue, newValue float64) Event {
	e := New(TypeValuationUpdated, SourceValuation, map[string]interface{}{
		KeyOldValue: oldValue,
		KeyNewValue: newValue,
	})
	e.ItemID = itemID
	e.UserID = userID
	return e
}

// NewValuationExpired records that an item's valuation passed its validity
// window and must be recomputed.
func NewValuationExpired(itemID string) Event {
	e := New(TypeValuationExpired, SourceValuation, nil)
	e.ItemID = itemID
	return e
}

// NewMarketDataUpdated records fresh market observations for an item.
func NewMarketDataUpdated(itemID string, sampleSize int) Event {
	e := New(TypeMarketDataUpdated, SourceMarket, map[string]interface{}{
		KeySampleSize: sampleSize,
	})
	e.ItemID = itemID
	return e
}

// NewComparisonFound records a newly discovered comparable item.
func NewComparisonFound(itemID, comparableID string, similarity float64) Event {
	e := New(TypeComparisonFound, SourceMarket, map[string]interface{}{
		KeyComparableID: comparableID,
		KeySimilarity:   similarity,
	})
	e.ItemID = itemID
	return e
}

// NewPriceChanged records a market price movement for an item.
func NewPriceChanged(itemID string, oldPrice, newPrice float64) Event {
	e := New(TypePriceChanged, SourceMarket, map[string]interface{}{
		KeyOldPrice: oldPrice,
		KeyNewPrice: newPrice,
	})
	e.ItemID = itemID
	return e
}

// NewPriceTrendDetected records a sustained directional price movement.
func NewPriceTrendDetected(itemID, direction string, changePercent float64) Event {
	e := New(TypePriceTrendDetected, SourceTrend, map[string]interface{}{
		KeyDirection:     direction,
		KeyChangePercent: changePercent,
	})
	e.ItemID = itemID
	return e
}

// NewRequestCreated records a new appraisal request.
func NewRequestCreated(requestID, userID, itemID string) Event {
	e := New(TypeRequestCreated, SourceRequest, map[string]interface{}{
		KeyRequestID: requestID,
	})
	e.ItemID = itemID
	e.UserID = userID
	return e
}

// NewRequestCompleted records a finished appraisal request.
func NewRequestCompleted(requestID, userID, itemID string) Event {
	e := New(TypeRequestCompleted, SourceRequest, map[string]interface{}{
		KeyRequestID: requestID,
	})
	e.ItemID = itemID
	e.UserID = userID
	return e
}

// NewRequestFailed records an appraisal request that could not complete.
func NewRequestFailed(requestID, userID, reason string) Event {
	e := New(TypeRequestFailed, SourceRequest, map[string]interface{}{
		KeyRequestID: requestID,
		KeyReason:    reason,
	})
	e.UserID = userID
	return e
}

// NewCacheInvalidated records cache keys removed in response to a change.
func NewCacheInvalidated(itemID string, keys []string) Event {
	e := New(TypeCacheInvalidated, SourceCache, map[string]interface{}{
		KeyKeys: keys,
	})
	e.ItemID = itemID
	return e
}

// NewBulkStarted records the start of a bulk valuation job.
func NewBulkStarted(jobID string, itemCount int) Event {
	e := New(TypeBulkStarted, SourceBulk, map[string]interface{}{
		KeyJobID:     jobID,
		KeyItemCount: itemCount,
	})
	return e
}

// NewBulkCompleted records the completion of a bulk valuation job.
func NewBulkCompleted(jobID string, succeeded, failed int) Event {
	e := New(TypeBulkCompleted, SourceBulk, map[string]interface{}{
		KeyJobID:     jobID,
		KeySucceeded: succeeded,
		KeyFailed:    failed,
	})
	return e
}
