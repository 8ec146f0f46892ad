// Package valuation holds the core appraisal domain types.
package valuation

import (
	"time"
)

// Method identifies how a valuation was produced.
type Method string

const (
	MethodMarketComparison Method = "market_comparison"
	MethodManual           Method = "manual"
	MethodModelEstimate    Method = "model_estimate"
)

// Valuation is the appraised value of an item at a point in time.
type Valuation struct {
	ItemID     string    `json:"item_id" msgpack:"item_id"`
	Value      float64   `json:"value" msgpack:"value"`
	Currency   string    `json:"currency" msgpack:"currency"`
	Confidence float64   `json:"confidence" msgpack:"confidence"`
	Method     Method    `json:"method" msgpack:"method"`
	ValuedAt   time.Time `json:"valued_at" msgpack:"valued_at"`
	ExpiresAt  time.Time `json:"expires_at" msgpack:"expires_at"`
}

// IsExpired reports whether the valuation has passed its validity window.
func (v Valuation) IsExpired(now time.Time) bool {
	return !v.ExpiresAt.IsZero() && now.After(v.ExpiresAt)
}

// MarketComparison is a comparable item observed on the market, used to
// support a valuation.
type MarketComparison struct {
	ItemID       string    `json:"item_id" msgpack:"item_id"`
	ComparableID string    `json:"comparable_id" msgpack:"comparable_id"`
	Price        float64   `json:"price" msgpack:"price"`
	Similarity   float64   `json:"similarity" msgpack:"similarity"`
	Source       string    `json:"source" msgpack:"source"`
	ObservedAt   time.Time `json:"observed_at" msgpack:"observed_at"`
}

// PriceObservation is a single market price sample for an item.
type PriceObservation struct {
	ItemID     string    `json:"item_id" msgpack:"item_id"`
	Price      float64   `json:"price" msgpack:"price"`
	ObservedAt time.Time `json:"observed_at" msgpack:"observed_at"`
}

// TrendDirection classifies a sustained price movement.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendFlat    TrendDirection = "flat"
)

// Trend describes a detected directional price movement for an item.
type Trend struct {
	ItemID        string         `json:"item_id" msgpack:"item_id"`
	Direction     TrendDirection `json:"direction" msgpack:"direction"`
	ChangePercent float64        `json:"change_percent" msgpack:"change_percent"`
	Observations  int            `json:"observations" msgpack:"observations"`
	DetectedAt    time.Time      `json:"detected_at" msgpack:"detected_at"`
}

// TrendSummary aggregates the latest per-item trend directions across the
// whole market.
type TrendSummary struct {
	Rising       int       `json:"rising" msgpack:"rising"`
	Falling      int       `json:"falling" msgpack:"falling"`
	Flat         int       `json:"flat" msgpack:"flat"`
	TrackedItems int       `json:"tracked_items" msgpack:"tracked_items"`
	RecomputedAt time.Time `json:"recomputed_at" msgpack:"recomputed_at"`
}
