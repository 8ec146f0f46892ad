// Package api defines the contracts for API requests and responses.
// It decouples the API surface from the internal domain models.
package api

import "time"

// SubmitValuationRequest is the expected body for a POST valuation request.
type SubmitValuationRequest struct {
	Value      float64 `json:"value"`
	Currency   string  `json:"currency"`
	Confidence float64 `json:"confidence,omitempty"`
	Method     string  `json:"method,omitempty"`
}

// PriceChangeRequest is the expected body for a POST price-change request.
type PriceChangeRequest struct {
	OldPrice float64 `json:"old_price"`
	NewPrice float64 `json:"new_price"`
}

// BulkRevalueRequest is the expected body for a POST bulk-revalue
// request.
type BulkRevalueRequest struct {
	ItemIDs []string `json:"item_ids"`
}

// BulkRevalueResponse reports the outcome of a bulk revaluation job.
type BulkRevalueResponse struct {
	JobID     string   `json:"job_id"`
	Requested int      `json:"requested"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// ValuationResponse is the API representation of a valuation.
type ValuationResponse struct {
	ItemID     string  `json:"item_id"`
	Value      float64 `json:"value"`
	Currency   string  `json:"currency"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	ValuedAt   string  `json:"valued_at"`
	ExpiresAt  string  `json:"expires_at,omitempty"`
}

// ComparisonResponse is the API representation of one market comparison.
type ComparisonResponse struct {
	ComparableID string  `json:"comparable_id"`
	Price        float64 `json:"price"`
	Similarity   float64 `json:"similarity"`
	Source       string  `json:"source,omitempty"`
	ObservedAt   string  `json:"observed_at"`
}

// ComparisonsResponse wraps the comparison list for an item.
type ComparisonsResponse struct {
	ItemID      string               `json:"item_id"`
	Comparisons []ComparisonResponse `json:"comparisons"`
}

// TrendResponse is the API representation of a detected price trend.
type TrendResponse struct {
	ItemID        string  `json:"item_id"`
	Direction     string  `json:"direction"`
	ChangePercent float64 `json:"change_percent"`
	Observations  int     `json:"observations"`
	DetectedAt    string  `json:"detected_at"`
}

// WarmResponse reports the outcome of a cache warm.
type WarmResponse struct {
	Entries  int    `json:"entries"`
	Duration string `json:"duration"`
}

// HealthResponse is the body of health and readiness checks.
type HealthResponse struct {
	Status string `json:"status"`
	Cache  string `json:"cache,omitempty"`
}

// StatsResponse aggregates runtime counters across components. The cache
// section varies by provider and is reported as-is.
type StatsResponse struct {
	Cache  interface{} `json:"cache,omitempty"`
	Events interface{} `json:"events,omitempty"`
	Trend  interface{} `json:"trend,omitempty"`
	Uptime string      `json:"uptime,omitempty"`
}

// ErrorResponse is the standardized error body for API responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FormatTime renders a timestamp for API payloads, empty when zero.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
