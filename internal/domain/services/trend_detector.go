package services

import (
	"context"
	"math"
	"sync"
	"time"

	"appraisal-backend/internal/domain/valuation"
	apperrors "appraisal-backend/pkg/errors"
)

// TrendConfig tunes trend detection.
type TrendConfig struct {
	// WindowSize is the number of observations retained per item.
	WindowSize int
	// MinRun is how many consecutive same-direction moves constitute a trend.
	MinRun int
	// MinChangePercent is the total price change over the run required
	// before a trend is reported.
	MinChangePercent float64
}

// DefaultTrendConfig returns the production defaults.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		WindowSize:       20,
		MinRun:           3,
		MinChangePercent: 5.0,
	}
}

// TrendDetector keeps a bounded window of price observations per item and
// reports sustained directional moves. A trend is reported once per
// direction: repeated observations extending an already reported run stay
// silent until the run breaks or reverses.
type TrendDetector struct {
	config TrendConfig

	mu       sync.Mutex
	windows  map[string][]valuation.PriceObservation
	reported map[string]valuation.TrendDirection
	summary  valuation.TrendSummary
}

// NewTrendDetector creates a detector. Out-of-range config values fall
// back to the defaults.
func NewTrendDetector(config TrendConfig) *TrendDetector {
	defaults := DefaultTrendConfig()
	if config.WindowSize < 2 {
		config.WindowSize = defaults.WindowSize
	}
	if config.MinRun < 2 {
		config.MinRun = defaults.MinRun
	}
	if config.MinChangePercent <= 0 {
		config.MinChangePercent = defaults.MinChangePercent
	}
	return &TrendDetector{
		config:   config,
		windows:  make(map[string][]valuation.PriceObservation),
		reported: make(map[string]valuation.TrendDirection),
	}
}

// RecordAndAnalyze adds an observation to the item's window and returns a
// trend when the latest run satisfies the configured thresholds. It
// returns nil when no new trend is detected.
func (d *TrendDetector) RecordAndAnalyze(ctx context.Context, obs valuation.PriceObservation) (*valuation.Trend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if obs.ItemID == "" {
		return nil, apperrors.NewValidation("price observation requires an item id")
	}
	if obs.Price <= 0 {
		return nil, apperrors.NewValidation("price observation requires a positive price")
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	window := append(d.windows[obs.ItemID], obs)
	if len(window) > d.config.WindowSize {
		window = window[len(window)-d.config.WindowSize:]
	}
	d.windows[obs.ItemID] = window

	trend := d.analyze(obs.ItemID, window, obs.ObservedAt)
	if trend == nil {
		// The run broke; the next qualifying run should report again.
		delete(d.reported, obs.ItemID)
		return nil, nil
	}
	if d.reported[obs.ItemID] == trend.Direction {
		return nil, nil
	}
	d.reported[obs.ItemID] = trend.Direction
	return trend, nil
}

// RecomputeGlobal rebuilds the aggregate summary from every item window.
func (d *TrendDetector) RecomputeGlobal(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	summary := valuation.TrendSummary{
		TrackedItems: len(d.windows),
		RecomputedAt: time.Now().UTC(),
	}
	for itemID, window := range d.windows {
		if err := ctx.Err(); err != nil {
			return err
		}
		trend := d.analyze(itemID, window, summary.RecomputedAt)
		switch {
		case trend == nil:
			summary.Flat++
		case trend.Direction == valuation.TrendRising:
			summary.Rising++
		default:
			summary.Falling++
		}
	}
	d.summary = summary
	return nil
}

// GlobalSummary returns the result of the last RecomputeGlobal call. The
// zero value means no recomputation has run yet.
func (d *TrendDetector) GlobalSummary() valuation.TrendSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summary
}

// analyze inspects the run of consecutive same-direction moves ending at
// the newest observation. Callers hold d.mu.
func (d *TrendDetector) analyze(itemID string, window []valuation.PriceObservation, now time.Time) *valuation.Trend {
	if len(window) < d.config.MinRun+1 {
		return nil
	}

	last := len(window) - 1
	dir := 0
	run := 0
	for i := last; i > 0; i-- {
		delta := window[i].Price - window[i-1].Price
		step := 0
		switch {
		case delta > 0:
			step = 1
		case delta < 0:
			step = -1
		}
		if step == 0 || (dir != 0 && step != dir) {
			break
		}
		dir = step
		run++
	}
	if run < d.config.MinRun {
		return nil
	}

	start := window[last-run].Price
	change := (window[last].Price - start) / start * 100
	if math.Abs(change) < d.config.MinChangePercent {
		return nil
	}

	direction := valuation.TrendRising
	if dir < 0 {
		direction = valuation.TrendFalling
	}
	return &valuation.Trend{
		ItemID:        itemID,
		Direction:     direction,
		ChangePercent: change,
		Observations:  run + 1,
		DetectedAt:    now,
	}
}
