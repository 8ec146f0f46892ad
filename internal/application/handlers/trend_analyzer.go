package handlers

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"appraisal-backend/internal/application/ports"
	"appraisal-backend/internal/domain/events"
	"appraisal-backend/internal/domain/valuation"
	"appraisal-backend/internal/infrastructure/cache"
	apperrors "appraisal-backend/pkg/errors"
)

const (
	// recomputeTimeout bounds the detached global recomputation.
	recomputeTimeout = 30 * time.Second
	// trendTTL is how long detected trends stay cached.
	trendTTL = time.Hour
)

// TrendHandler feeds price movements into the trend analyzer. The
// per-item analysis runs synchronously inside the handler deadline; the
// global recomputation is detached and best effort, with at most one
// recompute in flight at a time.
type TrendHandler struct {
	analyzer  ports.TrendAnalyzer
	store     ports.Cache
	keys      cache.KeyBuilder
	publisher ports.EventPublisher
	logger    *zap.Logger

	recomputing int32
}

// NewTrendHandler creates the trend analysis handler. The store is
// optional; without it detected trends are published but not cached.
func NewTrendHandler(analyzer ports.TrendAnalyzer, store ports.Cache, keys cache.KeyBuilder, publisher ports.EventPublisher, logger *zap.Logger) *TrendHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrendHandler{
		analyzer:  analyzer,
		store:     store,
		keys:      keys,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *TrendHandler) Name() string { return "trend-analysis" }

func (h *TrendHandler) EventTypes() []events.Type {
	return []events.Type{
		events.TypePriceChanged,
		events.TypeMarketDataUpdated,
	}
}

// Handle records the new price for price.changed events and kicks off the
// detached global recompute for both event types.
func (h *TrendHandler) Handle(ctx context.Context, event events.Event) error {
	defer h.recomputeGlobal()

	if event.Type != events.TypePriceChanged {
		return nil
	}
	if event.ItemID == "" {
		h.logger.Debug("trend analysis skipped, event has no item id", zap.String("eventID", event.ID))
		return nil
	}
	price, ok := floatField(event, events.KeyNewPrice)
	if !ok {
		return apperrors.NewValidation("price.changed event has no usable new price")
	}

	trend, err := h.analyzer.RecordAndAnalyze(ctx, valuation.PriceObservation{
		ItemID:     event.ItemID,
		Price:      price,
		ObservedAt: event.Timestamp,
	})
	if err != nil {
		return err
	}
	if trend == nil {
		return nil
	}

	h.logger.Info("price trend detected",
		zap.String("itemID", trend.ItemID),
		zap.String("direction", string(trend.Direction)),
		zap.Float64("changePercent", trend.ChangePercent),
		zap.Int("observations", trend.Observations),
	)

	if h.store != nil {
		if err := h.store.Set(ctx, h.keys.TrendItem(trend.ItemID), trend, trendTTL); err != nil {
			h.logger.Warn("trend cache write failed",
				zap.String("itemID", trend.ItemID),
				zap.Error(err),
			)
		}
	}
	if h.publisher != nil {
		h.publisher.Publish(events.NewPriceTrendDetected(trend.ItemID, string(trend.Direction), trend.ChangePercent))
	}
	return nil
}

// recomputeGlobal refreshes the aggregate summary on a detached goroutine.
// A recompute already in flight absorbs the request.
func (h *TrendHandler) recomputeGlobal() {
	if !atomic.CompareAndSwapInt32(&h.recomputing, 0, 1) {
		return
	}
	go func() {
		defer atomic.StoreInt32(&h.recomputing, 0)

		ctx, cancel := context.WithTimeout(context.Background(), recomputeTimeout)
		defer cancel()

		if err := h.analyzer.RecomputeGlobal(ctx); err != nil {
			h.logger.Warn("global trend recompute failed", zap.Error(err))
			return
		}
		if h.store == nil {
			return
		}
		summary := h.analyzer.GlobalSummary()
		if err := h.store.Set(ctx, h.keys.TrendGlobal(), summary, trendTTL); err != nil {
			h.logger.Warn("trend summary cache write failed", zap.Error(err))
		}
	}()
}

// floatField extracts a numeric payload value. Payloads built in process
// carry float64; payloads that crossed the bridge may arrive as
// json.Number or integer types.
func floatField(event events.Event, key string) (float64, bool) {
	v, ok := event.Data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
