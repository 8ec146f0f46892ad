// Package services contains the application services that orchestrate
// appraisal use cases: read-through caching over the source of truth,
// event publication, and bulk cache warming.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"appraisal-backend/internal/application/ports"
	"appraisal-backend/internal/domain/events"
	"appraisal-backend/internal/domain/valuation"
	"appraisal-backend/internal/infrastructure/cache"
	apperrors "appraisal-backend/pkg/errors"
)

const defaultValuationTTL = 15 * time.Minute

// BulkResult summarizes a bulk revaluation job.
type BulkResult struct {
	JobID     string   `json:"job_id"`
	Requested int      `json:"requested"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// ValuationService serves valuations and market comparisons through the
// cache, falling back to the source of truth on any miss or cache
// failure. On read paths cache trouble is never surfaced to callers;
// only the reader failing produces an error. Write paths report cache
// failures, since their whole point is changing what is cached.
type ValuationService struct {
	store     ports.Cache
	warmer    ports.Warmer
	reader    ports.ValuationReader
	publisher ports.EventPublisher
	keys      cache.KeyBuilder
	ttl       time.Duration
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewValuationService creates the service. The warmer is optional; without
// it WarmCache reports failure. A non-positive ttl falls back to the default.
func NewValuationService(
	store ports.Cache,
	warmer ports.Warmer,
	reader ports.ValuationReader,
	publisher ports.EventPublisher,
	keys cache.KeyBuilder,
	ttl time.Duration,
	logger *zap.Logger,
) *ValuationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultValuationTTL
	}
	return &ValuationService{
		store:     store,
		warmer:    warmer,
		reader:    reader,
		publisher: publisher,
		keys:      keys,
		ttl:       ttl,
		logger:    logger,
		tracer:    otel.Tracer("appraisal-backend.application.valuation_service"),
	}
}

// GetValuation returns the current valuation for an item, cache first. An
// expired cached valuation is evicted, announced on the bus, and reloaded
// from the source of truth.
func (s *ValuationService) GetValuation(ctx context.Context, itemID string) (*valuation.Valuation, error) {
	if itemID == "" {
		return nil, apperrors.NewValidation("item id is required")
	}

	ctx, span := s.tracer.Start(ctx, "ValuationService.GetValuation",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("item.id", itemID)),
	)
	defer span.End()

	key := s.keys.ValuationCurrent(itemID)
	var cached valuation.Valuation
	found, err := s.store.GetObject(ctx, key, &cached)
	if err != nil {
		// Cache failures stay invisible: log and read the source of truth.
		s.logger.Warn("valuation cache read failed",
			zap.String("itemID", itemID),
			zap.Error(err),
		)
	}
	if found {
		if !cached.IsExpired(time.Now()) {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &cached, nil
		}
		span.AddEvent("cached_valuation_expired")
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("stale valuation eviction failed",
				zap.String("itemID", itemID),
				zap.Error(err),
			)
		}
		if s.publisher != nil {
			s.publisher.Publish(events.NewValuationExpired(itemID))
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	loaded, err := s.reader.LoadValuation(ctx, itemID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "valuation load failed")
		return nil, err
	}
	if loaded == nil {
		return nil, apperrors.NewNotFound("valuation not found for item " + itemID)
	}

	if err := s.store.Set(ctx, key, loaded, s.ttl); err != nil {
		s.logger.Warn("valuation cache write failed",
			zap.String("itemID", itemID),
			zap.Error(err),
		)
	}
	return loaded, nil
}

// GetMarketComparisons returns the comparable listings backing an item's
// valuation, cache first.
func (s *ValuationService) GetMarketComparisons(ctx context.Context, itemID string) ([]valuation.MarketComparison, error) {
	if itemID == "" {
		return nil, apperrors.NewValidation("item id is required")
	}

	ctx, span := s.tracer.Start(ctx, "ValuationService.GetMarketComparisons",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("item.id", itemID)),
	)
	defer span.End()

	key := s.keys.MarketComparisons(itemID)
	var cached []valuation.MarketComparison
	found, err := s.store.GetObject(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("comparison cache read failed",
			zap.String("itemID", itemID),
			zap.Error(err),
		)
	}
	if found {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	comparisons, err := s.reader.LoadMarketComparisons(ctx, itemID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "comparison load failed")
		return nil, err
	}

	if err := s.store.Set(ctx, key, comparisons, s.ttl); err != nil {
		s.logger.Warn("comparison cache write failed",
			zap.String("itemID", itemID),
			zap.Error(err),
		)
	}
	return comparisons, nil
}

// GetTrend returns the cached trend for an item. Trends only exist in the
// cache; when none is stored the item simply has no detected trend.
func (s *ValuationService) GetTrend(ctx context.Context, itemID string) (*valuation.Trend, error) {
	if itemID == "" {
		return nil, apperrors.NewValidation("item id is required")
	}

	var trend valuation.Trend
	found, err := s.store.GetObject(ctx, s.keys.TrendItem(itemID), &trend)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFound("no trend detected for item " + itemID)
	}
	return &trend, nil
}

// SubmitValuation stores a new or revised valuation and announces it on
// the bus. The previous valuation, when one exists, decides whether a
// created or an updated event is published.
func (s *ValuationService) SubmitValuation(ctx context.Context, userID string, v valuation.Valuation) (*valuation.Valuation, error) {
	if v.ItemID == "" {
		return nil, apperrors.NewValidation("valuation requires an item id")
	}
	if v.Value <= 0 {
		return nil, apperrors.NewValidation("valuation requires a positive value")
	}
	if v.Currency == "" {
		return nil, apperrors.NewValidation("valuation requires a currency")
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, apperrors.NewValidation("confidence must be between 0 and 1")
	}
	if v.Method == "" {
		v.Method = valuation.MethodManual
	}
	if v.ValuedAt.IsZero() {
		v.ValuedAt = time.Now().UTC()
	}

	ctx, span := s.tracer.Start(ctx, "ValuationService.SubmitValuation",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("item.id", v.ItemID),
			attribute.String("valuation.method", string(v.Method)),
		),
	)
	defer span.End()

	previous := s.previousValuation(ctx, v.ItemID)

	if err := s.store.Set(ctx, s.keys.ValuationCurrent(v.ItemID), &v, s.ttl); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "valuation write failed")
		return nil, err
	}

	if s.publisher != nil {
		if previous != nil {
			s.publisher.Publish(events.NewValuationUpdated(v.ItemID, userID, previous.Value, v.Value))
		} else {
			s.publisher.Publish(events.NewValuationCreated(v.ItemID, userID, v.Value, v.Currency))
		}
	}

	s.logger.Info("valuation submitted",
		zap.String("itemID", v.ItemID),
		zap.String("userID", userID),
		zap.Float64("value", v.Value),
		zap.Bool("revision", previous != nil),
	)
	return &v, nil
}

// RecordPriceChange publishes a price movement observed on the market.
// An unchanged price publishes nothing.
func (s *ValuationService) RecordPriceChange(ctx context.Context, itemID string, oldPrice, newPrice float64) error {
	if itemID == "" {
		return apperrors.NewValidation("item id is required")
	}
	if newPrice <= 0 {
		return apperrors.NewValidation("new price must be positive")
	}
	if oldPrice < 0 {
		return apperrors.NewValidation("old price must not be negative")
	}
	if oldPrice == newPrice {
		s.logger.Debug("price unchanged, nothing to publish", zap.String("itemID", itemID))
		return nil
	}
	if s.publisher != nil {
		s.publisher.Publish(events.NewPriceChanged(itemID, oldPrice, newPrice))
	}
	return nil
}

// RefreshValuation reloads an item's valuation from the source of truth,
// replaces the cached entry, and announces the update on the bus. Unlike
// GetValuation it never trusts the cache; the reader is always consulted.
func (s *ValuationService) RefreshValuation(ctx context.Context, itemID string) (*valuation.Valuation, error) {
	if itemID == "" {
		return nil, apperrors.NewValidation("item id is required")
	}

	ctx, span := s.tracer.Start(ctx, "ValuationService.RefreshValuation",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("item.id", itemID)),
	)
	defer span.End()

	refreshed, err := s.refreshOne(ctx, "", itemID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "valuation refresh failed")
		return nil, err
	}
	return refreshed, nil
}

// ExpireValuation evicts an item's cached valuation and announces the
// expiry so consumers recompute instead of trusting a stale figure.
// Expiring an item with nothing cached still publishes, so schedulers
// may call it blindly.
func (s *ValuationService) ExpireValuation(ctx context.Context, itemID string) error {
	if itemID == "" {
		return apperrors.NewValidation("item id is required")
	}

	ctx, span := s.tracer.Start(ctx, "ValuationService.ExpireValuation",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("item.id", itemID)),
	)
	defer span.End()

	if err := s.store.Delete(ctx, s.keys.ValuationCurrent(itemID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "valuation eviction failed")
		return err
	}

	if s.publisher != nil {
		s.publisher.Publish(events.NewValuationExpired(itemID))
	}
	s.logger.Info("valuation expired", zap.String("itemID", itemID))
	return nil
}

// BulkRevalue refreshes the cached valuation for every listed item,
// bracketing the work with bulk.started and bulk.completed events. A
// failing item is tallied and skipped rather than aborting the job. A
// cancelled context stops the job early; the summary then counts the
// unprocessed items as failed and the context error is returned
// alongside it.
func (s *ValuationService) BulkRevalue(ctx context.Context, userID string, itemIDs []string) (*BulkResult, error) {
	if len(itemIDs) == 0 {
		return nil, apperrors.NewValidation("bulk revalue requires at least one item id")
	}

	ctx, span := s.tracer.Start(ctx, "ValuationService.BulkRevalue",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("bulk.item_count", len(itemIDs))),
	)
	defer span.End()

	jobID := uuid.New().String()
	span.SetAttributes(attribute.String("bulk.job_id", jobID))
	if s.publisher != nil {
		s.publisher.Publish(events.NewBulkStarted(jobID, len(itemIDs)))
	}

	result := &BulkResult{JobID: jobID, Requested: len(itemIDs)}
	for i, itemID := range itemIDs {
		if err := ctx.Err(); err != nil {
			result.Failed += len(itemIDs) - i
			span.RecordError(err)
			span.SetStatus(codes.Error, "bulk revalue cancelled")
			s.finishBulk(jobID, result)
			return result, err
		}

		if _, err := s.refreshOne(ctx, userID, itemID); err != nil {
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, itemID)
			s.logger.Warn("bulk revalue item failed",
				zap.String("jobID", jobID),
				zap.String("itemID", itemID),
				zap.Error(err),
			)
			continue
		}
		result.Succeeded++
	}

	s.finishBulk(jobID, result)
	return result, nil
}

// WarmCache preloads valuations and comparisons for every active item.
// Returns the number of cache entries written.
func (s *ValuationService) WarmCache(ctx context.Context) (int, error) {
	if s.warmer == nil {
		return 0, apperrors.NewInternal("cache warmer not configured", nil)
	}

	ctx, span := s.tracer.Start(ctx, "ValuationService.WarmCache",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	count, err := s.warmer.Warm(ctx, s.warmEntries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache warm failed")
		return 0, err
	}
	span.SetAttributes(attribute.Int("warm.entries", count))
	return count, nil
}

// warmEntries builds the warm payload: the current valuation and the
// market comparisons for every active item. An item without a valuation
// is skipped; any other reader failure aborts the warm.
func (s *ValuationService) warmEntries(ctx context.Context) (map[string]interface{}, error) {
	ids, err := s.reader.LoadActiveItemIDs(ctx)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]interface{}, len(ids)*2)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		v, err := s.reader.LoadValuation(ctx, id)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		entries[s.keys.ValuationCurrent(id)] = v

		comparisons, err := s.reader.LoadMarketComparisons(ctx, id)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if len(comparisons) > 0 {
			entries[s.keys.MarketComparisons(id)] = comparisons
		}
	}
	return entries, nil
}

// refreshOne reloads one item's valuation from the reader, replaces the
// cached entry, and publishes valuation.updated carrying the prior
// cached value, or zero when none was cached.
func (s *ValuationService) refreshOne(ctx context.Context, userID, itemID string) (*valuation.Valuation, error) {
	key := s.keys.ValuationCurrent(itemID)

	var previous valuation.Valuation
	hadPrevious, err := s.store.GetObject(ctx, key, &previous)
	if err != nil {
		s.logger.Warn("valuation cache read failed",
			zap.String("itemID", itemID),
			zap.Error(err),
		)
		hadPrevious = false
	}

	loaded, err := s.reader.LoadValuation(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return nil, apperrors.NewNotFound("valuation not found for item " + itemID)
	}

	if err := s.store.Set(ctx, key, loaded, s.ttl); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		var oldValue float64
		if hadPrevious {
			oldValue = previous.Value
		}
		s.publisher.Publish(events.NewValuationUpdated(itemID, userID, oldValue, loaded.Value))
	}
	return loaded, nil
}

// finishBulk announces a job's completion and logs the tally.
func (s *ValuationService) finishBulk(jobID string, result *BulkResult) {
	if s.publisher != nil {
		s.publisher.Publish(events.NewBulkCompleted(jobID, result.Succeeded, result.Failed))
	}
	s.logger.Info("bulk revalue finished",
		zap.String("jobID", jobID),
		zap.Int("requested", result.Requested),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
}

// previousValuation looks up the existing valuation, cache first, then
// the reader. Lookup failures mean "no previous valuation" rather than a
// failed submit.
func (s *ValuationService) previousValuation(ctx context.Context, itemID string) *valuation.Valuation {
	var cached valuation.Valuation
	found, err := s.store.GetObject(ctx, s.keys.ValuationCurrent(itemID), &cached)
	if err == nil && found {
		return &cached
	}

	loaded, err := s.reader.LoadValuation(ctx, itemID)
	if err != nil || loaded == nil {
		return nil
	}
	return loaded
}
