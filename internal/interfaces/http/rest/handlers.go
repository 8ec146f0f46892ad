package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"appraisal-backend/internal/application/services"
	"appraisal-backend/internal/domain/valuation"
	"appraisal-backend/pkg/api"
	apperrors "appraisal-backend/pkg/errors"
)

// ItemHandler serves the per-item appraisal endpoints.
type ItemHandler struct {
	service *services.ValuationService
	logger  *zap.Logger
}

// NewItemHandler creates a new item handler.
func NewItemHandler(service *services.ValuationService, logger *zap.Logger) *ItemHandler {
	return &ItemHandler{service: service, logger: logger}
}

// GetValuation handles GET /items/{itemID}/valuation requests.
func (h *ItemHandler) GetValuation(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	v, err := h.service.GetValuation(r.Context(), itemID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	api.Success(w, http.StatusOK, toValuationResponse(*v))
}

// SubmitValuation handles POST /items/{itemID}/valuation requests.
func (h *ItemHandler) SubmitValuation(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var req api.SubmitValuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stored, err := h.service.SubmitValuation(r.Context(), userID(r), valuation.Valuation{
		ItemID:     itemID,
		Value:      req.Value,
		Currency:   req.Currency,
		Confidence: req.Confidence,
		Method:     valuation.Method(req.Method),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	api.Success(w, http.StatusCreated, toValuationResponse(*stored))
}

// RefreshValuation handles POST /items/{itemID}/valuation/refresh
// requests, reloading the valuation from the source of truth.
func (h *ItemHandler) RefreshValuation(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	v, err := h.service.RefreshValuation(r.Context(), itemID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	api.Success(w, http.StatusOK, toValuationResponse(*v))
}

// ExpireValuation handles DELETE /items/{itemID}/valuation requests,
// evicting the cached valuation and announcing the expiry.
func (h *ItemHandler) ExpireValuation(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	if err := h.service.ExpireValuation(r.Context(), itemID); err != nil {
		h.respondError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, nil)
}

// GetComparisons handles GET /items/{itemID}/comparisons requests.
func (h *ItemHandler) GetComparisons(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	comparisons, err := h.service.GetMarketComparisons(r.Context(), itemID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp := api.ComparisonsResponse{
		ItemID:      itemID,
		Comparisons: make([]api.ComparisonResponse, 0, len(comparisons)),
	}
	for _, c := range comparisons {
		resp.Comparisons = append(resp.Comparisons, api.ComparisonResponse{
			ComparableID: c.ComparableID,
			Price:        c.Price,
			Similarity:   c.Similarity,
			Source:       c.Source,
			ObservedAt:   api.FormatTime(c.ObservedAt),
		})
	}
	api.Success(w, http.StatusOK, resp)
}

// GetTrend handles GET /items/{itemID}/trend requests.
func (h *ItemHandler) GetTrend(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	trend, err := h.service.GetTrend(r.Context(), itemID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	api.Success(w, http.StatusOK, api.TrendResponse{
		ItemID:        trend.ItemID,
		Direction:     string(trend.Direction),
		ChangePercent: trend.ChangePercent,
		Observations:  trend.Observations,
		DetectedAt:    api.FormatTime(trend.DetectedAt),
	})
}

// RecordPriceChange handles POST /items/{itemID}/price-change requests.
// The change is published to the bus; handlers pick it up asynchronously.
func (h *ItemHandler) RecordPriceChange(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var req api.PriceChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.RecordPriceChange(r.Context(), itemID, req.OldPrice, req.NewPrice); err != nil {
		h.respondError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, nil)
}

func (h *ItemHandler) respondError(w http.ResponseWriter, err error) {
	if apperrors.IsInternal(err) {
		h.logger.Error("request failed", zap.Error(err))
	}
	api.ErrorFrom(w, err)
}

// AdminHandler serves operational endpoints.
type AdminHandler struct {
	service *services.ValuationService
	logger  *zap.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(service *services.ValuationService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// WarmCache handles POST /admin/cache/warm requests, bulk-loading the
// cache from the source of truth.
func (h *AdminHandler) WarmCache(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	count, err := h.service.WarmCache(r.Context())
	if err != nil {
		h.logger.Error("cache warm failed", zap.Error(err))
		api.ErrorFrom(w, err)
		return
	}

	api.Success(w, http.StatusOK, api.WarmResponse{
		Entries:  count,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	})
}

// BulkRevalue handles POST /admin/revalue requests, refreshing the
// cached valuation for every listed item in one job.
func (h *AdminHandler) BulkRevalue(w http.ResponseWriter, r *http.Request) {
	var req api.BulkRevalueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.BulkRevalue(r.Context(), userID(r), req.ItemIDs)
	if err != nil {
		h.logger.Error("bulk revalue failed", zap.Error(err))
		api.ErrorFrom(w, err)
		return
	}

	api.Success(w, http.StatusOK, api.BulkRevalueResponse{
		JobID:     result.JobID,
		Requested: result.Requested,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		FailedIDs: result.FailedIDs,
	})
}

func toValuationResponse(v valuation.Valuation) api.ValuationResponse {
	return api.ValuationResponse{
		ItemID:     v.ItemID,
		Value:      v.Value,
		Currency:   v.Currency,
		Confidence: v.Confidence,
		Method:     string(v.Method),
		ValuedAt:   api.FormatTime(v.ValuedAt),
		ExpiresAt:  api.FormatTime(v.ExpiresAt),
	}
}

// userID extracts the caller identity. Authentication is handled by the
// edge in front of this service; the header is trusted as-is.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}
