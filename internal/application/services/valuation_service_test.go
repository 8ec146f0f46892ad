package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"appraisal-backend/internal/domain/events"
	"appraisal-backend/internal/domain/valuation"
	"appraisal-backend/internal/infrastructure/cache"
	apperrors "appraisal-backend/pkg/errors"
)

type fakeReader struct {
	mu          sync.Mutex
	valuations  map[string]*valuation.Valuation
	comparisons map[string][]valuation.MarketComparison
	activeIDs   []string
	failWith    error
	loads       int
}

func (r *fakeReader) LoadValuation(_ context.Context, itemID string) (*valuation.Valuation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	if r.failWith != nil {
		return nil, r.failWith
	}
	v, ok := r.valuations[itemID]
	if !ok {
		return nil, apperrors.NewNotFound("valuation not found for item " + itemID)
	}
	out := *v
	return &out, nil
}

func (r *fakeReader) LoadMarketComparisons(_ context.Context, itemID string) ([]valuation.MarketComparison, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	if r.failWith != nil {
		return nil, r.failWith
	}
	return r.comparisons[itemID], nil
}

func (r *fakeReader) LoadActiveItemIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	return r.activeIDs, nil
}

func (r *fakeReader) loadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturingPublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Event, len(p.events))
	copy(out, p.events)
	return out
}

func newTestService(t *testing.T, reader *fakeReader) (*ValuationService, *cache.MemoryCache, *capturingPublisher) {
	t.Helper()
	store := cache.NewMemoryCache(0, zaptest.NewLogger(t))
	pub := &capturingPublisher{}
	svc := NewValuationService(store, store, reader, pub, cache.NewKeyBuilder(""), time.Minute, zaptest.NewLogger(t))
	return svc, store, pub
}

func validValuation(itemID string, value float64) valuation.Valuation {
	return valuation.Valuation{
		ItemID:     itemID,
		Value:      value,
		Currency:   "USD",
		Confidence: 0.9,
		Method:     valuation.MethodMarketComparison,
		ValuedAt:   time.Now().UTC(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

func TestGetValuationReadsThroughCache(t *testing.T) {
	reader := &fakeReader{valuations: map[string]*valuation.Valuation{
		"item-1": {ItemID: "item-1", Value: 2500, Currency: "USD", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc, _, _ := newTestService(t, reader)
	ctx := context.Background()

	got, err := svc.GetValuation(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 2500.0, got.Value)
	assert.Equal(t, 1, reader.loadCount())

	// Second read is served from the cache.
	got, err = svc.GetValuation(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 2500.0, got.Value)
	assert.Equal(t, 1, reader.loadCount())
}

func TestGetValuationNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeReader{})

	_, err := svc.GetValuation(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetValuationRejectsEmptyItemID(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeReader{})

	_, err := svc.GetValuation(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestGetValuationExpiredEntryIsReloaded(t *testing.T) {
	fresh := validValuation("item-1", 3100)
	reader := &fakeReader{valuations: map[string]*valuation.Valuation{"item-1": &fresh}}
	svc, store, pub := newTestService(t, reader)
	ctx := context.Background()

	stale := validValuation("item-1", 2900)
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Set(ctx, "valuation:current:item-1", &stale, time.Minute))

	got, err := svc.GetValuation(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 3100.0, got.Value)
	assert.Equal(t, 1, reader.loadCount())

	published := pub.all()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeValuationExpired, published[0].Type)
	assert.Equal(t, "item-1", published[0].ItemID)
}

func TestGetValuationSurvivesCacheFailure(t *testing.T) {
	reader := &fakeReader{valuations: map[string]*valuation.Valuation{
		"item-1": {ItemID: "item-1", Value: 1800, Currency: "USD", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	store := &failingStore{}
	svc := NewValuationService(store, nil, reader, &capturingPublisher{}, cache.NewKeyBuilder(""), time.Minute, zaptest.NewLogger(t))

	got, err := svc.GetValuation(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, 1800.0, got.Value)
}

func TestGetMarketComparisonsReadsThroughCache(t *testing.T) {
	reader := &fakeReader{comparisons: map[string][]valuation.MarketComparison{
		"item-1": {
			{ItemID: "item-1", ComparableID: "comp-1", Price: 2400, Similarity: 0.93},
			{ItemID: "item-1", ComparableID: "comp-2", Price: 2550, Similarity: 0.88},
		},
	}}
	svc, _, _ := newTestService(t, reader)
	ctx := context.Background()

	got, err := svc.GetMarketComparisons(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "comp-1", got[0].ComparableID)
	assert.Equal(t, 1, reader.loadCount())

	_, err = svc.GetMarketComparisons(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 1, reader.loadCount())
}

func TestSubmitValuationPublishesCreated(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeReader{})
	ctx := context.Background()

	got, err := svc.SubmitValuation(ctx, "user-1", valuation.Valuation{
		ItemID:   "item-1",
		Value:    4200,
		Currency: "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, valuation.MethodManual, got.Method)
	assert.False(t, got.ValuedAt.IsZero())

	published := pub.all()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeValuationCreated, published[0].Type)
	assert.Equal(t, "item-1", published[0].ItemID)
	assert.Equal(t, "user-1", published[0].UserID)
	assert.Equal(t, 4200.0, published[0].Data[events.KeyValue])
	assert.Equal(t, "EUR", published[0].Data[events.KeyCurrency])

	// The submitted valuation is immediately readable.
	stored, err := svc.GetValuation(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 4200.0, stored.Value)
}

func TestSubmitValuationPublishesUpdatedWithPreviousValue(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeReader{})
	ctx := context.Background()

	_, err := svc.SubmitValuation(ctx, "user-1", validValuation("item-1", 4000))
	require.NoError(t, err)
	_, err = svc.SubmitValuation(ctx, "user-2", validValuation("item-1", 4600))
	require.NoError(t, err)

	published := pub.all()
	require.Len(t, published, 2)
	assert.Equal(t, events.TypeValuationUpdated, published[1].Type)
	assert.Equal(t, "user-2", published[1].UserID)
	assert.Equal(t, 4000.0, published[1].Data[events.KeyOldValue])
	assert.Equal(t, 4600.0, published[1].Data[events.KeyNewValue])
}

func TestSubmitValuationValidation(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeReader{})
	ctx := context.Background()

	cases := []struct {
		name string
		v    valuation.Valuation
	}{
		{"missing item id", valuation.Valuation{Value: 100, Currency: "USD"}},
		{"non-positive value", valuation.Valuation{ItemID: "x", Value: 0, Currency: "USD"}},
		{"missing currency", valuation.Valuation{ItemID: "x", Value: 100}},
		{"confidence out of range", valuation.Valuation{ItemID: "x", Value: 100, Currency: "USD", Confidence: 1.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitValuation(ctx, "user-1", tc.v)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
	assert.Empty(t, pub.all())
}

func TestRecordPriceChangePublishes(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeReader{})

	require.NoError(t, svc.RecordPriceChange(context.Background(), "item-1", 2400, 2600))

	published := pub.all()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypePriceChanged, published[0].Type)
	assert.Equal(t, 2400.0, published[0].Data[events.KeyOldPrice])
	assert.Equal(t, 2600.0, published[0].Data[events.KeyNewPrice])
}

func TestRecordPriceChangeSkipsUnchangedPrice(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeReader{})

	require.NoError(t, svc.RecordPriceChange(context.Background(), "item-1", 2400, 2400))
	assert.Empty(t, pub.all())
}

func TestRecordPriceChangeValidation(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeReader{})
	ctx := context.Background()

	assert.True(t, apperrors.IsValidation(svc.RecordPriceChange(ctx, "", 1, 2)))
	assert.True(t, apperrors.IsValidation(svc.RecordPriceChange(ctx, "item-1", 1, 0)))
	assert.True(t, apperrors.IsValidation(svc.RecordPriceChange(ctx, "item-1", -1, 2)))
}

func TestWarmCachePreloadsActiveItems(t *testing.T) {
	v1 := validValuation("item-1", 2500)
	v2 := validValuation("item-2", 900)
	reader := &fakeReader{
		valuations: map[string]*valuation.Valuation{"item-1": &v1, "item-2": &v2},
		comparisons: map[string][]valuation.MarketComparison{
			"item-1": {{ItemID: "item-1", ComparableID: "comp-1", Price: 2450}},
		},
		// item-3 is active but has no valuation yet and must be skipped.
		activeIDs: []string{"item-1", "item-2", "item-3"},
	}
	svc, _, _ := newTestService(t, reader)
	ctx := context.Background()

	count, err := svc.WarmCache(ctx)
	require.NoError(t, err)
	// item-1 valuation + comparisons, item-2 valuation only.
	assert.Equal(t, 3, count)

	loadsAfterWarm := reader.loadCount()
	got, err := svc.GetValuation(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 2500.0, got.Value)
	comps, err := svc.GetMarketComparisons(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, loadsAfterWarm, reader.loadCount())
}

func TestWarmCacheWithoutWarmer(t *testing.T) {
	store := cache.NewMemoryCache(0, zaptest.NewLogger(t))
	svc := NewValuationService(store, nil, &fakeReader{}, &capturingPublisher{}, cache.NewKeyBuilder(""), time.Minute, zaptest.NewLogger(t))

	_, err := svc.WarmCache(context.Background())
	require.Error(t, err)
}

func TestGetTrendReadsCachedTrend(t *testing.T) {
	svc, store, _ := newTestService(t, &fakeReader{})
	ctx := context.Background()

	want := valuation.Trend{
		ItemID:        "item-1",
		Direction:     valuation.TrendRising,
		ChangePercent: 7.5,
		Observations:  4,
		DetectedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Set(ctx, "trend:item:item-1", &want, time.Hour))

	got, err := svc.GetTrend(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, valuation.TrendRising, got.Direction)
	assert.Equal(t, 7.5, got.ChangePercent)

	_, err = svc.GetTrend(ctx, "item-2")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRefreshValuationAlwaysConsultsReader(t *testing.T) {
	fresh := validValuation("item-1", 2600)
	reader := &fakeReader{valuations: map[string]*valuation.Valuation{"item-1": &fresh}}
	svc, store, pub := newTestService(t, reader)
	ctx := context.Background()

	stale := validValuation("item-1", 2000)
	require.NoError(t, store.Set(ctx, "valuation:current:item-1", &stale, time.Minute))

	got, err := svc.RefreshValuation(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 2600.0, got.Value)
	assert.Equal(t, 1, reader.loadCount())

	published := pub.all()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeValuationUpdated, published[0].Type)
	assert.Equal(t, 2000.0, published[0].Data[events.KeyOldValue])
	assert.Equal(t, 2600.0, published[0].Data[events.KeyNewValue])

	// The refreshed value is now served from the cache.
	cached, err := svc.GetValuation(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 2600.0, cached.Value)
	assert.Equal(t, 1, reader.loadCount())
}

func TestRefreshValuationNotFound(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeReader{})

	_, err := svc.RefreshValuation(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, pub.all())
}

func TestRefreshValuationRejectsEmptyItemID(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeReader{})

	_, err := svc.RefreshValuation(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestExpireValuationEvictsAndPublishes(t *testing.T) {
	svc, store, pub := newTestService(t, &fakeReader{})
	ctx := context.Background()

	v := validValuation("item-1", 3200)
	require.NoError(t, store.Set(ctx, "valuation:current:item-1", &v, time.Hour))

	require.NoError(t, svc.ExpireValuation(ctx, "item-1"))

	_, found, err := store.Get(ctx, "valuation:current:item-1")
	require.NoError(t, err)
	assert.False(t, found)

	published := pub.all()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeValuationExpired, published[0].Type)
	assert.Equal(t, "item-1", published[0].ItemID)
}

func TestExpireValuationWithNothingCachedStillPublishes(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeReader{})

	require.NoError(t, svc.ExpireValuation(context.Background(), "item-1"))

	published := pub.all()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeValuationExpired, published[0].Type)
}

func TestExpireValuationRejectsEmptyItemID(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeReader{})

	err := svc.ExpireValuation(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestBulkRevalueRefreshesEveryItem(t *testing.T) {
	v1 := validValuation("item-1", 2500)
	v2 := validValuation("item-2", 900)
	reader := &fakeReader{valuations: map[string]*valuation.Valuation{"item-1": &v1, "item-2": &v2}}
	svc, _, pub := newTestService(t, reader)
	ctx := context.Background()

	// item-3 has no valuation and must be tallied, not abort the job.
	result, err := svc.BulkRevalue(ctx, "admin-1", []string{"item-1", "item-2", "item-3"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.JobID)
	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"item-3"}, result.FailedIDs)

	published := pub.all()
	require.Len(t, published, 4)
	assert.Equal(t, events.TypeBulkStarted, published[0].Type)
	assert.Equal(t, result.JobID, published[0].Data[events.KeyJobID])
	assert.Equal(t, 3, published[0].Data[events.KeyItemCount])
	assert.Equal(t, events.TypeValuationUpdated, published[1].Type)
	assert.Equal(t, "admin-1", published[1].UserID)
	assert.Equal(t, events.TypeValuationUpdated, published[2].Type)
	assert.Equal(t, events.TypeBulkCompleted, published[3].Type)
	assert.Equal(t, result.JobID, published[3].Data[events.KeyJobID])
	assert.Equal(t, 2, published[3].Data[events.KeySucceeded])
	assert.Equal(t, 1, published[3].Data[events.KeyFailed])

	// Refreshed valuations are served from the cache afterwards.
	loadsAfterBulk := reader.loadCount()
	got, err := svc.GetValuation(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 2500.0, got.Value)
	assert.Equal(t, loadsAfterBulk, reader.loadCount())
}

func TestBulkRevalueRequiresItemIDs(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeReader{})

	_, err := svc.BulkRevalue(context.Background(), "admin-1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, pub.all())
}

func TestBulkRevalueStopsOnCancelledContext(t *testing.T) {
	v1 := validValuation("item-1", 2500)
	reader := &fakeReader{valuations: map[string]*valuation.Valuation{"item-1": &v1}}
	svc, _, pub := newTestService(t, reader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.BulkRevalue(ctx, "admin-1", []string{"item-1", "item-2"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 2, result.Failed)

	// The job still brackets its work: started, then completed with the
	// unprocessed items counted as failed.
	published := pub.all()
	require.Len(t, published, 2)
	assert.Equal(t, events.TypeBulkStarted, published[0].Type)
	assert.Equal(t, events.TypeBulkCompleted, published[1].Type)
	assert.Equal(t, 2, published[1].Data[events.KeyFailed])
}

// failingStore fails every operation, standing in for a cache that is
// completely down.
type failingStore struct{}

func (failingStore) err() error { return apperrors.NewUnavailable("cache down", nil) }

func (s *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, s.err()
}

func (s *failingStore) GetObject(context.Context, string, interface{}) (bool, error) {
	return false, s.err()
}

func (s *failingStore) Set(context.Context, string, interface{}, time.Duration) error {
	return s.err()
}

func (s *failingStore) SetIfAbsent(context.Context, string, interface{}, time.Duration) (bool, error) {
	return false, s.err()
}

func (s *failingStore) MGet(_ context.Context, keys []string) ([][]byte, error) {
	return nil, s.err()
}

func (s *failingStore) Delete(context.Context, ...string) error {
	return s.err()
}
