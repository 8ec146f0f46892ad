package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"appraisal-backend/internal/domain/valuation"
	apperrors "appraisal-backend/pkg/errors"
)

func TestLoadValuationReturnsSeededCopy(t *testing.T) {
	r := NewReader(zaptest.NewLogger(t))
	r.SeedValuation(valuation.Valuation{ItemID: "item-1", Value: 700, Currency: "USD"})

	got, err := r.LoadValuation(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, 700.0, got.Value)

	// Mutating the returned value must not change the stored one.
	got.Value = 1
	again, err := r.LoadValuation(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, 700.0, again.Value)
}

func TestLoadValuationNotFound(t *testing.T) {
	r := NewReader(zaptest.NewLogger(t))

	_, err := r.LoadValuation(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLoadMarketComparisonsEmptyWithoutError(t *testing.T) {
	r := NewReader(zaptest.NewLogger(t))

	got, err := r.LoadMarketComparisons(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadActiveItemIDsIsSortedUnion(t *testing.T) {
	r := NewReader(zaptest.NewLogger(t))
	r.SeedValuation(valuation.Valuation{ItemID: "b", Value: 1, Currency: "USD"})
	r.SeedValuation(valuation.Valuation{ItemID: "a", Value: 1, Currency: "USD"})
	r.SeedComparisons("c", []valuation.MarketComparison{{ItemID: "c", ComparableID: "x", Price: 1}})

	ids, err := r.LoadActiveItemIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestReaderHonorsContextCancellation(t *testing.T) {
	r := NewReader(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.LoadValuation(ctx, "item-1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = r.LoadActiveItemIDs(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSeedDemoDataPopulatesFixtures(t *testing.T) {
	r := NewReader(zaptest.NewLogger(t))
	r.SeedDemoData()

	ids, err := r.LoadActiveItemIDs(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ids)

	for _, id := range ids {
		v, err := r.LoadValuation(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, v.IsExpired(time.Now()))

		comps, err := r.LoadMarketComparisons(context.Background(), id)
		require.NoError(t, err)
		assert.NotEmpty(t, comps)
	}
}
