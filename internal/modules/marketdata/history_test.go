package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/finguard/finguard/internal/domain"
	fgtesting "github.com/finguard/finguard/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func histories(t *testing.T) map[string]History {
	db, cleanup := fgtesting.NewTestDB(t, "history")
	t.Cleanup(cleanup)
	return map[string]History{
		"memory": NewMemoryHistory(),
		"sqlite": NewHistoryDB(db.Conn(), nopLogger()),
	}
}

func quote(symbol, price string, asOf time.Time) domain.Quote {
	return domain.Quote{Symbol: symbol, Price: fgtesting.Dec(price), AsOf: asOf}
}

func TestHistory_QuotesKeepNewest(t *testing.T) {
	t0 := fgtesting.FixtureTime
	for name, h := range histories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, h.SaveQuotes(ctx, []domain.Quote{
				quote("AAPL", "190.50", t0),
				quote("BTC", "61957.727", t0),
			}))
			// older observation is ignored, newer one replaces
			require.NoError(t, h.SaveQuotes(ctx, []domain.Quote{
				quote("AAPL", "150", t0.Add(-time.Hour)),
				quote("BTC", "63000.1", t0.Add(time.Minute)),
			}))

			got, err := h.Quotes(ctx, []string{"AAPL", "BTC", "NOPE"})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "190.5", got["AAPL"].Price.String())
			assert.True(t, got["AAPL"].AsOf.Equal(t0))
			assert.Equal(t, "63000.1", got["BTC"].Price.String())
			assert.True(t, got["BTC"].AsOf.Equal(t0.Add(time.Minute)))

			quotes, series, err := h.Counts(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, quotes)
			assert.Equal(t, 0, series)
		})
	}
}

func TestHistory_ReturnSeriesRoundTrip(t *testing.T) {
	t0 := fgtesting.FixtureTime
	for name, h := range histories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			values := fgtesting.SyntheticReturns(30, 0.001, 0.01, 0.2)

			require.NoError(t, h.SaveReturns(ctx, []domain.ReturnSeries{
				{Key: "BTC", Values: values, AsOf: t0, PeriodsPerYear: 365},
				{Key: "bonds", Values: []float64{0.001, -0.002}, AsOf: t0, PeriodsPerYear: 252},
			}))
			require.NoError(t, h.SaveReturns(ctx, []domain.ReturnSeries{
				{Key: "BTC", Values: []float64{1, 2}, AsOf: t0.Add(-24 * time.Hour), PeriodsPerYear: 365},
			}))

			got, err := h.Returns(ctx, []string{"BTC", "bonds", "stocks"})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, values, got["BTC"].Values)
			assert.Equal(t, 365, got["BTC"].PeriodsPerYear)
			assert.True(t, got["BTC"].AsOf.Equal(t0))
			assert.Equal(t, []float64{0.001, -0.002}, got["bonds"].Values)

			_, series, err := h.Counts(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, series)
		})
	}
}

func TestHistory_EmptyLookups(t *testing.T) {
	for name, h := range histories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			quotes, err := h.Quotes(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, quotes)

			series, err := h.Returns(ctx, []string{"missing"})
			require.NoError(t, err)
			assert.Empty(t, series)
		})
	}
}

func TestMemoryHistory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory()
	values := []float64{0.1, 0.2}
	require.NoError(t, h.SaveReturns(ctx, []domain.ReturnSeries{{Key: "BTC", Values: values, AsOf: fgtesting.FixtureTime}}))
	values[0] = 9

	got, err := h.Returns(ctx, []string{"BTC"})
	require.NoError(t, err)
	got["BTC"].Values[1] = 9

	again, err := h.Returns(ctx, []string{"BTC"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, again["BTC"].Values)
}
