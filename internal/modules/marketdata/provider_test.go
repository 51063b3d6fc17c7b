package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finguard/finguard/internal/domain"
	fgtesting "github.com/finguard/finguard/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FetchTimeout:     50 * time.Millisecond,
		StaleAfter:       15 * time.Minute,
		StalenessCeiling: 24 * time.Hour,
	}
}

func newTestProvider(prices domain.PriceFeed, returns domain.ReturnsFeed, history History) *Provider {
	p := NewProvider(prices, returns, history, testConfig(), nopLogger())
	p.SetClock(func() time.Time { return fgtesting.FixtureTime.Add(time.Minute) })
	return p
}

func TestProvider_QuotesLive(t *testing.T) {
	ctx := context.Background()
	feed := fgtesting.NewMockPriceFeed()
	feed.SetQuote("AAPL", "191", fgtesting.FixtureTime)
	feed.SetQuote("BTC", "62000", fgtesting.FixtureTime.Add(-time.Minute))
	history := NewMemoryHistory()
	p := newTestProvider(feed, nil, history)

	snap, err := p.Quotes(ctx, []string{"AAPL", "BTC"})
	require.NoError(t, err)
	assert.Equal(t, SourceLive, snap.Source)
	assert.False(t, snap.Stale)
	assert.Empty(t, snap.Missing)
	assert.True(t, snap.AsOf.Equal(fgtesting.FixtureTime.Add(-time.Minute)))
	assert.Equal(t, "191", snap.Quotes["AAPL"].Price.String())

	// live quotes are persisted as last known good
	stored, err := history.Quotes(ctx, []string{"AAPL", "BTC"})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestProvider_QuotesFallBackOnError(t *testing.T) {
	ctx := context.Background()
	feed := fgtesting.NewMockPriceFeed()
	feed.SetQuote("AAPL", "191", fgtesting.FixtureTime)
	p := newTestProvider(feed, nil, NewMemoryHistory())

	_, err := p.Quotes(ctx, []string{"AAPL"})
	require.NoError(t, err)

	feed.SetError(errors.New("feed down"))
	snap, err := p.Quotes(ctx, []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, SourceLastKnownGood, snap.Source)
	assert.True(t, snap.Stale)
	assert.Equal(t, "191", snap.Quotes["AAPL"].Price.String())
	assert.Equal(t, []string{"MSFT"}, snap.Missing)

	status, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "feed down", status.LastError)
	assert.Equal(t, 1, status.CachedQuotes)
	assert.Equal(t, 1, status.StoredQuotes)
}

func TestProvider_QuotesFallBackOnTimeout(t *testing.T) {
	ctx := context.Background()
	history := NewMemoryHistory()
	require.NoError(t, history.SaveQuotes(ctx, []domain.Quote{quote("BTC", "60000", fgtesting.FixtureTime)}))

	feed := fgtesting.NewMockPriceFeed()
	feed.SetQuote("BTC", "70000", fgtesting.FixtureTime)
	feed.SetDelay(time.Second)
	p := newTestProvider(feed, nil, history)

	start := time.Now()
	snap, err := p.Quotes(ctx, []string{"BTC"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, snap.Stale)
	assert.Equal(t, SourceLastKnownGood, snap.Source)
	assert.Equal(t, "60000", snap.Quotes["BTC"].Price.String())
}

func TestProvider_QuotesCallerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	feed := fgtesting.NewMockPriceFeed()
	feed.SetDelay(time.Second)
	p := newTestProvider(feed, nil, nil)

	_, err := p.Quotes(ctx, []string{"BTC"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProvider_QuotesIgnoresInvalidLiveQuotes(t *testing.T) {
	ctx := context.Background()
	feed := fgtesting.NewMockPriceFeed()
	feed.SetQuote("AAPL", "0", fgtesting.FixtureTime)
	p := newTestProvider(feed, nil, nil)

	snap, err := p.Quotes(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Empty(t, snap.Quotes)
	assert.Equal(t, []string{"AAPL"}, snap.Missing)
	assert.True(t, snap.AsOf.IsZero())
}

func TestProvider_QuotesOldLiveDataIsStale(t *testing.T) {
	ctx := context.Background()
	feed := fgtesting.NewMockPriceFeed()
	feed.SetQuote("AAPL", "191", fgtesting.FixtureTime.Add(-time.Hour))
	p := newTestProvider(feed, nil, nil)

	snap, err := p.Quotes(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, SourceLive, snap.Source)
	assert.True(t, snap.Stale)
}

func TestProvider_Assess(t *testing.T) {
	p := newTestProvider(fgtesting.NewMockPriceFeed(), nil, nil)
	now := fgtesting.FixtureTime.Add(time.Minute)

	tests := []struct {
		name      string
		asOf      time.Time
		wantStale bool
		wantErr   bool
	}{
		{"fresh", now.Add(-time.Minute), false, false},
		{"stale", now.Add(-time.Hour), true, false},
		{"at ceiling", now.Add(-24 * time.Hour), true, false},
		{"past ceiling", now.Add(-25 * time.Hour), true, true},
		{"unknown", time.Time{}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stale, err := p.Assess("evaluate", tt.asOf)
			assert.Equal(t, tt.wantStale, stale)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrDataStale)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestProvider_Returns(t *testing.T) {
	ctx := context.Background()
	history := NewMemoryHistory()
	feed := fgtesting.NewMockReturnsFeed(fgtesting.ScenarioReturns())
	p := newTestProvider(fgtesting.NewMockPriceFeed(), feed, history)

	snap, err := p.Returns(ctx, []string{"AAPL", "BTC", "crypto"})
	require.NoError(t, err)
	assert.Equal(t, SourceLive, snap.Source)
	assert.False(t, snap.Stale)
	assert.Len(t, snap.Series, 2)

	feed.SetError(errors.New("feed down"))
	snap, err = p.Returns(ctx, []string{"AAPL", "BTC"})
	require.NoError(t, err)
	assert.Equal(t, SourceLastKnownGood, snap.Source)
	assert.True(t, snap.Stale)
	assert.Len(t, snap.Series, 2)

	_, series, err := history.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

func TestProvider_ReturnsWithoutFeedUsesHistory(t *testing.T) {
	ctx := context.Background()
	history := NewMemoryHistory()
	require.NoError(t, history.SaveReturns(ctx, []domain.ReturnSeries{
		{Key: "BTC", Values: []float64{0.01, -0.02, 0.03}, AsOf: fgtesting.FixtureTime, PeriodsPerYear: 365},
	}))
	p := newTestProvider(fgtesting.NewMockPriceFeed(), nil, history)

	snap, err := p.Returns(ctx, []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Len(t, snap.Series, 1)
	assert.False(t, snap.Stale)
	assert.True(t, snap.AsOf.Equal(fgtesting.FixtureTime))
}

func TestProvider_Ingest(t *testing.T) {
	ctx := context.Background()
	history := NewMemoryHistory()
	p := newTestProvider(history, history, history)

	err := p.IngestQuotes(ctx, []domain.Quote{quote("AAPL", "-1", fgtesting.FixtureTime)})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	err = p.IngestQuotes(ctx, []domain.Quote{{Symbol: "AAPL", Price: fgtesting.Dec("1")}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	require.NoError(t, p.IngestQuotes(ctx, []domain.Quote{quote("AAPL", "200", fgtesting.FixtureTime)}))
	snap, err := p.Quotes(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, SourceLive, snap.Source)
	assert.Equal(t, "200", snap.Quotes["AAPL"].Price.String())

	err = p.IngestReturns(ctx, []domain.ReturnSeries{{Key: "AAPL", Values: []float64{0.1}, AsOf: fgtesting.FixtureTime}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	require.NoError(t, p.IngestReturns(ctx, []domain.ReturnSeries{
		{Key: "AAPL", Values: []float64{0.1, 0.2}, AsOf: fgtesting.FixtureTime},
	}))
	rs, err := p.Returns(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Len(t, rs.Series, 1)
}

func TestReturnKeys(t *testing.T) {
	keys := ReturnKeys(fgtesting.BalancedPortfolio())
	assert.Equal(t, []string{"AAPL", "BND", "BTC", "VTI", "bonds", "crypto", "etfs", "stocks"}, keys)
}
