package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/events"
	fgtesting "github.com/finguard/finguard/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	r := NewRegistry(repo, dec("0.01"), nopLogger())
	_, err := r.Put(context.Background(), fgtesting.ScenarioPortfolio())
	require.NoError(t, err)
	return r, repo
}

func TestRegistry_Put(t *testing.T) {
	r, repo := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.Snapshot("main")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)

	stored, err := repo.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, p.Symbols(), stored.Symbols())

	// Replacing keeps the version sequence
	replacement := fgtesting.BalancedPortfolio()
	replacement.ID = "main"
	p, err = r.Put(ctx, replacement)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)
	assert.Equal(t, []string{"AAPL", "BTC", "BND", "VTI"}, p.Symbols())
	assert.Equal(t, 1, r.Count())

	bad := fgtesting.BalancedPortfolio()
	bad.Target.Categories[domain.CategoryStocks] = dec("60")
	_, err = r.Put(ctx, bad)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration), "got %v", err)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_NotFound(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Owner("missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = r.ExecuteTrades(context.Background(), "missing", "AL-1", nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRegistry_Load(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, fgtesting.ScenarioPortfolio()))
	require.NoError(t, repo.Save(ctx, fgtesting.BalancedPortfolio()))

	r := NewRegistry(repo, dec("0.01"), nopLogger())
	require.NoError(t, r.Load(ctx))

	owners := r.Owners()
	require.Len(t, owners, 2)
	assert.Equal(t, "balanced", owners[0].ID())
	assert.Equal(t, "main", owners[1].ID())
}

func TestOwner_ExecuteTradesPublishesNewSnapshot(t *testing.T) {
	r, repo := newTestRegistry(t)
	ctx := context.Background()

	owner, err := r.Owner("main")
	require.NoError(t, err)
	before := owner.Snapshot()

	version, err := r.ExecuteTrades(ctx, "main", "AL-1", []domain.Trade{
		{Side: domain.SideSell, Symbol: "BTC", Quantity: dec("0.1"), Price: dec("61957.727")},
		{Side: domain.SideBuy, Symbol: "BND", Quantity: dec("10"), Price: dec("72.10")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	after := owner.Snapshot()
	btc, _ := after.Asset("BTC")
	assert.True(t, btc.Quantity.Equal(dec("0.4")))
	bnd, _ := after.Asset("BND")
	assert.True(t, bnd.Quantity.Equal(dec("210")))

	// The earlier snapshot is untouched
	oldBTC, _ := before.Asset("BTC")
	assert.True(t, oldBTC.Quantity.Equal(dec("0.5")))
	assert.Equal(t, int64(1), before.Version)

	stored, err := repo.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	_, err = r.ExecuteTrades(ctx, "main", "AL-2", []domain.Trade{
		{Side: domain.SideSell, Symbol: "BTC", Quantity: dec("5"), Price: dec("61957.727")},
	})
	assert.True(t, errors.Is(err, domain.ErrInfeasiblePlan), "got %v", err)
	assert.Equal(t, int64(2), owner.Snapshot().Version)
}

func TestOwner_ExecuteTradesAppliesEachEntryOnce(t *testing.T) {
	r, repo := newTestRegistry(t)
	ctx := context.Background()
	trades := []domain.Trade{
		{Side: domain.SideSell, Symbol: "BTC", Quantity: dec("0.1"), Price: dec("61957.727")},
		{Side: domain.SideBuy, Symbol: "BND", Quantity: dec("10"), Price: dec("72.10")},
	}

	first, err := r.ExecuteTrades(ctx, "main", "AL-1", trades)
	require.NoError(t, err)
	again, err := r.ExecuteTrades(ctx, "main", "AL-1", trades)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	p, err := r.Snapshot("main")
	require.NoError(t, err)
	assert.Equal(t, first, p.Version)
	btc, _ := p.Asset("BTC")
	assert.True(t, btc.Quantity.Equal(dec("0.4")), "BTC at %s", btc.Quantity)

	stored, err := repo.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, first, stored.Version)

	// a different entry with the same trades is applied
	_, err = r.ExecuteTrades(ctx, "main", "AL-2", trades)
	require.NoError(t, err)
	p, err = r.Snapshot("main")
	require.NoError(t, err)
	btc, _ = p.Asset("BTC")
	assert.True(t, btc.Quantity.Equal(dec("0.3")), "BTC at %s", btc.Quantity)
}

func TestOwner_FailedExecutionCanBeRetried(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.ExecuteTrades(ctx, "main", "AL-1", []domain.Trade{
		{Side: domain.SideSell, Symbol: "BTC", Quantity: dec("5"), Price: dec("61957.727")},
	})
	require.Error(t, err)

	// nothing was applied, so the entry is not remembered
	_, err = r.ExecuteTrades(ctx, "main", "AL-1", []domain.Trade{
		{Side: domain.SideSell, Symbol: "BTC", Quantity: dec("0.1"), Price: dec("61957.727")},
	})
	require.NoError(t, err)
	p, err := r.Snapshot("main")
	require.NoError(t, err)
	btc, _ := p.Asset("BTC")
	assert.True(t, btc.Quantity.Equal(dec("0.4")))
}

func TestOwner_ApplyQuotes(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	owner, err := r.Owner("main")
	require.NoError(t, err)

	later := fgtesting.FixtureTime.Add(time.Minute)
	p, updated, err := owner.ApplyQuotes(ctx, map[string]domain.Quote{
		"BTC":  {Symbol: "BTC", Price: dec("65000"), AsOf: later},
		"AAPL": {Symbol: "AAPL", Price: dec("180"), AsOf: fgtesting.FixtureTime.Add(-time.Hour)}, // older than held
		"MSFT": {Symbol: "MSFT", Price: dec("0"), AsOf: later},                                   // non-positive
		"XYZ":  {Symbol: "XYZ", Price: dec("10"), AsOf: later},                                   // not held
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.Equal(t, int64(2), p.Version)

	btc, _ := p.Asset("BTC")
	assert.True(t, btc.Price.Equal(dec("65000")))
	assert.Equal(t, later, btc.PriceAsOf)
	aapl, _ := p.Asset("AAPL")
	assert.True(t, aapl.Price.Equal(dec("190.50")))

	// Nothing new: no version bump
	p, updated, err = owner.ApplyQuotes(ctx, map[string]domain.Quote{
		"BTC": {Symbol: "BTC", Price: dec("65000"), AsOf: later},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
	assert.Equal(t, int64(2), p.Version)
}

func TestOwner_SetTargetsAndConstraints(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	bus := events.NewBus(nopLogger())
	var received []events.EventType
	bus.Subscribe(events.AllocationTargetsChanged, func(e *events.Event) { received = append(received, e.Type) })
	bus.Subscribe(events.PortfolioChanged, func(e *events.Event) { received = append(received, e.Type) })
	r.SetEventManager(events.NewManager(bus, nopLogger()))

	owner, err := r.Owner("main")
	require.NoError(t, err)

	target := fgtesting.DefaultTargets()
	target.Categories[domain.CategoryCrypto] = dec("20")
	target.Categories[domain.CategoryStocks] = dec("45")
	p, err := owner.SetTargets(ctx, target)
	require.NoError(t, err)
	assert.True(t, p.Target.Categories[domain.CategoryCrypto].Equal(dec("20")))

	target.Categories[domain.CategoryCrypto] = dec("30")
	_, err = owner.SetTargets(ctx, target)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
	assert.True(t, owner.Snapshot().Target.Categories[domain.CategoryCrypto].Equal(dec("20")))

	p, err = owner.SetConstraints(ctx, domain.Constraints{NoSell: []string{"BTC"}})
	require.NoError(t, err)
	assert.False(t, p.Constraints.CanSell("BTC"))
	assert.Equal(t, int64(3), p.Version)

	assert.Equal(t, []events.EventType{
		events.PortfolioChanged,
		events.AllocationTargetsChanged,
		events.PortfolioChanged,
	}, received)
}

func TestOwner_ConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	owner, err := r.Owner("main")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p := owner.Snapshot()
				total := p.TotalValue()
				assert.True(t, total.Equal(p.TotalValue()))
			}
		}()
	}
	for i := 0; i < 10; i++ {
		_, _, err := owner.ExecuteTrades(ctx, fmt.Sprintf("AL-%d", i), []domain.Trade{
			{Side: domain.SideBuy, Symbol: "BND", Quantity: dec("1"), Price: dec("72.10")},
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int64(11), owner.Snapshot().Version)
	bnd, _ := owner.Snapshot().Asset("BND")
	assert.True(t, bnd.Quantity.Equal(dec("210")))
}
