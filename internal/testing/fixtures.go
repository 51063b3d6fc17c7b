package testing

import (
	"math"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/shopspring/decimal"
)

// FixtureTime is the reference clock used by fixtures
var FixtureTime = time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

// Dec parses a decimal literal, panicking on malformed input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NewAsset builds an asset priced at FixtureTime
func NewAsset(symbol string, category domain.Category, quantity, price string) domain.Asset {
	return domain.Asset{
		Symbol:    symbol,
		Name:      symbol,
		Category:  category,
		Quantity:  Dec(quantity),
		Price:     Dec(price),
		PriceAsOf: FixtureTime,
	}
}

// DefaultTargets is the stocks/crypto/bonds/etfs 50/15/25/10 split
func DefaultTargets() domain.TargetAllocation {
	return domain.TargetAllocation{Categories: map[domain.Category]decimal.Decimal{
		domain.CategoryStocks: Dec("50"),
		domain.CategoryCrypto: Dec("15"),
		domain.CategoryBonds:  Dec("25"),
		domain.CategoryETFs:   Dec("10"),
	}}
}

// ScenarioPortfolio is a $125,420.50 portfolio holding BTC at 24.7% against a
// 15% crypto target, stocks at 45% (target 50), bonds at 20.3% (target 25)
// and ETFs exactly on target at 10%.
func ScenarioPortfolio() *domain.Portfolio {
	return &domain.Portfolio{
		ID:   "main",
		Name: "Main Portfolio",
		Assets: []domain.Asset{
			NewAsset("AAPL", domain.CategoryStocks, "100", "190.50"),
			NewAsset("MSFT", domain.CategoryStocks, "50", "410.30"),
			NewAsset("GOOGL", domain.CategoryStocks, "100", "168.74225"),
			NewAsset("BTC", domain.CategoryCrypto, "0.5", "61957.727"),
			NewAsset("BND", domain.CategoryBonds, "200", "72.10"),
			NewAsset("TLT", domain.CategoryBonds, "120", "92.0030125"),
			NewAsset("VTI", domain.CategoryETFs, "50", "250.841"),
		},
		Target:    DefaultTargets(),
		Version:   1,
		UpdatedAt: FixtureTime,
	}
}

// BalancedPortfolio holds every category exactly on its default target
func BalancedPortfolio() *domain.Portfolio {
	return &domain.Portfolio{
		ID:   "balanced",
		Name: "Balanced",
		Assets: []domain.Asset{
			NewAsset("AAPL", domain.CategoryStocks, "50", "100"),
			NewAsset("BTC", domain.CategoryCrypto, "1", "1500"),
			NewAsset("BND", domain.CategoryBonds, "25", "100"),
			NewAsset("VTI", domain.CategoryETFs, "10", "100"),
		},
		Target:    DefaultTargets(),
		Version:   1,
		UpdatedAt: FixtureTime,
	}
}

// SyntheticReturns produces a deterministic daily return series. Scale sets the
// amplitude and phase shifts the oscillation so series are partially correlated.
func SyntheticReturns(n int, drift, scale, phase float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		x := float64(i)
		out[i] = drift + scale*math.Sin(x/3+phase) + scale*0.5*math.Cos(x/7+2*phase)
	}
	return out
}

// ScenarioReturns returns per-symbol series for ScenarioPortfolio, observed at FixtureTime
func ScenarioReturns() map[string]domain.ReturnSeries {
	specs := map[string][3]float64{
		"AAPL":  {0.0006, 0.012, 0.1},
		"MSFT":  {0.0005, 0.011, 0.3},
		"GOOGL": {0.0004, 0.013, 0.5},
		"BTC":   {0.0015, 0.060, 1.7},
		"BND":   {0.0001, 0.003, 2.9},
		"TLT":   {0.0001, 0.006, 3.1},
		"VTI":   {0.0004, 0.009, 0.2},
	}
	out := make(map[string]domain.ReturnSeries, len(specs))
	for key, s := range specs {
		out[key] = domain.ReturnSeries{
			Key:            key,
			Values:         SyntheticReturns(120, s[0], s[1], s[2]),
			AsOf:           FixtureTime,
			PeriodsPerYear: 252,
		}
	}
	return out
}
