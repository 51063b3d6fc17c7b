// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Category groups assets for allocation purposes
type Category string

const (
	CategoryStocks Category = "stocks"
	CategoryCrypto Category = "crypto"
	CategoryBonds  Category = "bonds"
	CategoryETFs   Category = "etfs"
)

// DefaultCategories lists the built-in categories. Any other lower-case
// identifier named by a target allocation is accepted as well.
var DefaultCategories = []Category{CategoryStocks, CategoryCrypto, CategoryBonds, CategoryETFs}

// Hundred is 100% in percent units
var Hundred = decimal.NewFromInt(100)

// Asset represents a single holding
type Asset struct {
	PriceAsOf time.Time       `json:"price_as_of" msgpack:"price_as_of"`
	Symbol    string          `json:"symbol" msgpack:"symbol"`
	Name      string          `json:"name" msgpack:"name"`
	Category  Category        `json:"category" msgpack:"category"`
	Quantity  decimal.Decimal `json:"quantity" msgpack:"quantity"`
	Price     decimal.Decimal `json:"price" msgpack:"price"`
}

// Value returns quantity × price
func (a Asset) Value() decimal.Decimal {
	return a.Quantity.Mul(a.Price)
}

// TargetAllocation holds category weights and optional per-asset weights,
// both expressed as percent of the whole portfolio.
type TargetAllocation struct {
	Categories map[Category]decimal.Decimal `json:"categories"`
	Assets     map[string]decimal.Decimal   `json:"assets,omitempty"`
}

// CategoryTarget returns the category weight, zero when not targeted
func (t TargetAllocation) CategoryTarget(c Category) decimal.Decimal {
	return t.Categories[c]
}

// SortedCategories returns the targeted categories in name order
func (t TargetAllocation) SortedCategories() []Category {
	out := make([]Category, 0, len(t.Categories))
	for c := range t.Categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy
func (t TargetAllocation) Clone() TargetAllocation {
	out := TargetAllocation{Categories: make(map[Category]decimal.Decimal, len(t.Categories))}
	for k, v := range t.Categories {
		out.Categories[k] = v
	}
	if len(t.Assets) > 0 {
		out.Assets = make(map[string]decimal.Decimal, len(t.Assets))
		for k, v := range t.Assets {
			out.Assets[k] = v
		}
	}
	return out
}

// Constraints are per-portfolio trading restrictions
type Constraints struct {
	NoSell []string `json:"no_sell,omitempty"`
	NoBuy  []string `json:"no_buy,omitempty"`
}

// CanSell reports whether the symbol may be sold
func (c Constraints) CanSell(symbol string) bool {
	return !contains(c.NoSell, symbol)
}

// CanBuy reports whether the symbol may be bought
func (c Constraints) CanBuy(symbol string) bool {
	return !contains(c.NoBuy, symbol)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Portfolio is an immutable snapshot of holdings at a given version.
// Mutations go through portfolio.Owner, which publishes new snapshots.
type Portfolio struct {
	UpdatedAt   time.Time        `json:"updated_at"`
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Assets      []Asset          `json:"assets"`
	Target      TargetAllocation `json:"target"`
	Constraints Constraints      `json:"constraints"`
	Version     int64            `json:"version"`
}

// TotalValue sums the value of every asset
func (p *Portfolio) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Assets {
		total = total.Add(a.Value())
	}
	return total
}

// Asset looks up an asset by symbol
func (p *Portfolio) Asset(symbol string) (Asset, bool) {
	for _, a := range p.Assets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return Asset{}, false
}

// Categories returns the union of held and targeted categories, sorted
func (p *Portfolio) Categories() []Category {
	seen := make(map[Category]bool)
	for c := range p.Target.Categories {
		seen[c] = true
	}
	for _, a := range p.Assets {
		seen[a.Category] = true
	}
	out := make([]Category, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Symbols returns the asset symbols in portfolio order
func (p *Portfolio) Symbols() []string {
	out := make([]string, len(p.Assets))
	for i, a := range p.Assets {
		out[i] = a.Symbol
	}
	return out
}

// OldestPrice returns the oldest price timestamp across assets
func (p *Portfolio) OldestPrice() time.Time {
	var oldest time.Time
	for _, a := range p.Assets {
		if a.PriceAsOf.IsZero() {
			continue
		}
		if oldest.IsZero() || a.PriceAsOf.Before(oldest) {
			oldest = a.PriceAsOf
		}
	}
	return oldest
}

// Clone returns a deep copy that can be mutated freely
func (p *Portfolio) Clone() *Portfolio {
	out := *p
	out.Assets = append([]Asset(nil), p.Assets...)
	out.Target = p.Target.Clone()
	out.Constraints = Constraints{
		NoSell: append([]string(nil), p.Constraints.NoSell...),
		NoBuy:  append([]string(nil), p.Constraints.NoBuy...),
	}
	return &out
}

// ApplyTrades adjusts quantities in place. Sells may not exceed the holding.
// Callers work on a Clone so published snapshots stay untouched.
func (p *Portfolio) ApplyTrades(trades []Trade) error {
	index := make(map[string]int, len(p.Assets))
	for i, a := range p.Assets {
		index[a.Symbol] = i
	}
	for _, t := range trades {
		i, ok := index[t.Symbol]
		if !ok {
			return fmt.Errorf("trade for unknown symbol %s", t.Symbol)
		}
		switch t.Side {
		case SideSell:
			if t.Quantity.GreaterThan(p.Assets[i].Quantity) {
				return fmt.Errorf("sell of %s %s exceeds holding %s", t.Quantity, t.Symbol, p.Assets[i].Quantity)
			}
			p.Assets[i].Quantity = p.Assets[i].Quantity.Sub(t.Quantity)
		case SideBuy:
			p.Assets[i].Quantity = p.Assets[i].Quantity.Add(t.Quantity)
		default:
			return fmt.Errorf("unknown trade side %q", t.Side)
		}
	}
	return nil
}

// DriftKind tells whether a drift record describes an asset or a category
type DriftKind string

const (
	DriftKindCategory DriftKind = "category"
	DriftKindAsset    DriftKind = "asset"
)

// DriftRecord is the drift of one asset or category, current% − target%
type DriftRecord struct {
	Kind         DriftKind       `json:"kind" msgpack:"kind"`
	Key          string          `json:"key" msgpack:"key"`
	Category     Category        `json:"category" msgpack:"category"`
	CurrentPct   decimal.Decimal `json:"current_pct" msgpack:"current_pct"`
	TargetPct    decimal.Decimal `json:"target_pct" msgpack:"target_pct"`
	DriftPct     decimal.Decimal `json:"drift_pct" msgpack:"drift_pct"`
	CurrentValue decimal.Decimal `json:"current_value" msgpack:"current_value"`
	TargetValue  decimal.Decimal `json:"target_value" msgpack:"target_value"`
	Severity     string          `json:"severity,omitempty" msgpack:"severity,omitempty"`
}

// SortDriftRecords orders records by |drift| descending. Equal magnitudes are
// ordered by key, then kind, so the result depends only on the input set.
func SortDriftRecords(records []DriftRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if c := records[i].DriftPct.Abs().Cmp(records[j].DriftPct.Abs()); c != 0 {
			return c > 0
		}
		if records[i].Key != records[j].Key {
			return records[i].Key < records[j].Key
		}
		return records[i].Kind < records[j].Kind
	})
}

// Side is the trade direction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is a proposed order priced at decision time
type Trade struct {
	Side           Side            `json:"side" msgpack:"side"`
	Symbol         string          `json:"symbol" msgpack:"symbol"`
	Category       Category        `json:"category" msgpack:"category"`
	Quantity       decimal.Decimal `json:"quantity" msgpack:"quantity"`
	Price          decimal.Decimal `json:"price" msgpack:"price"`
	EstimatedValue decimal.Decimal `json:"estimated_value" msgpack:"estimated_value"`
}

// PortfolioMetrics describes one side (before or after) of an impact estimate
type PortfolioMetrics struct {
	Volatility     float64 `json:"volatility" msgpack:"volatility"`
	ExpectedReturn float64 `json:"expected_return" msgpack:"expected_return"`
	Sharpe         float64 `json:"sharpe" msgpack:"sharpe"`
}

// ImpactEstimate is the projected effect of a plan
type ImpactEstimate struct {
	RiskReductionPct       float64          `json:"risk_reduction_pct" msgpack:"risk_reduction_pct"`
	ExpectedReturnDeltaPct float64          `json:"expected_return_delta_pct" msgpack:"expected_return_delta_pct"`
	SharpeDelta            float64          `json:"sharpe_delta" msgpack:"sharpe_delta"`
	Pre                    PortfolioMetrics `json:"pre" msgpack:"pre"`
	Post                   PortfolioMetrics `json:"post" msgpack:"post"`
	Coverage               float64          `json:"coverage" msgpack:"coverage"`
	HighVolatility         []string         `json:"high_volatility,omitempty" msgpack:"high_volatility,omitempty"`
}

// Risk levels attached to plans
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RebalancePlan is the output of the trade planner, scored by the impact estimator
//
// Stale and DataAsOf record the freshness of the prices the plan was built
// from; both are part of the hashed ledger content.
type RebalancePlan struct {
	PortfolioID      string          `json:"portfolio_id" msgpack:"portfolio_id"`
	PortfolioVersion int64           `json:"portfolio_version" msgpack:"portfolio_version"`
	Trades           []Trade         `json:"trades" msgpack:"trades"`
	Trigger          []DriftRecord   `json:"trigger" msgpack:"trigger"`
	Unresolved       []DriftRecord   `json:"unresolved,omitempty" msgpack:"unresolved,omitempty"`
	SellTotal        decimal.Decimal `json:"sell_total" msgpack:"sell_total"`
	BuyTotal         decimal.Decimal `json:"buy_total" msgpack:"buy_total"`
	CashDrift        decimal.Decimal `json:"cash_drift" msgpack:"cash_drift"`
	Impact           ImpactEstimate  `json:"impact" msgpack:"impact"`
	Confidence       float64         `json:"confidence" msgpack:"confidence"`
	RiskLevel        string          `json:"risk_level" msgpack:"risk_level"`
	Reason           string          `json:"reason" msgpack:"reason"`
	Stale            bool            `json:"stale" msgpack:"stale"`
	DataAsOf         time.Time       `json:"data_as_of" msgpack:"data_as_of"`
}

// AffectedSymbols returns the traded symbols in trade order
func (p *RebalancePlan) AffectedSymbols() []string {
	out := make([]string, 0, len(p.Trades))
	for _, t := range p.Trades {
		out = append(out, t.Symbol)
	}
	return out
}
