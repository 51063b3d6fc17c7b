// Package planning turns drift violations into a self-funding set of trades.
package planning

import (
	"sort"

	"github.com/finguard/finguard/internal/config"
	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/modules/allocation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// quantityPlaces is the precision of planned trade quantities
const quantityPlaces = 8

// Config holds the numeric trading policy used by the planner
type Config struct {
	DriftThreshold         decimal.Decimal // percent
	ResidualTolerance      decimal.Decimal // percent
	MaxSingleTradeFraction decimal.Decimal // fraction of total value
	MinTradeValue          decimal.Decimal
	CashDragTolerance      decimal.Decimal
}

// ConfigFromPolicy extracts planner settings from the policy
func ConfigFromPolicy(p *config.Policy) Config {
	return Config{
		DriftThreshold:         p.DriftThreshold,
		ResidualTolerance:      p.ResidualTolerance,
		MaxSingleTradeFraction: p.MaxSingleTradeFraction,
		MinTradeValue:          p.MinTradeValue,
		CashDragTolerance:      p.CashDragTolerance,
	}
}

// Planner computes rebalancing trades
type Planner struct {
	cfg Config
	log zerolog.Logger
}

// NewPlanner creates a new trade planner
func NewPlanner(cfg Config, log zerolog.Logger) *Planner {
	return &Planner{
		cfg: cfg,
		log: log.With().Str("component", "trade_planner").Logger(),
	}
}

// Plan builds a trade set that moves the portfolio toward its targets.
//
// It returns a NoActionNeeded error when there are no violations and an
// InfeasiblePlan error, carrying the violations, when the constraints leave
// nothing that reduces any of them. Output depends only on the arguments.
func (pl *Planner) Plan(p *domain.Portfolio, violations []domain.DriftRecord, constraints domain.Constraints) (*domain.RebalancePlan, error) {
	const op = "plan trades"

	if len(violations) == 0 {
		return nil, domain.NewError(domain.KindNoActionNeeded, op, "no drift violations for portfolio %s", p.ID)
	}

	total := p.TotalValue()
	if !total.IsPositive() {
		return nil, domain.InfeasiblePlan(op, violations, "portfolio %s has no value to rebalance", p.ID)
	}

	s := newSession(pl.cfg, p, violations, constraints, total)
	touched := s.planCategories()
	s.planWithinCategories(touched)

	trades := s.trades()
	trades = pl.dropSmall(trades)
	trades = pl.balance(trades)

	if len(trades) == 0 {
		return nil, domain.InfeasiblePlan(op, violations, "constraints leave no qualifying trade")
	}

	post, err := simulate(p, trades)
	if err != nil {
		return nil, domain.InfeasiblePlan(op, violations, "trade simulation failed: %v", err)
	}
	if !improves(violations, post) {
		return nil, domain.InfeasiblePlan(op, violations, "no violation is reduced by the feasible trades")
	}

	plan := &domain.RebalancePlan{
		PortfolioID:      p.ID,
		PortfolioVersion: p.Version,
		Trades:           trades,
		Trigger:          append([]domain.DriftRecord(nil), violations...),
		Unresolved:       pl.unresolved(post),
	}
	plan.SellTotal, plan.BuyTotal = sideTotals(trades)
	plan.CashDrift = plan.BuyTotal.Sub(plan.SellTotal)

	pl.log.Debug().
		Str("portfolio_id", p.ID).
		Int("trades", len(trades)).
		Str("sell_total", plan.SellTotal.StringFixed(2)).
		Str("buy_total", plan.BuyTotal.StringFixed(2)).
		Int("unresolved", len(plan.Unresolved)).
		Msg("Rebalance plan computed")

	return plan, nil
}

// dropSmall removes trades below the minimum trade value or with no quantity
func (pl *Planner) dropSmall(trades []domain.Trade) []domain.Trade {
	out := trades[:0]
	for _, t := range trades {
		if t.Quantity.IsZero() || t.EstimatedValue.LessThan(pl.cfg.MinTradeValue) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// balance trims the heavier side, starting from its last trade, until sells
// and buys agree within the cash drag tolerance
func (pl *Planner) balance(trades []domain.Trade) []domain.Trade {
	for guard := 2*len(trades) + 2; guard > 0; guard-- {
		sells, buys := sideTotals(trades)
		diff := buys.Sub(sells)
		if diff.Abs().LessThanOrEqual(pl.cfg.CashDragTolerance) {
			return trades
		}

		heavy := domain.SideBuy
		if diff.IsNegative() {
			heavy = domain.SideSell
		}

		i := lastOfSide(trades, heavy)
		if i < 0 {
			return nil
		}

		t := trades[i]
		target := t.EstimatedValue.Sub(diff.Abs())
		if !target.IsPositive() {
			trades = append(trades[:i], trades[i+1:]...)
			continue
		}
		t.Quantity = quantity(target, t.Price)
		t.EstimatedValue = t.Quantity.Mul(t.Price)
		trades[i] = t
		trades = pl.dropSmall(trades)
	}

	sells, buys := sideTotals(trades)
	if buys.Sub(sells).Abs().GreaterThan(pl.cfg.CashDragTolerance) {
		return nil
	}
	return trades
}

func (pl *Planner) unresolved(post []domain.DriftRecord) []domain.DriftRecord {
	var out []domain.DriftRecord
	for _, r := range post {
		if r.DriftPct.Abs().GreaterThan(pl.cfg.DriftThreshold) {
			out = append(out, r)
		}
	}
	domain.SortDriftRecords(out)
	return out
}

// quantity converts a value to units, truncated so the trade never exceeds the value
func quantity(value, price decimal.Decimal) decimal.Decimal {
	return value.Div(price).Truncate(quantityPlaces)
}

func lastOfSide(trades []domain.Trade, side domain.Side) int {
	for i := len(trades) - 1; i >= 0; i-- {
		if trades[i].Side == side {
			return i
		}
	}
	return -1
}

func sideTotals(trades []domain.Trade) (sells, buys decimal.Decimal) {
	for _, t := range trades {
		switch t.Side {
		case domain.SideSell:
			sells = sells.Add(t.EstimatedValue)
		case domain.SideBuy:
			buys = buys.Add(t.EstimatedValue)
		}
	}
	return sells, buys
}

// simulate applies the trades to a copy and recomputes drift
func simulate(p *domain.Portfolio, trades []domain.Trade) ([]domain.DriftRecord, error) {
	after := p.Clone()
	if err := after.ApplyTrades(trades); err != nil {
		return nil, err
	}
	return allocation.Drift(after), nil
}

// improves reports whether any violation's magnitude shrinks after the trades
func improves(violations, post []domain.DriftRecord) bool {
	byKey := make(map[string]domain.DriftRecord, len(post))
	for _, r := range post {
		byKey[string(r.Kind)+"/"+r.Key] = r
	}
	for _, v := range violations {
		r, ok := byKey[string(v.Kind)+"/"+v.Key]
		if ok && r.DriftPct.Abs().LessThan(v.DriftPct.Abs()) {
			return true
		}
	}
	return false
}

// session carries the working state of one Plan call
type session struct {
	portfolio   *domain.Portfolio
	constraints domain.Constraints
	total       decimal.Decimal
	cap         decimal.Decimal
	tolerance   decimal.Decimal

	violating  map[string]bool // "kind/key"
	assetDrift map[string]decimal.Decimal
	targets    map[string]decimal.Decimal // asset target values

	// planned amounts per symbol, in creation order
	order  []string
	amount map[string]decimal.Decimal
	side   map[string]domain.Side
}

func newSession(cfg Config, p *domain.Portfolio, violations []domain.DriftRecord, constraints domain.Constraints, total decimal.Decimal) *session {
	s := &session{
		portfolio:   p,
		constraints: constraints,
		total:       total,
		cap:         cfg.MaxSingleTradeFraction.Mul(total),
		tolerance:   cfg.ResidualTolerance.Mul(total).Div(domain.Hundred),
		violating:   make(map[string]bool, len(violations)),
		assetDrift:  make(map[string]decimal.Decimal, len(p.Assets)),
		targets:     make(map[string]decimal.Decimal, len(p.Assets)),
		amount:      make(map[string]decimal.Decimal),
		side:        make(map[string]domain.Side),
	}
	for _, v := range violations {
		s.violating[string(v.Kind)+"/"+v.Key] = true
	}
	for _, r := range allocation.Drift(p) {
		if r.Kind == domain.DriftKindAsset {
			s.assetDrift[r.Key] = r.DriftPct
			s.targets[r.Key] = r.TargetValue
		}
	}
	return s
}

func (s *session) sellable(a domain.Asset) bool {
	return a.Quantity.IsPositive() && s.constraints.CanSell(a.Symbol)
}

func (s *session) buyable(a domain.Asset) bool {
	return s.constraints.CanBuy(a.Symbol)
}

func (s *session) assetsIn(c domain.Category) []domain.Asset {
	var out []domain.Asset
	for _, a := range s.portfolio.Assets {
		if a.Category == c {
			out = append(out, a)
		}
	}
	return out
}

// planCategories moves value between categories and returns the categories it traded
func (s *session) planCategories() map[domain.Category]bool {
	var sources, sinks []*bucket
	for _, r := range allocation.Drift(s.portfolio) {
		if r.Kind != domain.DriftKindCategory {
			continue
		}
		delta := r.TargetValue.Sub(r.CurrentValue)
		c := domain.Category(r.Key)
		b := &bucket{key: r.Key, need: delta.Abs(), violating: s.violating["category/"+r.Key]}

		switch {
		case delta.IsNegative():
			b.capacity = s.sellCapacity(c)
			sources = append(sources, b)
		case delta.IsPositive():
			b.capacity = s.buyCapacity(c)
			sinks = append(sinks, b)
		}
	}

	out, in := totals(transport(sources, sinks, s.tolerance))

	touched := make(map[domain.Category]bool)
	for _, b := range sources {
		if amt, ok := out[b.key]; ok {
			s.sellFrom(domain.Category(b.key), amt)
			touched[domain.Category(b.key)] = true
		}
	}
	for _, b := range sinks {
		if amt, ok := in[b.key]; ok {
			s.buyInto(domain.Category(b.key), amt)
			touched[domain.Category(b.key)] = true
		}
	}
	return touched
}

// planWithinCategories shifts value between assets of categories that are on
// target overall but hold asset-level violations
func (s *session) planWithinCategories(touched map[domain.Category]bool) {
	for _, c := range s.portfolio.Categories() {
		if touched[c] || !s.hasAssetViolation(c) {
			continue
		}

		var sources, sinks []*bucket
		for _, a := range s.assetsIn(c) {
			delta := s.targets[a.Symbol].Sub(a.Value())
			b := &bucket{key: a.Symbol, need: delta.Abs(), violating: s.violating["asset/"+a.Symbol]}

			switch {
			case delta.IsNegative():
				if s.sellable(a) {
					b.capacity = decimal.Min(a.Value(), s.cap)
				}
				sources = append(sources, b)
			case delta.IsPositive():
				if s.buyable(a) {
					b.capacity = s.cap
				}
				sinks = append(sinks, b)
			}
		}

		for _, f := range transport(sources, sinks, s.tolerance) {
			s.add(f.from, domain.SideSell, f.amount)
			s.add(f.to, domain.SideBuy, f.amount)
		}
	}
}

func (s *session) hasAssetViolation(c domain.Category) bool {
	for _, a := range s.assetsIn(c) {
		if s.violating["asset/"+a.Symbol] {
			return true
		}
	}
	return false
}

func (s *session) sellCapacity(c domain.Category) decimal.Decimal {
	capacity := decimal.Zero
	for _, a := range s.assetsIn(c) {
		if s.sellable(a) {
			capacity = capacity.Add(decimal.Min(a.Value(), s.cap))
		}
	}
	return capacity
}

func (s *session) buyCapacity(c domain.Category) decimal.Decimal {
	capacity := decimal.Zero
	for _, a := range s.assetsIn(c) {
		if s.buyable(a) {
			capacity = capacity.Add(s.cap)
		}
	}
	return capacity
}

// sellFrom spreads a category sale over its most overweight assets first
func (s *session) sellFrom(c domain.Category, amount decimal.Decimal) {
	assets := s.assetsIn(c)
	sort.SliceStable(assets, func(i, j int) bool {
		if cmp := s.assetDrift[assets[i].Symbol].Cmp(s.assetDrift[assets[j].Symbol]); cmp != 0 {
			return cmp > 0
		}
		return assets[i].Symbol < assets[j].Symbol
	})

	remaining := amount
	for _, a := range assets {
		if !remaining.IsPositive() {
			return
		}
		if !s.sellable(a) {
			continue
		}
		take := decimal.Min(remaining, a.Value(), s.cap)
		s.add(a.Symbol, domain.SideSell, take)
		remaining = remaining.Sub(take)
	}
}

// buyInto spreads a category purchase over its most underweight assets first
func (s *session) buyInto(c domain.Category, amount decimal.Decimal) {
	assets := s.assetsIn(c)
	sort.SliceStable(assets, func(i, j int) bool {
		if cmp := s.assetDrift[assets[i].Symbol].Cmp(s.assetDrift[assets[j].Symbol]); cmp != 0 {
			return cmp < 0
		}
		return assets[i].Symbol < assets[j].Symbol
	})

	remaining := amount
	for _, a := range assets {
		if !remaining.IsPositive() {
			return
		}
		if !s.buyable(a) {
			continue
		}
		take := decimal.Min(remaining, s.cap)
		s.add(a.Symbol, domain.SideBuy, take)
		remaining = remaining.Sub(take)
	}
}

func (s *session) add(symbol string, side domain.Side, value decimal.Decimal) {
	if _, ok := s.amount[symbol]; !ok {
		s.order = append(s.order, symbol)
		s.side[symbol] = side
	}
	s.amount[symbol] = s.amount[symbol].Add(value)
}

// trades converts planned amounts to priced trades, sells first
func (s *session) trades() []domain.Trade {
	var sells, buys []domain.Trade
	for _, symbol := range s.order {
		a, _ := s.portfolio.Asset(symbol)
		qty := quantity(s.amount[symbol], a.Price)
		side := s.side[symbol]
		if side == domain.SideSell && qty.GreaterThan(a.Quantity) {
			qty = a.Quantity
		}

		t := domain.Trade{
			Side:           side,
			Symbol:         symbol,
			Category:       a.Category,
			Quantity:       qty,
			Price:          a.Price,
			EstimatedValue: qty.Mul(a.Price),
		}
		if side == domain.SideSell {
			sells = append(sells, t)
		} else {
			buys = append(buys, t)
		}
	}
	return append(sells, buys...)
}
