// Package allocation computes current allocations and drift against targets.
//
// All arithmetic is decimal. Nothing is rounded here; rounding belongs to the
// presentation boundary (JSON rendering).
package allocation

import (
	"sort"

	"github.com/finguard/finguard/internal/domain"
	"github.com/shopspring/decimal"
)

// CategoryAllocation represents allocation for a single category
type CategoryAllocation struct {
	Name         domain.Category `json:"name"`
	TargetPct    decimal.Decimal `json:"target_pct"`
	CurrentPct   decimal.Decimal `json:"current_pct"`
	CurrentValue decimal.Decimal `json:"current_value"`
	Deviation    decimal.Decimal `json:"deviation"`
}

// CurrentAllocation returns value-weighted category percentages.
// Every held or targeted category is present; with zero total value all are 0.
func CurrentAllocation(p *domain.Portfolio) map[domain.Category]decimal.Decimal {
	values := categoryValues(p)
	total := p.TotalValue()

	out := make(map[domain.Category]decimal.Decimal, len(values))
	for _, c := range p.Categories() {
		out[c] = percentOf(values[c], total)
	}
	return out
}

// Summarize returns per-category allocation rows sorted by name
func Summarize(p *domain.Portfolio) []CategoryAllocation {
	values := categoryValues(p)
	total := p.TotalValue()

	rows := make([]CategoryAllocation, 0, len(values))
	for _, c := range p.Categories() {
		current := percentOf(values[c], total)
		target := p.Target.CategoryTarget(c)
		rows = append(rows, CategoryAllocation{
			Name:         c,
			TargetPct:    target,
			CurrentPct:   current,
			CurrentValue: values[c],
			Deviation:    driftOf(current, target, total),
		})
	}
	return rows
}

// Drift computes one record per category followed by one record per asset.
// Categories and assets are each ordered by key.
func Drift(p *domain.Portfolio) []domain.DriftRecord {
	total := p.TotalValue()
	values := categoryValues(p)
	assetTargets := AssetTargets(p)

	records := make([]domain.DriftRecord, 0, len(values)+len(p.Assets))

	for _, c := range p.Categories() {
		current := percentOf(values[c], total)
		target := p.Target.CategoryTarget(c)
		records = append(records, domain.DriftRecord{
			Kind:         domain.DriftKindCategory,
			Key:          string(c),
			Category:     c,
			CurrentPct:   current,
			TargetPct:    target,
			DriftPct:     driftOf(current, target, total),
			CurrentValue: values[c],
			TargetValue:  valueOf(target, total),
		})
	}

	assets := append([]domain.Asset(nil), p.Assets...)
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })

	for _, a := range assets {
		value := a.Value()
		current := percentOf(value, total)
		target := assetTargets[a.Symbol]
		records = append(records, domain.DriftRecord{
			Kind:         domain.DriftKindAsset,
			Key:          a.Symbol,
			Category:     a.Category,
			CurrentPct:   current,
			TargetPct:    target,
			DriftPct:     driftOf(current, target, total),
			CurrentValue: value,
			TargetValue:  valueOf(target, total),
		})
	}

	return records
}

// AssetTargets resolves the target weight of every asset, in percent of the portfolio.
//
// Explicit per-asset targets are used as given. Whatever remains of the
// category target is shared among the other assets of that category in
// proportion to their current value, or equally when they hold no value.
func AssetTargets(p *domain.Portfolio) map[string]decimal.Decimal {
	byCategory := make(map[domain.Category][]domain.Asset)
	for _, a := range p.Assets {
		byCategory[a.Category] = append(byCategory[a.Category], a)
	}

	out := make(map[string]decimal.Decimal, len(p.Assets))
	for c, assets := range byCategory {
		remaining := p.Target.CategoryTarget(c)
		var implicit []domain.Asset
		implicitValue := decimal.Zero

		for _, a := range assets {
			if t, ok := p.Target.Assets[a.Symbol]; ok {
				out[a.Symbol] = t
				remaining = remaining.Sub(t)
				continue
			}
			implicit = append(implicit, a)
			implicitValue = implicitValue.Add(a.Value())
		}

		if len(implicit) == 0 {
			continue
		}
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}

		for _, a := range implicit {
			if implicitValue.IsZero() {
				out[a.Symbol] = remaining.Div(decimal.NewFromInt(int64(len(implicit))))
			} else {
				out[a.Symbol] = remaining.Mul(a.Value()).Div(implicitValue)
			}
		}
	}
	return out
}

func categoryValues(p *domain.Portfolio) map[domain.Category]decimal.Decimal {
	values := make(map[domain.Category]decimal.Decimal)
	for c := range p.Target.Categories {
		values[c] = decimal.Zero
	}
	for _, a := range p.Assets {
		values[a.Category] = values[a.Category].Add(a.Value())
	}
	return values
}

func percentOf(value, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return value.Mul(domain.Hundred).Div(total)
}

func valueOf(pct, total decimal.Decimal) decimal.Decimal {
	return pct.Mul(total).Div(domain.Hundred)
}

// An empty portfolio has no drift
func driftOf(current, target, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return current.Sub(target)
}
