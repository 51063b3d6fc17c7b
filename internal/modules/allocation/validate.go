package allocation

import (
	"regexp"

	"github.com/finguard/finguard/internal/domain"
	"github.com/shopspring/decimal"
)

var categoryPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateTargets checks a target allocation against the assets it will be applied to.
// Weights must sum to 100 within epsilon; they are never normalized.
func ValidateTargets(target domain.TargetAllocation, assets []domain.Asset, epsilon decimal.Decimal) error {
	invalid := func(format string, args ...interface{}) error {
		return domain.NewError(domain.KindInvalidConfiguration, "validate targets", format, args...)
	}

	if len(target.Categories) == 0 {
		return invalid("at least one category target is required")
	}

	sum := decimal.Zero
	for _, c := range target.SortedCategories() {
		w := target.Categories[c]
		if !categoryPattern.MatchString(string(c)) {
			return invalid("invalid category name %q", c)
		}
		if w.IsNegative() || w.GreaterThan(domain.Hundred) {
			return invalid("category %s target %s%% is outside [0, 100]", c, w)
		}
		sum = sum.Add(w)
	}
	if sum.Sub(domain.Hundred).Abs().GreaterThan(epsilon) {
		return invalid("category targets sum to %s%%, expected 100%% ± %s", sum, epsilon)
	}

	if len(target.Assets) == 0 {
		return nil
	}

	categoryOf := make(map[string]domain.Category, len(assets))
	countIn := make(map[domain.Category]int)
	for _, a := range assets {
		categoryOf[a.Symbol] = a.Category
		countIn[a.Category]++
	}

	explicitSum := make(map[domain.Category]decimal.Decimal)
	explicitCount := make(map[domain.Category]int)
	for symbol, w := range target.Assets {
		c, ok := categoryOf[symbol]
		if !ok {
			return invalid("asset target for unknown symbol %s", symbol)
		}
		if w.IsNegative() {
			return invalid("asset %s target %s%% is negative", symbol, w)
		}
		explicitSum[c] = explicitSum[c].Add(w)
		explicitCount[c]++
	}

	for c, s := range explicitSum {
		catTarget := target.CategoryTarget(c)
		if s.Sub(catTarget).GreaterThan(epsilon) {
			return invalid("asset targets in %s sum to %s%%, above the category target %s%%", c, s, catTarget)
		}
		// Fully specified categories must add up exactly
		if explicitCount[c] == countIn[c] && s.Sub(catTarget).Abs().GreaterThan(epsilon) {
			return invalid("asset targets in %s sum to %s%%, expected %s%%", c, s, catTarget)
		}
	}

	return nil
}

// ValidatePortfolio checks holdings and targets before a portfolio is accepted
func ValidatePortfolio(p *domain.Portfolio, epsilon decimal.Decimal) error {
	invalid := func(format string, args ...interface{}) error {
		return domain.NewError(domain.KindInvalidConfiguration, "validate portfolio", format, args...)
	}

	if p.ID == "" {
		return invalid("portfolio id is required")
	}

	seen := make(map[string]bool, len(p.Assets))
	for _, a := range p.Assets {
		if a.Symbol == "" {
			return invalid("asset symbol is required")
		}
		if seen[a.Symbol] {
			return invalid("duplicate asset symbol %s", a.Symbol)
		}
		seen[a.Symbol] = true

		if !categoryPattern.MatchString(string(a.Category)) {
			return invalid("asset %s has invalid category %q", a.Symbol, a.Category)
		}
		if a.Quantity.IsNegative() {
			return invalid("asset %s has negative quantity", a.Symbol)
		}
		if !a.Price.IsPositive() {
			return invalid("asset %s must have a positive price", a.Symbol)
		}
	}

	return ValidateTargets(p.Target, p.Assets, epsilon)
}
