package rebalancing

import (
	"fmt"
	"strings"
	"time"

	"github.com/finguard/finguard/internal/domain"
)

const maxVolatileListed = 3

// BuildReason renders the human-readable explanation stored with a plan
func BuildReason(plan *domain.RebalancePlan) string {
	if len(plan.Trigger) == 0 {
		return "Rebalancing recommended to restore target allocation."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Portfolio drift detected: %s. Rebalancing recommended to restore target allocation.", describeDrift(plan.Trigger[0]))

	if len(plan.Trigger) > 1 {
		others := make([]string, 0, len(plan.Trigger)-1)
		for _, v := range plan.Trigger[1:] {
			others = append(others, describeDrift(v))
		}
		fmt.Fprintf(&b, " Also: %s.", strings.Join(others, "; "))
	}

	if volatile := plan.Impact.HighVolatility; len(volatile) > 0 {
		if len(volatile) > maxVolatileListed {
			volatile = volatile[:maxVolatileListed]
		}
		fmt.Fprintf(&b, " High volatility detected in: %s.", strings.Join(volatile, ", "))
	}

	sells, buys := 0, 0
	for _, t := range plan.Trades {
		if t.Side == domain.SideSell {
			sells++
		} else {
			buys++
		}
	}
	fmt.Fprintf(&b, " Recommending %d sell and %d buy orders.", sells, buys)

	if plan.Stale {
		fmt.Fprintf(&b, " Based on stale prices as of %s.", plan.DataAsOf.UTC().Format(time.RFC3339))
	}

	return b.String()
}

func describeDrift(r domain.DriftRecord) string {
	direction := "overweight"
	if r.DriftPct.IsNegative() {
		direction = "underweight"
	}
	key := r.Key
	if r.Kind == domain.DriftKindCategory {
		key = strings.ToUpper(key)
	}
	return fmt.Sprintf("%s is %s by %s%% (current %s%%, target %s%%)",
		key, direction, r.DriftPct.Abs().StringFixed(1), r.CurrentPct.StringFixed(1), r.TargetPct.StringFixed(1))
}
