// Package rebalancing provides drift evaluation and the evaluate/plan pipeline.
package rebalancing

import (
	"github.com/finguard/finguard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Severity labels attached to violations
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Evaluation is the outcome of applying the threshold policy to drift records
type Evaluation struct {
	Triggered  bool                 `json:"triggered"`
	Threshold  decimal.Decimal      `json:"threshold"`
	Violations []domain.DriftRecord `json:"violations"`
}

// TriggerChecker decides whether drift warrants rebalancing
type TriggerChecker struct {
	highSeverity decimal.Decimal
	log          zerolog.Logger
}

// NewTriggerChecker creates a new trigger checker. Violations whose absolute
// drift exceeds highSeverity are labelled high, the rest medium.
func NewTriggerChecker(highSeverity decimal.Decimal, log zerolog.Logger) *TriggerChecker {
	return &TriggerChecker{
		highSeverity: highSeverity,
		log:          log.With().Str("component", "rebalancing_triggers").Logger(),
	}
}

// Evaluate returns the records with |drift| strictly above threshold, sorted by
// |drift| descending. Equal magnitudes are ordered by key, then kind, so the
// output is fully determined by the input.
func (tc *TriggerChecker) Evaluate(records []domain.DriftRecord, threshold decimal.Decimal) (*Evaluation, error) {
	if !threshold.IsPositive() {
		return nil, domain.NewError(domain.KindInvalidConfiguration, "evaluate drift", "threshold must be positive, got %s", threshold)
	}

	violations := make([]domain.DriftRecord, 0)
	for _, r := range records {
		if r.DriftPct.Abs().GreaterThan(threshold) {
			r.Severity = tc.severity(r.DriftPct)
			violations = append(violations, r)
		}
	}

	domain.SortDriftRecords(violations)

	if len(violations) > 0 {
		top := violations[0]
		tc.log.Info().
			Str("key", top.Key).
			Str("kind", string(top.Kind)).
			Str("drift_pct", top.DriftPct.StringFixed(2)).
			Str("threshold", threshold.String()).
			Int("violations", len(violations)).
			Msg("Drift threshold exceeded")
	}

	return &Evaluation{
		Triggered:  len(violations) > 0,
		Threshold:  threshold,
		Violations: violations,
	}, nil
}

func (tc *TriggerChecker) severity(drift decimal.Decimal) string {
	if drift.Abs().GreaterThan(tc.highSeverity) {
		return SeverityHigh
	}
	return SeverityMedium
}
