package rebalancing

import (
	"errors"
	"testing"

	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/modules/allocation"
	fgtesting "github.com/finguard/finguard/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dec = fgtesting.Dec

func newTestChecker() *TriggerChecker {
	return NewTriggerChecker(dec("5"), zerolog.New(nil).Level(zerolog.Disabled))
}

func record(kind domain.DriftKind, key, drift string) domain.DriftRecord {
	return domain.DriftRecord{Kind: kind, Key: key, DriftPct: dec(drift)}
}

func TestEvaluate_Scenario(t *testing.T) {
	records := allocation.Drift(fgtesting.ScenarioPortfolio())

	eval, err := newTestChecker().Evaluate(records, dec("2.5"))
	require.NoError(t, err)

	assert.True(t, eval.Triggered)
	require.NotEmpty(t, eval.Violations)
	assert.Equal(t, "BTC", eval.Violations[0].Key)
	assert.True(t, dec("9.7").Equal(eval.Violations[0].DriftPct))
	assert.Equal(t, SeverityHigh, eval.Violations[0].Severity)

	keys := make([]string, len(eval.Violations))
	for i, v := range eval.Violations {
		keys[i] = v.Key
	}
	// BTC and crypto tie at 9.7; stocks at -5 is medium; bonds -4.7; BND carries
	// its proportional share of the bond shortfall (about -2.66)
	assert.Equal(t, []string{"BTC", "crypto", "stocks", "bonds", "BND"}, keys)
	assert.Equal(t, SeverityMedium, eval.Violations[2].Severity)
}

func TestEvaluate_TriggeredIffAboveThreshold(t *testing.T) {
	tests := []struct {
		name      string
		records   []domain.DriftRecord
		triggered bool
		count     int
	}{
		{"empty", nil, false, 0},
		{"exactly at threshold", []domain.DriftRecord{record(domain.DriftKindAsset, "A", "2.5"), record(domain.DriftKindAsset, "B", "-2.5")}, false, 0},
		{"just above", []domain.DriftRecord{record(domain.DriftKindAsset, "A", "2.5000001")}, true, 1},
		{"negative drift counts", []domain.DriftRecord{record(domain.DriftKindAsset, "A", "-3"), record(domain.DriftKindAsset, "B", "1")}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := newTestChecker().Evaluate(tt.records, dec("2.5"))
			require.NoError(t, err)
			assert.Equal(t, tt.triggered, eval.Triggered)
			assert.Len(t, eval.Violations, tt.count)
		})
	}
}

func TestEvaluate_DeterministicTieBreak(t *testing.T) {
	records := []domain.DriftRecord{
		record(domain.DriftKindAsset, "ZEC", "4"),
		record(domain.DriftKindAsset, "ADA", "-4"),
		record(domain.DriftKindCategory, "crypto", "6"),
		record(domain.DriftKindAsset, "ETH", "4"),
		record(domain.DriftKindAsset, "ADA", "1"),
	}

	reversed := make([]domain.DriftRecord, len(records))
	for i := range records {
		reversed[len(records)-1-i] = records[i]
	}

	a, err := newTestChecker().Evaluate(records, dec("2.5"))
	require.NoError(t, err)
	b, err := newTestChecker().Evaluate(reversed, dec("2.5"))
	require.NoError(t, err)

	want := []string{"crypto", "ADA", "ETH", "ZEC"}
	for _, eval := range []*Evaluation{a, b} {
		got := make([]string, len(eval.Violations))
		for i, v := range eval.Violations {
			got[i] = v.Key
		}
		assert.Equal(t, want, got)
	}
}

func TestEvaluate_InvalidThreshold(t *testing.T) {
	_, err := newTestChecker().Evaluate(nil, dec("0"))
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}
