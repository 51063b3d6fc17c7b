package optimization

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/finguard/finguard/internal/config"
	"github.com/finguard/finguard/internal/domain"
	fgtesting "github.com/finguard/finguard/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

var dec = fgtesting.Dec

func newTestEstimator() *ImpactEstimator {
	return NewImpactEstimator(ConfigFromPolicy(config.DefaultPolicy()), zerolog.New(nil).Level(zerolog.Disabled))
}

// scenarioPlan sells the BTC excess into MSFT and BND
func scenarioPlan() *domain.RebalancePlan {
	return &domain.RebalancePlan{
		PortfolioID: "main",
		Trades: []domain.Trade{
			{Side: domain.SideSell, Symbol: "BTC", Quantity: dec("0.19635735"), Price: dec("61957.727")},
			{Side: domain.SideBuy, Symbol: "MSFT", Quantity: dec("15.28399951"), Price: dec("410.30")},
			{Side: domain.SideBuy, Symbol: "BND", Quantity: dec("81.75816227"), Price: dec("72.10")},
		},
		Trigger: []domain.DriftRecord{
			{Kind: domain.DriftKindAsset, Key: "BTC", DriftPct: dec("9.7")},
			{Kind: domain.DriftKindCategory, Key: "crypto", DriftPct: dec("9.7")},
			{Kind: domain.DriftKindCategory, Key: "stocks", DriftPct: dec("-5")},
			{Kind: domain.DriftKindCategory, Key: "bonds", DriftPct: dec("-4.7")},
			{Kind: domain.DriftKindAsset, Key: "BND", DriftPct: dec("-2.66")},
		},
	}
}

func TestEstimate_Scenario(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	impact, err := newTestEstimator().Estimate(p, scenarioPlan(), fgtesting.ScenarioReturns())
	require.NoError(t, err)

	assert.Equal(t, 1.0, impact.Coverage)
	assert.Greater(t, impact.Pre.Volatility, 0.0)
	assert.Less(t, impact.Post.Volatility, impact.Pre.Volatility, "selling the most volatile asset lowers risk")
	assert.Greater(t, impact.RiskReductionPct, 0.0)
	assert.Less(t, impact.ExpectedReturnDeltaPct, 0.0, "BTC carries the highest mean return")
	assert.Equal(t, []string{"BTC"}, impact.HighVolatility)
}

func TestEstimate_DoesNotMutatePortfolio(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	before := p.TotalValue()

	_, err := newTestEstimator().Estimate(p, scenarioPlan(), fgtesting.ScenarioReturns())
	require.NoError(t, err)

	assert.True(t, before.Equal(p.TotalValue()))
	btc, _ := p.Asset("BTC")
	assert.True(t, dec("0.5").Equal(btc.Quantity))
}

func TestEstimate_CategoryFallbackAndCoverage(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	all := fgtesting.ScenarioReturns()

	returns := map[string]domain.ReturnSeries{
		"crypto": all["BTC"],
		"AAPL":   all["AAPL"],
	}

	impact, err := newTestEstimator().Estimate(p, scenarioPlan(), returns)
	require.NoError(t, err)

	// AAPL 19050 + BTC 30978.8635 out of 125420.50
	assert.InDelta(t, 0.3989, impact.Coverage, 0.0001)
	assert.Greater(t, impact.Pre.Volatility, 0.0)
}

func TestEstimate_NoReturns(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	impact, err := newTestEstimator().Estimate(p, scenarioPlan(), nil)
	require.NoError(t, err)

	assert.Zero(t, impact.Coverage)
	assert.Zero(t, impact.Pre.Volatility)
	assert.Zero(t, impact.RiskReductionPct)
}

func TestEstimate_AlignsOnCommonTail(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	returns := fgtesting.ScenarioReturns()
	short := returns["AAPL"]
	short.Values = short.Values[100:]
	returns["AAPL"] = short

	impact, err := newTestEstimator().Estimate(p, scenarioPlan(), returns)
	require.NoError(t, err)
	assert.Equal(t, 1.0, impact.Coverage)
	assert.Greater(t, impact.Pre.Volatility, 0.0)
}

func TestEstimate_ExpectedReturnOverride(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	returns := fgtesting.ScenarioReturns()

	base, err := newTestEstimator().Estimate(p, scenarioPlan(), returns)
	require.NoError(t, err)

	policy := config.DefaultPolicy()
	policy.ExpectedReturns = map[string]float64{"BTC": -0.5}
	e := NewImpactEstimator(ConfigFromPolicy(policy), zerolog.New(nil).Level(zerolog.Disabled))
	overridden, err := e.Estimate(p, scenarioPlan(), returns)
	require.NoError(t, err)

	assert.Greater(t, overridden.ExpectedReturnDeltaPct, 0.0, "selling a losing asset raises expected return")
	assert.Equal(t, base.Pre.Volatility, overridden.Pre.Volatility)
}

func TestEstimate_AnnualizesWithSeriesFrequency(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	monthly := domain.ReturnSeries{
		Key:            "BTC",
		Values:         fgtesting.SyntheticReturns(36, 0.03, 0.08, 1.7),
		AsOf:           fgtesting.FixtureTime,
		PeriodsPerYear: 12,
	}

	impact, err := newTestEstimator().Estimate(p, scenarioPlan(), map[string]domain.ReturnSeries{"BTC": monthly})
	require.NoError(t, err)

	// BTC is the only covered asset, so its weight is 1
	want := math.Sqrt(stat.Variance(monthly.Values, nil) * 12)
	assert.InDelta(t, want, impact.Pre.Volatility, 0.0001)
	assert.InDelta(t, stat.Mean(monthly.Values, nil)*12, impact.Pre.ExpectedReturn, 0.0001)
}

func TestEstimate_RejectsMixedFrequencies(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	returns := fgtesting.ScenarioReturns()
	btc := returns["BTC"]
	btc.PeriodsPerYear = 12
	returns["BTC"] = btc

	_, err := newTestEstimator().Estimate(p, scenarioPlan(), returns)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}

func TestEstimate_UnknownTradeSymbol(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	plan := &domain.RebalancePlan{Trades: []domain.Trade{{Side: domain.SideBuy, Symbol: "DOGE", Quantity: dec("1"), Price: dec("1")}}}

	_, err := newTestEstimator().Estimate(p, plan, nil)
	assert.Error(t, err)
}

func TestConfidence(t *testing.T) {
	e := newTestEstimator()
	violations := scenarioPlan().Trigger

	tests := []struct {
		name     string
		age      time.Duration
		coverage float64
		want     float64
	}{
		// 0.6*0.6352 + 0.25*1 + 0.15*1
		{"fresh and covered", 0, 1, 0.78},
		{"at stale_after", 15 * time.Minute, 1, 0.78},
		{"past the ceiling", 48 * time.Hour, 1, 0.53},
		{"halfway to the ceiling", 15*time.Minute + (24*time.Hour-15*time.Minute)/2, 1, 0.66},
		{"no coverage", 0, 0, 0.63},
		{"unknown age", -1, 1, 0.53},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, e.Confidence(violations, tt.age, tt.coverage), 1e-9)
		})
	}

	assert.Equal(t, 0.4, e.Confidence(nil, 0, 1), "no violations leaves only recency and coverage")

	big := []domain.DriftRecord{{Key: "X", DriftPct: dec("40")}}
	assert.Equal(t, 1.0, e.Confidence(big, 0, 1))
}

func TestConfidence_Deterministic(t *testing.T) {
	e := newTestEstimator()
	violations := scenarioPlan().Trigger
	first := e.Confidence(violations, time.Hour, 0.9)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Confidence(violations, time.Hour, 0.9))
	}
}

func TestRiskLevel(t *testing.T) {
	e := newTestEstimator()

	tests := []struct {
		name       string
		drifts     []string
		confidence float64
		want       string
	}{
		{"large drift", []string{"10.5", "3"}, 0.9, domain.RiskHigh},
		{"low confidence", []string{"3"}, 0.49, domain.RiskHigh},
		{"medium drift", []string{"-6", "3"}, 0.9, domain.RiskMedium},
		{"exactly five is not medium", []string{"5"}, 0.9, domain.RiskLow},
		{"small drift", []string{"2.6"}, 0.7, domain.RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var violations []domain.DriftRecord
			for _, d := range tt.drifts {
				violations = append(violations, domain.DriftRecord{DriftPct: dec(d)})
			}
			assert.Equal(t, tt.want, e.RiskLevel(violations, tt.confidence))
		})
	}
}

func TestScore(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	plan := scenarioPlan()

	err := newTestEstimator().Score(p, plan, fgtesting.ScenarioReturns(), fgtesting.FixtureTime.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 0.78, plan.Confidence)
	assert.Equal(t, domain.RiskMedium, plan.RiskLevel)
	assert.Greater(t, plan.Impact.RiskReductionPct, 0.0)
}

func TestDataAge(t *testing.T) {
	p := fgtesting.ScenarioPortfolio()
	asOf := fgtesting.FixtureTime.Add(2 * time.Hour)

	assert.Equal(t, 2*time.Hour, dataAge(p, nil, asOf))

	old := []covered{{symbol: "AAPL", series: domain.ReturnSeries{AsOf: fgtesting.FixtureTime.Add(-time.Hour)}}}
	assert.Equal(t, 3*time.Hour, dataAge(p, old, asOf))

	empty := &domain.Portfolio{}
	assert.Less(t, dataAge(empty, nil, asOf), time.Duration(0))
}
