// Package optimization scores rebalance plans against historical returns.
package optimization

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/finguard/finguard/internal/config"
	"github.com/finguard/finguard/internal/domain"
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Confidence weights
const (
	magnitudeWeight = 0.6
	recencyWeight   = 0.25
	coverageWeight  = 0.15

	// average |drift| in percent at which the magnitude term saturates
	magnitudeScale = 10.0
)

// Config holds the impact and scoring policy
type Config struct {
	RiskFreeRate     float64
	PeriodsPerYear   int
	HighVolatility   float64 // annualized standard deviation
	HighRiskDrift    decimal.Decimal
	MediumRiskDrift  decimal.Decimal
	StaleAfter       time.Duration
	StalenessCeiling time.Duration
	// ExpectedReturns replaces the historical mean with an annual expected
	// return, keyed by symbol or category
	ExpectedReturns  map[string]float64
}

// ConfigFromPolicy extracts estimator settings from the policy
func ConfigFromPolicy(p *config.Policy) Config {
	return Config{
		RiskFreeRate:     p.RiskFreeRate,
		PeriodsPerYear:   p.PeriodsPerYear,
		HighVolatility:   p.HighVolatility,
		HighRiskDrift:    p.HighRiskDrift,
		MediumRiskDrift:  p.HighSeverityThreshold,
		StaleAfter:       p.StaleAfter,
		StalenessCeiling: p.StalenessCeiling,
		ExpectedReturns:  p.ExpectedReturns,
	}
}

// ImpactEstimator projects the risk and return effect of a plan
type ImpactEstimator struct {
	cfg       Config
	overrides map[string]float64
	log       zerolog.Logger
}

// NewImpactEstimator creates a new impact estimator
func NewImpactEstimator(cfg Config, log zerolog.Logger) *ImpactEstimator {
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 252
	}
	overrides := make(map[string]float64, len(cfg.ExpectedReturns))
	for key, annual := range cfg.ExpectedReturns {
		overrides[key] = annual
	}
	return &ImpactEstimator{
		cfg:       cfg,
		overrides: overrides,
		log:       log.With().Str("component", "impact_estimator").Logger(),
	}
}

// covered is one asset whose returns are known
type covered struct {
	symbol string
	key    string // series key actually used
	series domain.ReturnSeries
}

// Estimate computes pre- and post-trade portfolio metrics.
//
// Each asset uses its own return series, falling back to its category's. Assets
// with neither are left out of the risk model and lower Coverage.
func (e *ImpactEstimator) Estimate(p *domain.Portfolio, plan *domain.RebalancePlan, returns map[string]domain.ReturnSeries) (domain.ImpactEstimate, error) {
	post := p.Clone()
	if err := post.ApplyTrades(plan.Trades); err != nil {
		return domain.ImpactEstimate{}, fmt.Errorf("failed to apply plan for impact estimate: %w", err)
	}

	assets := e.coveredAssets(p, returns)
	estimate := domain.ImpactEstimate{Coverage: round(coverage(p, assets), 4)}
	if len(assets) == 0 {
		e.log.Warn().Str("portfolio_id", p.ID).Msg("No return series available, impact not estimated")
		return estimate, nil
	}

	periods, err := e.commonPeriods(assets)
	if err != nil {
		return domain.ImpactEstimate{}, err
	}

	aligned := align(assets)
	cov := covariance(aligned)
	means := e.expectedReturns(assets, aligned)

	estimate.Pre = e.metrics(weights(p, assets), cov, means, periods)
	estimate.Post = e.metrics(weights(post, assets), cov, means, periods)

	if estimate.Pre.Volatility > 0 {
		estimate.RiskReductionPct = round((estimate.Pre.Volatility-estimate.Post.Volatility)/estimate.Pre.Volatility*100, 4)
	}
	estimate.ExpectedReturnDeltaPct = round((estimate.Post.ExpectedReturn-estimate.Pre.ExpectedReturn)*100, 4)
	estimate.SharpeDelta = round(estimate.Post.Sharpe-estimate.Pre.Sharpe, 4)
	estimate.HighVolatility = e.highVolatility(assets)

	estimate.Pre = roundMetrics(estimate.Pre)
	estimate.Post = roundMetrics(estimate.Post)

	return estimate, nil
}

// Score fills in the plan's impact, confidence and risk level
func (e *ImpactEstimator) Score(p *domain.Portfolio, plan *domain.RebalancePlan, returns map[string]domain.ReturnSeries, asOf time.Time) error {
	impact, err := e.Estimate(p, plan, returns)
	if err != nil {
		return err
	}

	age := dataAge(p, e.coveredAssets(p, returns), asOf)
	plan.Impact = impact
	plan.Confidence = e.Confidence(plan.Trigger, age, impact.Coverage)
	plan.RiskLevel = e.RiskLevel(plan.Trigger, plan.Confidence)

	e.log.Debug().
		Str("portfolio_id", p.ID).
		Float64("confidence", plan.Confidence).
		Str("risk_level", plan.RiskLevel).
		Float64("risk_reduction_pct", impact.RiskReductionPct).
		Dur("data_age", age).
		Msg("Plan scored")

	return nil
}

// Confidence derives a score in [0, 1] from the size of the violations, the
// age of the input data and the share of the portfolio with return history
func (e *ImpactEstimator) Confidence(violations []domain.DriftRecord, age time.Duration, coverage float64) float64 {
	magnitude := 0.0
	if len(violations) > 0 {
		sum := decimal.Zero
		for _, v := range violations {
			sum = sum.Add(v.DriftPct.Abs())
		}
		avg, _ := sum.Div(decimal.NewFromInt(int64(len(violations)))).Float64()
		magnitude = math.Min(avg/magnitudeScale, 1)
	}

	score := magnitudeWeight*magnitude + recencyWeight*e.recency(age) + coverageWeight*clamp01(coverage)
	return round(clamp01(score), 2)
}

// RiskLevel classifies a plan by its largest violation and its confidence
func (e *ImpactEstimator) RiskLevel(violations []domain.DriftRecord, confidence float64) string {
	largest := decimal.Zero
	for _, v := range violations {
		largest = decimal.Max(largest, v.DriftPct.Abs())
	}

	switch {
	case largest.GreaterThan(e.cfg.HighRiskDrift) || confidence < 0.5:
		return domain.RiskHigh
	case largest.GreaterThan(e.cfg.MediumRiskDrift):
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// recency is 1 up to StaleAfter and falls linearly to 0 at StalenessCeiling
func (e *ImpactEstimator) recency(age time.Duration) float64 {
	if age < 0 {
		return 0
	}
	if age <= e.cfg.StaleAfter {
		return 1
	}
	if age >= e.cfg.StalenessCeiling {
		return 0
	}
	span := float64(e.cfg.StalenessCeiling - e.cfg.StaleAfter)
	return 1 - float64(age-e.cfg.StaleAfter)/span
}

// dataAge is asOf minus the oldest price or return timestamp in use.
// It is negative when no timestamp is known.
func dataAge(p *domain.Portfolio, assets []covered, asOf time.Time) time.Duration {
	oldest := p.OldestPrice()
	for _, a := range assets {
		if a.series.AsOf.IsZero() {
			continue
		}
		if oldest.IsZero() || a.series.AsOf.Before(oldest) {
			oldest = a.series.AsOf
		}
	}
	if oldest.IsZero() {
		return -1
	}
	age := asOf.Sub(oldest)
	if age < 0 {
		return 0
	}
	return age
}

func (e *ImpactEstimator) coveredAssets(p *domain.Portfolio, returns map[string]domain.ReturnSeries) []covered {
	var out []covered
	for _, a := range p.Assets {
		if s, ok := returns[a.Symbol]; ok && len(s.Values) >= 2 {
			out = append(out, covered{symbol: a.Symbol, key: a.Symbol, series: s})
			continue
		}
		if s, ok := returns[string(a.Category)]; ok && len(s.Values) >= 2 {
			out = append(out, covered{symbol: a.Symbol, key: string(a.Category), series: s})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out
}

func (e *ImpactEstimator) periods(s domain.ReturnSeries) float64 {
	if s.PeriodsPerYear > 0 {
		return float64(s.PeriodsPerYear)
	}
	return float64(e.cfg.PeriodsPerYear)
}

// commonPeriods returns the observation frequency shared by every covered
// series; mixed frequencies are an error
func (e *ImpactEstimator) commonPeriods(assets []covered) (float64, error) {
	periods := e.periods(assets[0].series)
	for _, a := range assets[1:] {
		if other := e.periods(a.series); other != periods {
			return 0, domain.NewError(domain.KindInvalidConfiguration, "estimate impact",
				"return series %s has %v periods per year, %s has %v", assets[0].key, periods, a.key, other)
		}
	}
	return periods, nil
}

// expectedReturns returns annualized expected returns per covered asset
func (e *ImpactEstimator) expectedReturns(assets []covered, aligned [][]float64) []float64 {
	out := make([]float64, len(assets))
	for i, a := range assets {
		if v, ok := e.overrides[a.symbol]; ok {
			out[i] = v
			continue
		}
		if v, ok := e.overrides[a.key]; ok {
			out[i] = v
			continue
		}
		out[i] = stat.Mean(aligned[i], nil) * e.periods(a.series)
	}
	return out
}

func (e *ImpactEstimator) metrics(w *mat.VecDense, cov *mat.SymDense, means []float64, periods float64) domain.PortfolioMetrics {
	variance := mat.Inner(w, cov, w)
	if variance < 0 {
		variance = 0
	}
	vol := math.Sqrt(variance * periods)
	er := mat.Dot(w, mat.NewVecDense(len(means), means))

	sharpe := 0.0
	if vol > 0 {
		sharpe = (er - e.cfg.RiskFreeRate) / vol
	}
	return domain.PortfolioMetrics{Volatility: vol, ExpectedReturn: er, Sharpe: sharpe}
}

// highVolatility lists covered assets whose annualized standard deviation
// exceeds the configured threshold
func (e *ImpactEstimator) highVolatility(assets []covered) []string {
	var out []string
	for _, a := range assets {
		values := a.series.Values
		sd := talib.StdDev(values, len(values), 1)
		annual := sd[len(sd)-1] * math.Sqrt(e.periods(a.series))
		if annual > e.cfg.HighVolatility {
			out = append(out, a.symbol)
		}
	}
	return out
}

// align trims every series to the most recent common tail
func align(assets []covered) [][]float64 {
	n := math.MaxInt
	for _, a := range assets {
		if len(a.series.Values) < n {
			n = len(a.series.Values)
		}
	}
	out := make([][]float64, len(assets))
	for i, a := range assets {
		out[i] = a.series.Values[len(a.series.Values)-n:]
	}
	return out
}

// covariance returns the sample covariance of the aligned series
func covariance(aligned [][]float64) *mat.SymDense {
	rows := len(aligned[0])
	x := mat.NewDense(rows, len(aligned), nil)
	for j, col := range aligned {
		x.SetCol(j, col)
	}
	cov := &mat.SymDense{}
	stat.CovarianceMatrix(cov, x, nil)
	return cov
}

// weights returns value shares over the covered assets
func weights(p *domain.Portfolio, assets []covered) *mat.VecDense {
	values := make([]float64, len(assets))
	total := 0.0
	for i, a := range assets {
		if asset, ok := p.Asset(a.symbol); ok {
			values[i], _ = asset.Value().Float64()
			total += values[i]
		}
	}
	if total > 0 {
		for i := range values {
			values[i] /= total
		}
	}
	return mat.NewVecDense(len(values), values)
}

func coverage(p *domain.Portfolio, assets []covered) float64 {
	total := p.TotalValue()
	if total.IsZero() {
		return 0
	}
	value := decimal.Zero
	for _, a := range assets {
		if asset, ok := p.Asset(a.symbol); ok {
			value = value.Add(asset.Value())
		}
	}
	f, _ := value.Div(total).Float64()
	return f
}

func roundMetrics(m domain.PortfolioMetrics) domain.PortfolioMetrics {
	return domain.PortfolioMetrics{
		Volatility:     round(m.Volatility, 4),
		ExpectedReturn: round(m.ExpectedReturn, 4),
		Sharpe:         round(m.Sharpe, 4),
	}
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
