package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Policy is the rebalancing policy shared by every portfolio
type Policy struct {
	DriftThreshold         decimal.Decimal
	HighSeverityThreshold  decimal.Decimal
	HighRiskDrift          decimal.Decimal
	ResidualTolerance      decimal.Decimal
	MaxSingleTradeFraction decimal.Decimal
	MinTradeValue          decimal.Decimal
	CashDragTolerance      decimal.Decimal
	WeightEpsilon          decimal.Decimal
	FetchTimeout           time.Duration
	StaleAfter             time.Duration
	StalenessCeiling       time.Duration
	RiskFreeRate           float64
	PeriodsPerYear         int
	HighVolatility         float64
	ExpectedReturns        map[string]float64 // annual, by symbol or category
	Schedules              Schedules
	AutoPlan               bool
}

// Schedules holds cron expressions (with seconds) for background jobs
type Schedules struct {
	Evaluate string
	Verify   string
	Archive  string
}

// policyFile mirrors the YAML layout
type policyFile struct {
	Drift struct {
		Threshold         float64  `yaml:"threshold"`
		HighSeverity      float64  `yaml:"high_severity"`
		HighRisk          float64  `yaml:"high_risk"`
		ResidualTolerance *float64 `yaml:"residual_tolerance"`
		WeightEpsilon     float64  `yaml:"weight_epsilon"`
	} `yaml:"drift"`
	Trading struct {
		MaxSingleTradeFraction float64 `yaml:"max_single_trade_fraction"`
		MinTradeValue          float64 `yaml:"min_trade_value"`
		CashDragTolerance      float64 `yaml:"cash_drag_tolerance"`
		AutoPlan               bool    `yaml:"auto_plan"`
	} `yaml:"trading"`
	MarketData struct {
		FetchTimeout     string `yaml:"fetch_timeout"`
		StaleAfter       string `yaml:"stale_after"`
		StalenessCeiling string `yaml:"staleness_ceiling"`
	} `yaml:"market_data"`
	Impact struct {
		RiskFreeRate    float64            `yaml:"risk_free_rate"`
		PeriodsPerYear  int                `yaml:"periods_per_year"`
		HighVolatility  float64            `yaml:"high_volatility"`
		ExpectedReturns map[string]float64 `yaml:"expected_returns"`
	} `yaml:"impact"`
	Schedule struct {
		Evaluate string `yaml:"evaluate"`
		Verify   string `yaml:"verify"`
		Archive  string `yaml:"archive"`
	} `yaml:"schedule"`
}

func defaultPolicyFile() policyFile {
	var f policyFile
	f.Drift.Threshold = 2.5
	f.Drift.HighSeverity = 5
	f.Drift.HighRisk = 10
	f.Drift.WeightEpsilon = 0.01
	f.Trading.MaxSingleTradeFraction = 0.10
	f.Trading.MinTradeValue = 0
	f.Trading.CashDragTolerance = 1.00
	f.MarketData.FetchTimeout = "5s"
	f.MarketData.StaleAfter = "15m"
	f.MarketData.StalenessCeiling = "24h"
	f.Impact.RiskFreeRate = 0.04
	f.Impact.PeriodsPerYear = 252
	f.Impact.HighVolatility = 0.60
	f.Schedule.Evaluate = "0 */15 * * * *"
	f.Schedule.Verify = "0 0 * * * *"
	f.Schedule.Archive = "0 30 2 * * *"
	return f
}

// DefaultPolicy returns the built-in policy
func DefaultPolicy() *Policy {
	p, err := defaultPolicyFile().toPolicy()
	if err != nil {
		panic(err) // defaults are constants
	}
	return p
}

// LoadPolicy reads the YAML policy file. A missing file yields the defaults.
func LoadPolicy(path string) (*Policy, error) {
	f := defaultPolicyFile()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, &domain.Error{Kind: domain.KindInvalidConfiguration, Op: "load policy", Message: "malformed policy file", Err: err}
		}
	}

	p, err := f.toPolicy()
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParsePolicy decodes a YAML policy document on top of the defaults
func ParsePolicy(data []byte) (*Policy, error) {
	f := defaultPolicyFile()
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &domain.Error{Kind: domain.KindInvalidConfiguration, Op: "parse policy", Message: "malformed policy document", Err: err}
	}
	p, err := f.toPolicy()
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (f policyFile) toPolicy() (*Policy, error) {
	durations := make(map[string]time.Duration, 3)
	for name, raw := range map[string]string{
		"fetch_timeout":     f.MarketData.FetchTimeout,
		"stale_after":       f.MarketData.StaleAfter,
		"staleness_ceiling": f.MarketData.StalenessCeiling,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, domain.NewError(domain.KindInvalidConfiguration, "load policy", "market_data.%s: %v", name, err)
		}
		durations[name] = d
	}

	threshold := decimal.NewFromFloat(f.Drift.Threshold)
	residual := threshold
	if f.Drift.ResidualTolerance != nil {
		residual = decimal.NewFromFloat(*f.Drift.ResidualTolerance)
	}

	return &Policy{
		DriftThreshold:         threshold,
		HighSeverityThreshold:  decimal.NewFromFloat(f.Drift.HighSeverity),
		HighRiskDrift:          decimal.NewFromFloat(f.Drift.HighRisk),
		ResidualTolerance:      residual,
		MaxSingleTradeFraction: decimal.NewFromFloat(f.Trading.MaxSingleTradeFraction),
		MinTradeValue:          decimal.NewFromFloat(f.Trading.MinTradeValue),
		CashDragTolerance:      decimal.NewFromFloat(f.Trading.CashDragTolerance),
		WeightEpsilon:          decimal.NewFromFloat(f.Drift.WeightEpsilon),
		FetchTimeout:           durations["fetch_timeout"],
		StaleAfter:             durations["stale_after"],
		StalenessCeiling:       durations["staleness_ceiling"],
		RiskFreeRate:           f.Impact.RiskFreeRate,
		PeriodsPerYear:         f.Impact.PeriodsPerYear,
		HighVolatility:         f.Impact.HighVolatility,
		ExpectedReturns:        f.Impact.ExpectedReturns,
		Schedules: Schedules{
			Evaluate: f.Schedule.Evaluate,
			Verify:   f.Schedule.Verify,
			Archive:  f.Schedule.Archive,
		},
		AutoPlan: f.Trading.AutoPlan,
	}, nil
}

// Validate rejects policies that cannot produce meaningful plans
func (p *Policy) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return domain.NewError(domain.KindInvalidConfiguration, "validate policy", format, args...)
	}

	if !p.DriftThreshold.IsPositive() {
		return invalid("drift threshold must be positive, got %s", p.DriftThreshold)
	}
	if p.HighSeverityThreshold.LessThan(p.DriftThreshold) {
		return invalid("high severity threshold %s is below drift threshold %s", p.HighSeverityThreshold, p.DriftThreshold)
	}
	if p.ResidualTolerance.IsNegative() {
		return invalid("residual tolerance must not be negative")
	}
	if !p.MaxSingleTradeFraction.IsPositive() || p.MaxSingleTradeFraction.GreaterThan(decimal.NewFromInt(1)) {
		return invalid("max single trade fraction must be in (0, 1], got %s", p.MaxSingleTradeFraction)
	}
	if p.MinTradeValue.IsNegative() {
		return invalid("min trade value must not be negative")
	}
	if p.CashDragTolerance.IsNegative() {
		return invalid("cash drag tolerance must not be negative")
	}
	if !p.WeightEpsilon.IsPositive() {
		return invalid("weight epsilon must be positive")
	}
	if p.FetchTimeout <= 0 {
		return invalid("fetch timeout must be positive")
	}
	if p.StaleAfter <= 0 || p.StalenessCeiling < p.StaleAfter {
		return invalid("staleness ceiling %s must be at least stale_after %s", p.StalenessCeiling, p.StaleAfter)
	}
	if p.PeriodsPerYear <= 0 {
		return invalid("periods per year must be positive")
	}
	for key, annual := range p.ExpectedReturns {
		if math.IsNaN(annual) || math.IsInf(annual, 0) || annual <= -1 {
			return invalid("expected return for %s must be finite and above -100%%, got %v", key, annual)
		}
	}
	return nil
}
