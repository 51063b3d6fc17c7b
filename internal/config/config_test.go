package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, decimal.NewFromFloat(2.5).Equal(p.DriftThreshold))
	assert.True(t, decimal.NewFromInt(5).Equal(p.HighSeverityThreshold))
	assert.True(t, p.ResidualTolerance.Equal(p.DriftThreshold), "residual tolerance defaults to the threshold")
	assert.True(t, decimal.NewFromFloat(0.1).Equal(p.MaxSingleTradeFraction))
	assert.Equal(t, 5*time.Second, p.FetchTimeout)
	assert.Equal(t, 24*time.Hour, p.StalenessCeiling)
	assert.Equal(t, 0.04, p.RiskFreeRate)
	assert.Equal(t, 252, p.PeriodsPerYear)
	assert.NoError(t, p.Validate())
}

func TestParsePolicy_Overrides(t *testing.T) {
	doc := []byte(`
drift:
  threshold: 3
  residual_tolerance: 1.5
trading:
  max_single_trade_fraction: 0.2
  auto_plan: true
market_data:
  staleness_ceiling: 48h
impact:
  expected_returns:
    BTC: 0.15
    bonds: 0.04
schedule:
  evaluate: "0 0 * * * *"
`)
	p, err := ParsePolicy(doc)
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(3).Equal(p.DriftThreshold))
	assert.True(t, decimal.NewFromFloat(1.5).Equal(p.ResidualTolerance))
	assert.True(t, decimal.NewFromFloat(0.2).Equal(p.MaxSingleTradeFraction))
	assert.True(t, p.AutoPlan)
	assert.Equal(t, 48*time.Hour, p.StalenessCeiling)
	assert.Equal(t, "0 0 * * * *", p.Schedules.Evaluate)
	assert.Equal(t, map[string]float64{"BTC": 0.15, "bonds": 0.04}, p.ExpectedReturns)
	// untouched values keep their defaults
	assert.Equal(t, "0 0 * * * *", p.Schedules.Verify)
	assert.Equal(t, 15*time.Minute, p.StaleAfter)
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"zero threshold", "drift:\n  threshold: 0\n"},
		{"cap above one", "trading:\n  max_single_trade_fraction: 1.5\n"},
		{"bad duration", "market_data:\n  fetch_timeout: soon\n"},
		{"ceiling below stale_after", "market_data:\n  stale_after: 2h\n  staleness_ceiling: 1h\n"},
		{"expected return below -100%", "impact:\n  expected_returns:\n    BTC: -1.5\n"},
		{"malformed yaml", "drift: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte("drift:\n  threshold: 4\n  high_severity: 8\n"), 0644))

	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("POLICY_FILE", policyPath)
	t.Setenv("PORT", "9100")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("ARCHIVE_BUCKET", "audit")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.DirExists(t, cfg.DataDir)
	assert.Equal(t, 9100, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.True(t, cfg.Archive.Enabled())
	assert.Equal(t, "ledger-exports", cfg.Archive.Prefix)
	assert.True(t, decimal.NewFromInt(4).Equal(cfg.Policy.DriftThreshold))
}

func TestLoad_MissingPolicyFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("POLICY_FILE", filepath.Join(dir, "absent.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, decimal.NewFromFloat(2.5).Equal(cfg.Policy.DriftThreshold))
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("FG_INT", "notanumber")
	t.Setenv("FG_BOOL", "yes-please")

	assert.Equal(t, 7, getEnvAsInt("FG_INT", 7))
	assert.True(t, getEnvAsBool("FG_BOOL", true))
	assert.Equal(t, "fallback", getEnv("FG_UNSET_VALUE", "fallback"))
}

func TestLoadPolicy_ExampleFileMatchesDefaults(t *testing.T) {
	p, err := LoadPolicy(filepath.Join("..", "..", "policy.example.yaml"))
	require.NoError(t, err)

	d := DefaultPolicy()
	assert.True(t, d.DriftThreshold.Equal(p.DriftThreshold))
	assert.True(t, d.MaxSingleTradeFraction.Equal(p.MaxSingleTradeFraction))
	assert.Equal(t, d.StalenessCeiling, p.StalenessCeiling)
	assert.Equal(t, d.Schedules, p.Schedules)
	assert.Equal(t, d.AutoPlan, p.AutoPlan)
}
