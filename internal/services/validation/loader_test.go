package validation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"FinSeries/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPolicy_MissingPolicyFile(t *testing.T) {
	_, err := LoadPolicy("", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPolicyNotFound)
}

func TestLoadPolicy_PolicyOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	defaultsPath := writeFile(t, dir, "optimal_parameters.yaml", `
data_quality:
  min_history_months: 48
monitoring:
  missing_data_alert_threshold: 0.2
`)
	policyPath := writeFile(t, dir, "data_validation.yaml", `
validator_version: "v2.1"
requirements:
  min_history:
    daily_days: 90
gaps:
  max_gap_days_daily: 4
freshness_days_by_key:
  macro.cpi: 50
  defaults:
    daily: 3
zscore_thresholds:
  inflation_yoy: 3.5
metrics:
  include: [total_observations_out, days_old]
severity:
  warn_if: [insufficient_history]
bounds_by_key:
  macro.baa: [0, 25]
change_bounds:
  yoy:
    macro.cpi: [-5, 15]
`)

	p, err := LoadPolicy(defaultsPath, policyPath)
	require.NoError(t, err)

	assert.Equal(t, "v2.1", p.ValidatorVersion)
	assert.Equal(t, 48, p.Requirements.MinHistory.MonthlyMonths, "defaults file fills unset knobs")
	assert.Equal(t, 0.2, p.Requirements.MissingDataAlertThreshold)
	assert.Equal(t, 90, p.Requirements.MinHistory.DailyDays)
	assert.Equal(t, 4, p.Gaps.MaxGapDaysDaily)
	assert.Equal(t, 3, p.Gaps.MaxLongGapsAllowed, "built-in default")
	assert.Equal(t, 3.0, p.Gaps.LongGapMultiplier)
	assert.True(t, p.Cleaning.DropNaNInf)

	assert.Equal(t, 50, p.FreshnessLimit("macro.cpi", models.FreqMonthly))
	assert.Equal(t, 50, p.FreshnessLimit("MACRO.CPI", models.FreqMonthly))
	assert.Equal(t, 3, p.FreshnessLimit("SPY", models.FreqDaily))
	assert.Equal(t, 60, p.FreshnessLimit("SPY", models.FreqMonthly))

	thr, ok := p.ZThreshold(TestInflationYoY)
	require.True(t, ok)
	assert.Equal(t, 3.5, thr)
	_, ok = p.ZThreshold(TestBaaDelta)
	assert.False(t, ok, "unconfigured test stays disabled")
	assert.True(t, p.AppliesTo(TestInflationYoY, "macro.cpi"))

	assert.True(t, p.IncludesMetric(models.MetricDaysOld))
	assert.False(t, p.IncludesMetric(models.MetricOutliersCount))
	assert.Equal(t, SeverityWarning, p.Classify(models.IssueInsufficientHistory))

	lo, hi, ok := p.ValueBounds("macro.baa")
	require.True(t, ok)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 25.0, hi)
	lo, hi, ok = p.YoYBounds("macro.cpi")
	require.True(t, ok)
	assert.Equal(t, -5.0, lo)
	assert.Equal(t, 15.0, hi)
}

func TestLoadPolicy_PolicyWinsOverDefaultsFile(t *testing.T) {
	dir := t.TempDir()
	defaultsPath := writeFile(t, dir, "optimal_parameters.yaml", "data_quality:\n  min_history_months: 48\n")
	policyPath := writeFile(t, dir, "data_validation.yaml", "requirements:\n  min_history:\n    monthly_months: 36\n")

	p, err := LoadPolicy(defaultsPath, policyPath)
	require.NoError(t, err)
	assert.Equal(t, 36, p.Requirements.MinHistory.MonthlyMonths)
}

func TestLoadPolicy_MissingDefaultsFileIsOptional(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "data_validation.yaml", "validator_version: v7\n")

	p, err := LoadPolicy(filepath.Join(dir, "absent.yaml"), policyPath)
	require.NoError(t, err)
	assert.Equal(t, "v7", p.ValidatorVersion)
	assert.Equal(t, 60, p.Requirements.MinHistory.MonthlyMonths)
	assert.Equal(t, 252, p.Requirements.MinHistory.DailyDays)
	assert.Equal(t, 2, p.Freshness.Defaults.Daily)
	assert.ElementsMatch(t, AllMetrics, p.Metrics.Include)
	assert.Empty(t, p.ZScoreThresholds)
}

func TestLoadPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "inverted bounds", body: "bounds_by_key:\n  macro.baa: [5, 1]\n"},
		{name: "bounds arity", body: "change_bounds:\n  yoy:\n    macro.cpi: [1, 2, 3]\n"},
		{name: "negative threshold", body: "zscore_thresholds:\n  inflation_yoy: -1\n"},
		{name: "non-numeric freshness", body: "freshness_days_by_key:\n  macro.cpi: soon\n"},
		{name: "conflicting severity", body: "severity:\n  invalid_if: [stale_data]\n  warn_if: [stale_data]\n"},
		{name: "malformed yaml", body: "history: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "policy.yaml", tt.body)
			_, err := LoadPolicy("", path)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrPolicyNotFound)
		})
	}
}

func TestPolicy_Classify(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, SeverityError, p.Classify(models.IssueCatastrophicGaps))
	assert.Equal(t, SeverityWarning, p.Classify(models.IssueStaleData))
	assert.Equal(t, SeverityWarning, p.Classify("something_new"))

	p.Severity.InvalidIf = []string{"STALE_DATA"}
	assert.Equal(t, SeverityError, p.Classify(models.IssueStaleData))
}

func TestPolicy_FreshnessBuckets(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2, p.FreshnessLimit("x", models.FreqDaily))
	assert.Equal(t, 60, p.FreshnessLimit("x", models.FreqMonthly))
	assert.Equal(t, 120, p.FreshnessLimit("x", models.FreqQuarterly))
}

func TestLoadPolicy_ShippedConfigs(t *testing.T) {
	configDir := filepath.Join("..", "..", "..", "config")
	p, err := LoadPolicy(filepath.Join(configDir, "optimal_parameters.yaml"), filepath.Join(configDir, "data_validation.yaml"))
	require.NoError(t, err)

	lo, hi, ok := p.YoYBounds("macro.cpi")
	require.True(t, ok)
	assert.Equal(t, -5.0, lo, "yoy bounds are percent")
	assert.Equal(t, 25.0, hi)
	assert.Equal(t, 60, p.FreshnessLimit("macro.cpi", models.FreqMonthly))

	start := time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)
	pts := monthEnds(start, 72, func(i int) float64 { return 250 + 0.5*float64(i) })
	last := pts[len(pts)-1].Timestamp

	_, rep := NewEngine(fixedClock(last.AddDate(0, 0, 10))).Validate(pts, models.FreqMonthly, "macro.cpi", p)
	assert.True(t, rep.IsValid)
	assert.Empty(t, rep.Errors)
	assert.Empty(t, rep.Warnings)
	assert.Equal(t, 0, rep.Metrics[models.MetricOutliersCount])
	assert.Equal(t, 0, rep.Metrics[models.MetricBoundsViolations])
}
