package validation

import (
	"fmt"
	"strings"

	"FinSeries/internal/domain/models"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Names of the hard-coded statistical tests; the policy only supplies
// thresholds and the series keys each test applies to.
const (
	TestInflationYoY = "inflation_yoy"
	TestBaaDelta     = "baa_delta"
)

// Severity classifies an issue code.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Policy bundles every validation threshold and switch. It is built once at
// startup and shared read-only; nothing in this package mutates it.
// Keyed lookups are case-insensitive.
type Policy struct {
	ValidatorVersion string               `mapstructure:"validator_version" default:"v1" validate:"required"`
	Requirements     RequirementsPolicy   `mapstructure:"requirements"`
	Gaps             GapPolicy            `mapstructure:"gaps"`
	Freshness        FreshnessPolicy      `mapstructure:"-"` // decoded by the loader from freshness_days_by_key
	BoundsByKey      map[string][]float64 `mapstructure:"bounds_by_key" validate:"dive,len=2"`
	ChangeBounds     ChangeBoundsPolicy   `mapstructure:"change_bounds"`
	ZScoreThresholds map[string]float64   `mapstructure:"zscore_thresholds" validate:"dive,gt=0"`
	OutlierKeys      map[string][]string  `mapstructure:"outlier_keys" default:"{\"inflation_yoy\":[\"macro.cpi\"],\"baa_delta\":[\"macro.baa\"]}"`
	Cleaning         CleaningPolicy       `mapstructure:"cleaning"`
	Severity         SeverityPolicy       `mapstructure:"severity"`
	Metrics          MetricsPolicy        `mapstructure:"metrics"`
}

type RequirementsPolicy struct {
	MinHistory                MinHistoryPolicy `mapstructure:"min_history"`
	MissingDataAlertThreshold float64          `mapstructure:"missing_data_alert_threshold" default:"0.05" validate:"gte=0,lte=1"`
}

type MinHistoryPolicy struct {
	MonthlyMonths int `mapstructure:"monthly_months" default:"60" validate:"gte=0"`
	DailyDays     int `mapstructure:"daily_days" default:"252" validate:"gte=0"`
}

type GapPolicy struct {
	MaxGapDaysDaily    int     `mapstructure:"max_gap_days_daily" default:"5" validate:"gte=0"`
	LongGapMultiplier  float64 `mapstructure:"long_gap_multiplier" default:"3" validate:"gt=0"`
	MaxLongGapsAllowed int     `mapstructure:"max_long_gaps_allowed" default:"3" validate:"gte=0"`
}

type FreshnessPolicy struct {
	ByKey    map[string]int    `validate:"dive,gte=0"`
	Defaults FreshnessDefaults
}

// FreshnessDefaults are the per-frequency staleness limits in days.
type FreshnessDefaults struct {
	Daily     int `default:"2" validate:"gte=0"`
	Monthly   int `default:"60" validate:"gte=0"`
	Quarterly int `default:"120" validate:"gte=0"`
}

type ChangeBoundsPolicy struct {
	YoY   map[string][]float64 `mapstructure:"yoy" validate:"dive,len=2"`
	Delta map[string][]float64 `mapstructure:"delta" validate:"dive,len=2"`
}

// CleaningPolicy holds the cleaning switches.
// KeepLastOnDuplicateTS is carried for schema compatibility only: duplicate
// timestamps always keep the last value, whatever its setting.
type CleaningPolicy struct {
	DropNaNInf            bool `mapstructure:"drop_nan_inf" default:"true"`
	KeepLastOnDuplicateTS bool `mapstructure:"keep_last_on_duplicate_ts" default:"true"`
	SortAscending         bool `mapstructure:"sort_ascending" default:"true"`
}

type SeverityPolicy struct {
	InvalidIf []string `mapstructure:"invalid_if"`
	WarnIf    []string `mapstructure:"warn_if"`
}

type MetricsPolicy struct {
	Include []string `mapstructure:"include"`
}

// AllMetrics lists every metric the engine knows how to compute.
var AllMetrics = []string{
	models.MetricObservationsIn,
	models.MetricObservationsOut,
	models.MetricRemovedNaNInf,
	models.MetricGapsCount,
	models.MetricLongGapsCount,
	models.MetricLatestTimestamp,
	models.MetricDaysOld,
	models.MetricOutliersCount,
	models.MetricBoundsViolations,
}

var builtinSeverity = map[string]Severity{
	models.IssueEmptyAfterClean:     SeverityError,
	models.IssueInsufficientHistory: SeverityError,
	models.IssueCatastrophicGaps:    SeverityError,
	models.IssueStaleData:           SeverityWarning,
	models.IssueOutOfBounds:         SeverityWarning,
	models.IssueChangeOutOfBounds:   SeverityWarning,
}

var policyValidate = validator.New()

// newPolicy returns a policy holding only the struct-tag defaults.
func newPolicy() (*Policy, error) {
	p := &Policy{}
	if err := defaults.Set(p); err != nil {
		return nil, fmt.Errorf("apply policy defaults: %w", err)
	}
	return p, nil
}

// DefaultPolicy returns the built-in policy: struct defaults, both outlier
// tests enabled, and every metric reported.
func DefaultPolicy() *Policy {
	p, err := newPolicy()
	if err != nil {
		panic(err)
	}
	p.ZScoreThresholds = map[string]float64{TestInflationYoY: 4, TestBaaDelta: 5}
	p.Metrics.Include = append([]string(nil), AllMetrics...)
	return p
}

// Validate checks internal consistency. It is run by the loader; the engine
// itself assumes a well-formed policy.
func (p *Policy) Validate() error {
	if err := policyValidate.Struct(p); err != nil {
		return err
	}
	ranges := map[string]map[string][]float64{
		"bounds_by_key":       p.BoundsByKey,
		"change_bounds.yoy":   p.ChangeBounds.YoY,
		"change_bounds.delta": p.ChangeBounds.Delta,
	}
	for section, m := range ranges {
		for k, r := range m {
			if r[0] > r[1] {
				return fmt.Errorf("%s.%s: low %v > high %v", section, k, r[0], r[1])
			}
		}
	}
	for _, code := range p.Severity.InvalidIf {
		if containsFold(p.Severity.WarnIf, code) {
			return fmt.Errorf("severity: %s listed in both invalid_if and warn_if", code)
		}
	}
	return nil
}

// FreshnessLimit returns the maximum staleness in days for key, falling back
// to the frequency bucket default.
func (p *Policy) FreshnessLimit(key string, freq models.Frequency) int {
	if v, ok := lookupFold(p.Freshness.ByKey, key); ok {
		return v
	}
	switch freq.Bucket() {
	case "daily":
		return p.Freshness.Defaults.Daily
	case "quarterly":
		return p.Freshness.Defaults.Quarterly
	default:
		return p.Freshness.Defaults.Monthly
	}
}

// ZThreshold returns the z-score threshold of a named test. A test without a
// threshold is disabled.
func (p *Policy) ZThreshold(name string) (float64, bool) {
	v, ok := p.ZScoreThresholds[name]
	return v, ok
}

// AppliesTo reports whether the named outlier test runs for key.
func (p *Policy) AppliesTo(test, key string) bool {
	return containsFold(p.OutlierKeys[test], strings.TrimSpace(key))
}

// IncludesMetric reports whether name is whitelisted for reports.
func (p *Policy) IncludesMetric(name string) bool {
	for _, m := range p.Metrics.Include {
		if m == name {
			return true
		}
	}
	return false
}

// Classify resolves the severity of an issue code. empty_after_clean is
// always an error.
func (p *Policy) Classify(code string) Severity {
	if code == models.IssueEmptyAfterClean {
		return SeverityError
	}
	if containsFold(p.Severity.InvalidIf, code) {
		return SeverityError
	}
	if containsFold(p.Severity.WarnIf, code) {
		return SeverityWarning
	}
	if s, ok := builtinSeverity[code]; ok {
		return s
	}
	return SeverityWarning
}

// ValueBounds returns the level range configured for key.
func (p *Policy) ValueBounds(key string) (lo, hi float64, ok bool) {
	return lookupRange(p.BoundsByKey, key)
}

// YoYBounds returns the YoY change range configured for key.
func (p *Policy) YoYBounds(key string) (lo, hi float64, ok bool) {
	return lookupRange(p.ChangeBounds.YoY, key)
}

// DeltaBounds returns the first-difference range configured for key.
func (p *Policy) DeltaBounds(key string) (lo, hi float64, ok bool) {
	return lookupRange(p.ChangeBounds.Delta, key)
}

func lookupFold[V any](m map[string]V, key string) (V, bool) {
	key = strings.TrimSpace(key)
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

func lookupRange(m map[string][]float64, key string) (float64, float64, bool) {
	r, ok := lookupFold(m, key)
	if !ok || len(r) != 2 {
		return 0, 0, false
	}
	return r[0], r[1], true
}

func containsFold(xs []string, s string) bool {
	for _, x := range xs {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
