package models

import (
	"strings"
	"time"
)

// Frequency is the claimed sampling frequency of a series.
type Frequency string

const (
	FreqDaily     Frequency = "D"
	FreqMonthly   Frequency = "M"
	FreqQuarterly Frequency = "Q"
)

// NormalizeFrequency maps a raw frequency string onto D, M or Q.
// Strings starting with "D" are daily, starting with "Q" quarterly, and
// everything else (empty or unknown included) falls back to monthly.
func NormalizeFrequency(s string) Frequency {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "D"):
		return FreqDaily
	case strings.HasPrefix(s, "Q"):
		return FreqQuarterly
	default:
		return FreqMonthly
	}
}

// IsPeriodic reports whether the frequency is monthly or quarterly.
func (f Frequency) IsPeriodic() bool { return f == FreqMonthly || f == FreqQuarterly }

// Bucket returns the freshness bucket name used by the validation policy.
func (f Frequency) Bucket() string {
	switch f {
	case FreqDaily:
		return "daily"
	case FreqQuarterly:
		return "quarterly"
	default:
		return "monthly"
	}
}

// SeriesPoint is a single observation. Value may be NaN or infinite.
type SeriesPoint struct {
	Timestamp time.Time
	Value     float64
}

// Issue codes emitted by the validator.
const (
	IssueEmptyAfterClean     = "empty_after_clean"
	IssueInsufficientHistory = "insufficient_history"
	IssueCatastrophicGaps    = "catastrophic_gaps"
	IssueStaleData           = "stale_data"
	IssueOutOfBounds         = "out_of_bounds"
	IssueChangeOutOfBounds   = "change_out_of_bounds"
)

// Metric names a report may carry, subject to the policy whitelist.
const (
	MetricObservationsIn   = "total_observations_in"
	MetricObservationsOut  = "total_observations_out"
	MetricRemovedNaNInf    = "removed_nan_inf"
	MetricGapsCount        = "gaps_count"
	MetricLongGapsCount    = "long_gaps_count"
	MetricLatestTimestamp  = "latest_ts"
	MetricDaysOld          = "days_old"
	MetricOutliersCount    = "outliers_count"
	MetricBoundsViolations = "bounds_violations"
)

// DataQualityReport is the outcome of validating one series.
type DataQualityReport struct {
	IsValid          bool           `json:"is_valid"`
	Errors           []string       `json:"errors"`
	Warnings         []string       `json:"warnings"`
	Metrics          map[string]any `json:"metrics"`
	ValidatorVersion string         `json:"validator_version"`
}

// HasError reports whether code is among the report errors.
func (r DataQualityReport) HasError(code string) bool { return contains(r.Errors, code) }

// HasWarning reports whether code is among the report warnings.
func (r DataQualityReport) HasWarning(code string) bool { return contains(r.Warnings, code) }

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
