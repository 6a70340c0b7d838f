package validation

import (
	"time"

	"FinSeries/internal/domain/models"
)

// Engine validates and cleans series against a Policy. It holds no state
// besides its clock and is safe for concurrent use.
type Engine struct {
	now func() time.Time
}

type EngineOption func(*Engine)

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// Validate runs the default engine.
func Validate(points []models.SeriesPoint, freq models.Frequency, key string, p *Policy) ([]models.SeriesPoint, models.DataQualityReport) {
	return defaultEngine.Validate(points, freq, key, p)
}

// Validate cleans points and evaluates them against p. It never fails: every
// problem is reported through the returned report. A series that is empty
// after cleaning short-circuits with empty_after_clean and no metrics.
func (e *Engine) Validate(points []models.SeriesPoint, freq models.Frequency, key string, p *Policy) ([]models.SeriesPoint, models.DataQualityReport) {
	cleaned, removed := Clean(points, p.Cleaning)
	if len(cleaned) == 0 {
		return []models.SeriesPoint{}, models.DataQualityReport{
			IsValid:          false,
			Errors:           []string{models.IssueEmptyAfterClean},
			Warnings:         []string{},
			Metrics:          map[string]any{},
			ValidatorVersion: p.ValidatorVersion,
		}
	}

	var issues []string
	gaps, long := 0, 0
	if freq == models.FreqDaily {
		gaps, long = countGaps(cleaned, p.Gaps.MaxGapDaysDaily, p.Gaps.LongGapMultiplier)
	}

	last := cleaned[len(cleaned)-1].Timestamp
	age := daysOld(last, e.now())
	if age > p.FreshnessLimit(key, freq) {
		issues = append(issues, models.IssueStaleData)
	}

	if insufficientHistory(len(cleaned), freq, p.Requirements.MinHistory) {
		issues = append(issues, models.IssueInsufficientHistory)
	}
	// reported after the history check so Errors keeps a stable order
	if long > p.Gaps.MaxLongGapsAllowed {
		issues = append(issues, models.IssueCatastrophicGaps)
	}

	outliers := countOutliers(cleaned, freq, key, p)

	level, change := boundsViolations(cleaned, freq, key, p)
	if level > 0 {
		issues = append(issues, models.IssueOutOfBounds)
	}
	if change > 0 {
		issues = append(issues, models.IssueChangeOutOfBounds)
	}

	report := models.DataQualityReport{
		Errors:           []string{},
		Warnings:         []string{},
		Metrics:          map[string]any{},
		ValidatorVersion: p.ValidatorVersion,
	}
	for _, code := range issues {
		if p.Classify(code) == SeverityError {
			report.Errors = append(report.Errors, code)
		} else {
			report.Warnings = append(report.Warnings, code)
		}
	}
	report.IsValid = len(report.Errors) == 0

	computed := map[string]any{
		models.MetricObservationsIn:   len(points),
		models.MetricObservationsOut:  len(cleaned),
		models.MetricRemovedNaNInf:    removed,
		models.MetricGapsCount:        gaps,
		models.MetricLongGapsCount:    long,
		models.MetricLatestTimestamp:  last.Format(time.RFC3339),
		models.MetricDaysOld:          age,
		models.MetricOutliersCount:    outliers,
		models.MetricBoundsViolations: level + change,
	}
	for name, v := range computed {
		if p.IncludesMetric(name) {
			report.Metrics[name] = v
		}
	}
	return cleaned, report
}
