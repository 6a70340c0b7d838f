package metrics

import (
	"FinSeries/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	validations   *prometheus.CounterVec
	issues        *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	missingRatio  *prometheus.HistogramVec
	missingAlerts *prometheus.CounterVec
	seriesAge     *prometheus.GaugeVec
}

// New creates a recorder registered on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		validations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finseries_validations_total",
				Help: "Total number of series validations by outcome",
			},
			[]string{"freq", "valid"},
		),
		issues: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finseries_issues_total",
				Help: "Issues raised by the validator",
			},
			[]string{"severity", "code"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finseries_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finseries_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		missingRatio: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finseries_missing_ratio",
				Help:    "Share of observations removed while cleaning",
				Buckets: []float64{0, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"freq"},
		),
		missingAlerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finseries_missing_data_alerts_total",
				Help: "Validations whose missing ratio exceeded the alert threshold",
			},
			[]string{"freq"},
		),
		seriesAge: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finseries_series_age_days",
				Help: "Days between the latest observation and the validation run",
			},
			[]string{"symbol"},
		),
	}
}

// RecordValidation counts a finished validation.
func (r *Recorder) RecordValidation(freq models.Frequency, valid bool) {
	v := "false"
	if valid {
		v = "true"
	}
	r.validations.WithLabelValues(string(freq), v).Inc()
}

// RecordIssue counts a reported error or warning code.
func (r *Recorder) RecordIssue(severity, code string) {
	r.issues.WithLabelValues(severity, code).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordMissingData observes the removed share and counts threshold breaches.
func (r *Recorder) RecordMissingData(freq models.Frequency, ratio float64, alert bool) {
	r.missingRatio.WithLabelValues(string(freq)).Observe(ratio)
	if alert {
		r.missingAlerts.WithLabelValues(string(freq)).Inc()
	}
}

// RecordSeriesAge sets the staleness gauge of a symbol.
func (r *Recorder) RecordSeriesAge(symbol string, days float64) {
	r.seriesAge.WithLabelValues(symbol).Set(days)
}
