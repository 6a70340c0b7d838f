package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"FinSeries/internal/domain/models"
	drepo "FinSeries/internal/domain/repository"
	"FinSeries/internal/services/provider"
	"FinSeries/internal/services/validation"
	applogger "FinSeries/pkg/logger"
	"FinSeries/pkg/util"

	"github.com/google/uuid"
)

// SourceResolver names the provider that serves a symbol.
type SourceResolver interface {
	SourceFor(symbol string) string
}

// DataWindow bounds every provider request.
type DataWindow struct {
	Start           time.Time
	End             time.Time
	MaxLookbackDays int
}

// SeriesQuality is the service facade: it fetches series, runs the validation
// engine against the process policy and fans reports out to the configured sinks.
type SeriesQuality struct {
	provider  drepo.SeriesProvider
	sources   SourceResolver
	engine    *validation.Engine
	policy    *validation.Policy
	metrics   drepo.Metrics
	publisher drepo.ReportPublisher
	reports   drepo.ReportStore
	window    DataWindow
	now       func() time.Time
	log       *applogger.Logger
}

type SeriesQualityOption func(*SeriesQuality)

// WithReportPublisher publishes every report event.
func WithReportPublisher(p drepo.ReportPublisher) SeriesQualityOption {
	return func(s *SeriesQuality) { s.publisher = p }
}

// WithReportStore keeps a history of report events.
func WithReportStore(r drepo.ReportStore) SeriesQualityOption {
	return func(s *SeriesQuality) { s.reports = r }
}

// WithSourceResolver sets the resolver used to tag report events.
func WithSourceResolver(r SourceResolver) SeriesQualityOption {
	return func(s *SeriesQuality) { s.sources = r }
}

// WithDataWindow bounds provider requests.
func WithDataWindow(w DataWindow) SeriesQualityOption {
	return func(s *SeriesQuality) { s.window = w }
}

// WithNow overrides the clock used for age metrics and event timestamps.
func WithNow(now func() time.Time) SeriesQualityOption {
	return func(s *SeriesQuality) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *applogger.Logger) SeriesQualityOption {
	return func(s *SeriesQuality) {
		if l != nil {
			s.log = l
		}
	}
}

func NewSeriesQuality(
	p drepo.SeriesProvider,
	engine *validation.Engine,
	policy *validation.Policy,
	metrics drepo.Metrics,
	opts ...SeriesQualityOption,
) *SeriesQuality {
	s := &SeriesQuality{
		provider: p,
		engine:   engine,
		policy:   policy,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
		log:      applogger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the process-wide validation policy.
func (s *SeriesQuality) Policy() *validation.Policy { return s.policy }

// GetPrices returns the provider series for the request without validation.
func (s *SeriesQuality) GetPrices(ctx context.Context, req *models.SeriesRequest) (*models.SeriesResponse, error) {
	points, _, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &models.SeriesResponse{
		Symbol: strings.TrimSpace(req.Symbol),
		Points: models.PointsToPayload(points),
	}, nil
}

// PricesWithValidation fetches the series and returns the cleaned points
// together with their quality report.
func (s *SeriesQuality) PricesWithValidation(ctx context.Context, req *models.SeriesRequest) (*models.SeriesResponse, error) {
	points, freq, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	symbol := strings.TrimSpace(req.Symbol)
	cleaned, report := s.Validate(ctx, symbol, freq, points, s.sourceFor(symbol))
	return &models.SeriesResponse{
		Symbol: symbol,
		Points: models.PointsToPayload(cleaned),
		Report: &report,
	}, nil
}

// ValidatePayload validates caller-supplied points.
func (s *SeriesQuality) ValidatePayload(ctx context.Context, req *models.ValidateRequest, source string) (*models.SeriesResponse, error) {
	points, err := models.PointsFromPayload(req.Points)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrInvalidRequest, err)
	}
	symbol := strings.TrimSpace(req.Symbol)
	cleaned, report := s.Validate(ctx, symbol, models.NormalizeFrequency(req.Freq), points, source)
	return &models.SeriesResponse{
		Symbol: symbol,
		Points: models.PointsToPayload(cleaned),
		Report: &report,
	}, nil
}

// Revalidate re-fetches the trailing lookbackDays of a series and validates it.
func (s *SeriesQuality) Revalidate(ctx context.Context, symbol, freq string, lookbackDays int) (models.DataQualityReport, error) {
	end := s.now()
	if !s.window.End.IsZero() && end.After(s.window.End) {
		end = s.window.End
	}
	start := end.AddDate(0, 0, -lookbackDays)
	req := &models.SeriesRequest{
		Symbol: symbol,
		Start:  start.Format(util.DateLayout),
		End:    end.Format(util.DateLayout),
		Freq:   freq,
	}
	resp, err := s.PricesWithValidation(ctx, req)
	if err != nil {
		return models.DataQualityReport{}, err
	}
	return *resp.Report, nil
}

// Validate runs the engine and records the outcome. Sink failures are logged,
// never returned: the report is the result of the call.
func (s *SeriesQuality) Validate(ctx context.Context, symbol string, freq models.Frequency, points []models.SeriesPoint, source string) ([]models.SeriesPoint, models.DataQualityReport) {
	start := time.Now()
	cleaned, report := s.engine.Validate(points, freq, symbol, s.policy)
	s.metrics.RecordLatency("validate", time.Since(start).Seconds())

	s.record(symbol, freq, len(points), len(cleaned), report)
	if len(cleaned) > 0 {
		age := s.now().Sub(cleaned[len(cleaned)-1].Timestamp).Hours() / 24
		s.metrics.RecordSeriesAge(symbol, age)
	}

	ev := &models.ReportEvent{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Freq:       freq,
		Source:     source,
		Report:     report,
		ProducedAt: s.now(),
	}
	s.deliver(ctx, ev)
	return cleaned, report
}

func (s *SeriesQuality) record(symbol string, freq models.Frequency, in, out int, report models.DataQualityReport) {
	s.metrics.RecordValidation(freq, report.IsValid)
	for _, code := range report.Errors {
		s.metrics.RecordIssue(string(validation.SeverityError), code)
	}
	for _, code := range report.Warnings {
		s.metrics.RecordIssue(string(validation.SeverityWarning), code)
	}

	ratio := missingRatio(in, out)
	alert := ratio > s.policy.Requirements.MissingDataAlertThreshold
	s.metrics.RecordMissingData(freq, ratio, alert)
	if alert {
		s.log.Warn("missing data above threshold",
			applogger.String("symbol", symbol),
			applogger.String("freq", string(freq)),
			applogger.Float64("ratio", ratio),
			applogger.Float64("threshold", s.policy.Requirements.MissingDataAlertThreshold))
	}
	if !report.IsValid {
		s.log.Info("series failed validation",
			applogger.String("symbol", symbol),
			applogger.String("freq", string(freq)),
			applogger.Strings("errors", report.Errors))
	}
}

func (s *SeriesQuality) deliver(ctx context.Context, ev *models.ReportEvent) {
	if s.publisher != nil {
		if err := s.publisher.PublishReport(ctx, ev); err != nil {
			s.metrics.RecordError("report_publish")
			s.log.Warn("report publish failed", applogger.String("symbol", ev.Symbol), applogger.Error(err))
		}
	}
	if s.reports != nil {
		if err := s.reports.SaveReport(ctx, ev); err != nil {
			s.metrics.RecordError("report_store")
			s.log.Warn("report store failed", applogger.String("symbol", ev.Symbol), applogger.Error(err))
		}
	}
}

// fetch parses the request, clamps it to the data window and calls the provider.
func (s *SeriesQuality) fetch(ctx context.Context, req *models.SeriesRequest) ([]models.SeriesPoint, models.Frequency, error) {
	start, err := util.ParseDate(req.Start)
	if err != nil {
		return nil, "", fmt.Errorf("%w: start: %w", provider.ErrInvalidRequest, err)
	}
	end, err := util.ParseDate(req.End)
	if err != nil {
		return nil, "", fmt.Errorf("%w: end: %w", provider.ErrInvalidRequest, err)
	}
	if end.Before(start) {
		return nil, "", fmt.Errorf("%w: end %s before start %s", provider.ErrInvalidRequest, req.End, req.Start)
	}
	start, end = util.ClampRange(start, end, s.window.Start, s.window.End, s.window.MaxLookbackDays)
	freq := models.NormalizeFrequency(req.Freq)

	began := time.Now()
	points, err := s.provider.Fetch(ctx, strings.TrimSpace(req.Symbol), start, end, freq)
	s.metrics.RecordLatency("fetch", time.Since(began).Seconds())
	if err != nil {
		s.metrics.RecordError("fetch")
		return nil, freq, fmt.Errorf("fetch %s: %w", req.Symbol, err)
	}
	return points, freq, nil
}

func (s *SeriesQuality) sourceFor(symbol string) string {
	if s.sources == nil {
		return ""
	}
	return s.sources.SourceFor(symbol)
}

// missingRatio is the share of input points dropped by cleaning.
func missingRatio(in, out int) float64 {
	if in == 0 {
		return 0
	}
	return float64(in-out) / float64(in)
}
