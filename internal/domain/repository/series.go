package repository

import (
	"context"
	"time"

	"FinSeries/internal/domain/models"
)

// SeriesProvider fetches an adjusted-close-like series for a symbol over a
// date range at the requested frequency. Points may come back unordered and
// may contain duplicates or non-finite values.
type SeriesProvider interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time, freq models.Frequency) ([]models.SeriesPoint, error)
}

// ReportPublisher delivers validation report events to downstream consumers.
type ReportPublisher interface {
	PublishReport(ctx context.Context, ev *models.ReportEvent) error
	Close() error
}

// Metrics records service-level observations.
type Metrics interface {
	RecordValidation(freq models.Frequency, valid bool)
	RecordIssue(severity, code string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordMissingData(freq models.Frequency, ratio float64, alert bool)
	RecordSeriesAge(symbol string, days float64)
}

// PointStore persists raw observations received from ingestion transports.
type PointStore interface {
	StorePoints(ctx context.Context, symbol, source string, points []models.SeriesPoint) error
}

// ReportStore keeps a history of validation reports.
type ReportStore interface {
	SaveReport(ctx context.Context, ev *models.ReportEvent) error
}
