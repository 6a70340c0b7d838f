package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"FinSeries/internal/domain/models"
	"FinSeries/internal/services/provider"
	"FinSeries/internal/services/validation"
	pkgkafka "FinSeries/pkg/kafka"
	"FinSeries/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

type stubProvider struct {
	points []models.SeriesPoint
	err    error

	gotSymbol string
	gotStart  time.Time
	gotEnd    time.Time
	gotFreq   models.Frequency
}

func (s *stubProvider) Fetch(_ context.Context, symbol string, start, end time.Time, freq models.Frequency) ([]models.SeriesPoint, error) {
	s.gotSymbol, s.gotStart, s.gotEnd, s.gotFreq = symbol, start, end, freq
	return s.points, s.err
}

type fakeMetrics struct {
	mu          sync.Mutex
	validations map[bool]int
	issues      map[string]int
	errors      map[string]int
	alerts      int
	ages        map[string]float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		validations: map[bool]int{},
		issues:      map[string]int{},
		errors:      map[string]int{},
		ages:        map[string]float64{},
	}
}

func (m *fakeMetrics) RecordValidation(_ models.Frequency, valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations[valid]++
}

func (m *fakeMetrics) RecordIssue(severity, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[severity+":"+code]++
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *fakeMetrics) RecordLatency(string, float64) {}

func (m *fakeMetrics) RecordMissingData(_ models.Frequency, _ float64, alert bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if alert {
		m.alerts++
	}
}

func (m *fakeMetrics) RecordSeriesAge(symbol string, days float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ages[symbol] = days
}

type recordingSink struct {
	mu     sync.Mutex
	events []*models.ReportEvent
	err    error
}

func (r *recordingSink) PublishReport(_ context.Context, ev *models.ReportEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) SaveReport(ctx context.Context, ev *models.ReportEvent) error {
	return r.PublishReport(ctx, ev)
}

func (r *recordingSink) Close() error { return nil }

type staticSource string

func (s staticSource) SourceFor(string) string { return string(s) }

type pointStoreFunc func(ctx context.Context, symbol, source string, points []models.SeriesPoint) error

func (f pointStoreFunc) StorePoints(ctx context.Context, symbol, source string, points []models.SeriesPoint) error {
	return f(ctx, symbol, source, points)
}

func monthly(n int, start time.Time) []models.SeriesPoint {
	out := make([]models.SeriesPoint, n)
	for i := range out {
		out[i] = models.SeriesPoint{
			Timestamp: start.AddDate(0, i+1, -1),
			Value:     100 + 0.5*float64(i),
		}
	}
	return out
}

func newService(p *stubProvider, m *fakeMetrics, opts ...SeriesQualityOption) *SeriesQuality {
	engine := validation.NewEngine(validation.WithClock(func() time.Time { return fixedNow }))
	opts = append([]SeriesQualityOption{
		WithNow(func() time.Time { return fixedNow }),
		WithDataWindow(DataWindow{
			Start:           time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
			End:             time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
			MaxLookbackDays: 3650,
		}),
	}, opts...)
	return NewSeriesQuality(p, engine, validation.DefaultPolicy(), m, opts...)
}

func TestGetPrices_ClampsWindow(t *testing.T) {
	p := &stubProvider{points: monthly(3, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
	svc := newService(p, newFakeMetrics())

	resp, err := svc.GetPrices(context.Background(), &models.SeriesRequest{
		Symbol: " macro.cpi ", Start: "1900-01-01", End: "2030-01-01", Freq: "m",
	})
	require.NoError(t, err)

	assert.Equal(t, "macro.cpi", resp.Symbol)
	assert.Len(t, resp.Points, 3)
	assert.Nil(t, resp.Report)
	assert.Equal(t, "macro.cpi", p.gotSymbol)
	assert.Equal(t, models.FreqMonthly, p.gotFreq)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), p.gotEnd)
	assert.Equal(t, p.gotEnd.AddDate(0, 0, -3650), p.gotStart)
}

func TestGetPrices_BadDates(t *testing.T) {
	svc := newService(&stubProvider{}, newFakeMetrics())

	_, err := svc.GetPrices(context.Background(), &models.SeriesRequest{Symbol: "SPY", Start: "soon", End: "2024-01-01"})
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)

	_, err = svc.GetPrices(context.Background(), &models.SeriesRequest{Symbol: "SPY", Start: "2024-02-01", End: "2024-01-01"})
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)
}

func TestGetPrices_ProviderError(t *testing.T) {
	m := newFakeMetrics()
	svc := newService(&stubProvider{err: provider.ErrUnavailable}, m)

	_, err := svc.GetPrices(context.Background(), &models.SeriesRequest{Symbol: "SPY", Start: "2024-01-01", End: "2024-02-01"})
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	assert.Equal(t, 1, m.errors["fetch"])
}

func TestPricesWithValidation_CleanMonthlySeries(t *testing.T) {
	points := monthly(72, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	m := newFakeMetrics()
	sink := &recordingSink{}
	svc := newService(&stubProvider{points: points}, m,
		WithReportPublisher(sink),
		WithSourceResolver(staticSource(provider.SourceFRED)))

	resp, err := svc.PricesWithValidation(context.Background(), &models.SeriesRequest{
		Symbol: "macro.cpi", Start: "2020-01-01", End: "2025-12-31", Freq: "M",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Report)

	assert.True(t, resp.Report.IsValid, "errors: %v", resp.Report.Errors)
	assert.Equal(t, 72, resp.Report.Metrics[models.MetricObservationsOut])
	assert.Equal(t, 0, resp.Report.Metrics[models.MetricOutliersCount])
	assert.Equal(t, 1, m.validations[true])

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "macro.cpi", ev.Symbol)
	assert.Equal(t, provider.SourceFRED, ev.Source)
	assert.Equal(t, fixedNow, ev.ProducedAt)
	assert.Contains(t, m.ages, "macro.cpi")
}

func TestValidate_EmptySeries(t *testing.T) {
	m := newFakeMetrics()
	svc := newService(&stubProvider{}, m)

	cleaned, report := svc.Validate(context.Background(), "SPY", models.FreqDaily,
		[]models.SeriesPoint{{Timestamp: fixedNow, Value: math.NaN()}}, "")

	assert.Empty(t, cleaned)
	assert.False(t, report.IsValid)
	assert.Equal(t, []string{models.IssueEmptyAfterClean}, report.Errors)
	assert.Equal(t, 1, m.issues["error:"+models.IssueEmptyAfterClean])
	assert.Equal(t, 1, m.alerts, "every point dropped is above the alert threshold")
	assert.NotContains(t, m.ages, "SPY")
}

func TestValidate_SinkFailureDoesNotFail(t *testing.T) {
	m := newFakeMetrics()
	sink := &recordingSink{err: errors.New("broker down")}
	svc := newService(&stubProvider{}, m, WithReportPublisher(sink), WithReportStore(sink))

	_, report := svc.Validate(context.Background(), "macro.cpi", models.FreqMonthly,
		monthly(72, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)), "")
	assert.True(t, report.IsValid)
	assert.Len(t, sink.events, 2)
	assert.Equal(t, 1, m.errors["report_publish"])
	assert.Equal(t, 1, m.errors["report_store"])
}

func TestValidatePayload(t *testing.T) {
	svc := newService(&stubProvider{}, newFakeMetrics())
	v1, v2 := 1.0, 2.0

	resp, err := svc.ValidatePayload(context.Background(), &models.ValidateRequest{
		Symbol: "X",
		Freq:   "d",
		Points: []models.PointPayload{
			{When: "2025-06-02", Value: &v2},
			{When: "2025-06-01", Value: &v1},
			{When: "2025-06-02", Value: nil},
		},
	}, "api")
	require.NoError(t, err)
	// the null duplicate wins and is then dropped as non-finite
	require.Len(t, resp.Points, 1)
	assert.Equal(t, "2025-06-01", resp.Points[0].When)
	assert.Equal(t, 1, resp.Report.Metrics[models.MetricObservationsOut])
	assert.Equal(t, 1, resp.Report.Metrics[models.MetricRemovedNaNInf])

	_, err = svc.ValidatePayload(context.Background(), &models.ValidateRequest{
		Symbol: "X",
		Points: []models.PointPayload{{When: "not-a-date"}},
	}, "api")
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)
}

func TestRevalidate(t *testing.T) {
	p := &stubProvider{points: monthly(72, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))}
	svc := newService(p, newFakeMetrics())

	report, err := svc.Revalidate(context.Background(), "macro.cpi", "M", 365)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, fixedNow, p.gotEnd)
	assert.Equal(t, fixedNow.AddDate(0, 0, -365), p.gotStart)
}

func TestRevalidateJob(t *testing.T) {
	p := &stubProvider{points: monthly(72, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))}
	job := NewRevalidateJob(newService(p, newFakeMetrics()))

	raw, err := json.Marshal(models.RevalidatePayload{Symbol: "macro.cpi", Freq: "M", LookbackDays: 30})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), json.RawMessage(raw)))
	assert.Equal(t, "macro.cpi", p.gotSymbol)

	err = job.Handle(context.Background(), models.RevalidatePayload{Symbol: "SPY"})
	assert.ErrorIs(t, err, queue.ErrPermanent)

	err = job.Handle(context.Background(), 42)
	assert.ErrorIs(t, err, queue.ErrPermanent)
}

func TestKafkaPointsHandler(t *testing.T) {
	m := newFakeMetrics()
	sink := &recordingSink{}
	svc := newService(&stubProvider{}, m, WithReportPublisher(sink))

	var stored int
	store := pointStoreFunc(func(_ context.Context, symbol, source string, points []models.SeriesPoint) error {
		assert.Equal(t, "SPY", symbol)
		assert.Equal(t, SourceKafka, source)
		stored = len(points)
		return nil
	})
	h := NewKafkaPointsHandler("finseries.points", svc, store, m)
	assert.Equal(t, "finseries.points", h.Topic())

	msg := `{"symbol":"SPY","freq":"D","points":[{"when":"2025-06-27","value":10},{"when":"2025-06-30","value":null}]}`
	require.NoError(t, h.Handle(context.Background(), []byte(msg)))
	assert.Equal(t, 2, stored)
	require.Len(t, sink.events, 1)
	assert.Equal(t, SourceKafka, sink.events[0].Source)

	err := h.Handle(context.Background(), []byte(`{not json`))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)

	err = h.Handle(context.Background(), []byte(`{"symbol":"","points":[{"when":"2025-06-27","value":1}]}`))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)

	err = h.Handle(context.Background(), []byte(`{"symbol":"SPY","points":[{"when":"yesterday","value":1}]}`))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)
}

func TestKafkaPointsHandler_StoreErrorRetries(t *testing.T) {
	m := newFakeMetrics()
	store := pointStoreFunc(func(context.Context, string, string, []models.SeriesPoint) error {
		return errors.New("clickhouse down")
	})
	h := NewKafkaPointsHandler("t", newService(&stubProvider{}, m), store, m)

	err := h.Handle(context.Background(), []byte(`{"symbol":"SPY","points":[{"when":"2025-06-27","value":1}]}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, pkgkafka.ErrPermanent)
	assert.Equal(t, 1, m.errors["consumer_store"])
}
