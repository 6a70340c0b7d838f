package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FinSeries/internal/domain/models"
	xhttp "FinSeries/pkg/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func chartBody(ts []time.Time, adj []*float64, closes []*float64) map[string]any {
	stamps := make([]int64, len(ts))
	for i, t := range ts {
		stamps[i] = t.Add(14*time.Hour + 30*time.Minute).Unix()
	}
	indicators := map[string]any{"quote": []any{map[string]any{"close": closes}}}
	if adj != nil {
		indicators["adjclose"] = []any{map[string]any{"adjclose": adj}}
	}
	return map[string]any{"chart": map[string]any{
		"result": []any{map[string]any{"timestamp": stamps, "indicators": indicators}},
		"error":  nil,
	}}
}

func chartServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.NotEmpty(t, r.URL.Query().Get("period1"))
		w.WriteHeader(status)
		if body != nil {
			_ = json.NewEncoder(w).Encode(body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestChart(url string) *Chart {
	return NewChart(ChartConfig{BaseURL: url}, xhttp.NewClient(xhttp.WithTimeout(2*time.Second)), nil,
		BreakerConfig{FailureThreshold: 3, Timeout: time.Minute}, nil)
}

func TestChart_DailyPadsCalendarDays(t *testing.T) {
	ts := []time.Time{day(2024, 1, 2), day(2024, 1, 3), day(2024, 1, 5)}
	srv := chartServer(t, http.StatusOK, chartBody(ts, []*float64{f64(10), nil, f64(12)}, []*float64{f64(11), f64(11), f64(13)}))

	points, err := newTestChart(srv.URL).Fetch(context.Background(), "SPY", day(2024, 1, 1), day(2024, 1, 5), models.FreqDaily)
	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.Equal(t, day(2024, 1, 2), points[0].Timestamp)
	assert.Equal(t, 10.0, points[2].Value, "gap filled from the last close")
	assert.Equal(t, 12.0, points[3].Value)
}

func TestChart_MonthlyKeepsLastCloseAndFallsBackToClose(t *testing.T) {
	ts := []time.Time{day(2024, 1, 30), day(2024, 1, 31), day(2024, 2, 28)}
	srv := chartServer(t, http.StatusOK, chartBody(ts, nil, []*float64{f64(1), f64(2), f64(3)}))

	points, err := newTestChart(srv.URL).Fetch(context.Background(), "SPY", day(2024, 1, 1), day(2024, 2, 29), models.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, day(2024, 1, 31), points[0].Timestamp)
	assert.Equal(t, 2.0, points[0].Value)
	assert.Equal(t, day(2024, 2, 29), points[1].Timestamp)
}

func TestChart_UnknownSymbolIsEmpty(t *testing.T) {
	srv := chartServer(t, http.StatusNotFound, map[string]any{"chart": map[string]any{
		"result": nil,
		"error":  map[string]any{"code": "Not Found", "description": "No data found"},
	}})

	points, err := newTestChart(srv.URL).Fetch(context.Background(), "NOPE", day(2024, 1, 1), day(2024, 2, 1), models.FreqDaily)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestChart_MismatchedArrays(t *testing.T) {
	body := chartBody([]time.Time{day(2024, 1, 2)}, []*float64{f64(1), f64(2)}, nil)
	srv := chartServer(t, http.StatusOK, body)

	_, err := newTestChart(srv.URL).Fetch(context.Background(), "SPY", day(2024, 1, 1), day(2024, 1, 5), models.FreqDaily)
	assert.ErrorIs(t, err, ErrUpstream)
}
