package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"FinSeries/internal/domain/models"
	xhttp "FinSeries/pkg/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

func fredServer(t *testing.T, series map[string][]observation) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/observations", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "json", r.URL.Query().Get("file_type"))
		obs, ok := series[r.URL.Query().Get("series_id")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"observations": obs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFRED(url string) *FRED {
	return NewFRED(
		FREDConfig{BaseURL: url, APIKey: "test-key", DataStart: day(1990, 1, 1)},
		xhttp.NewClient(xhttp.WithTimeout(2*time.Second)),
		nil,
		BreakerConfig{FailureThreshold: 2, Timeout: time.Minute},
		nil,
	)
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestFRED_MonthlyCPI(t *testing.T) {
	var obs []observation
	for m := time.January; m <= time.December; m++ {
		v := "250.5"
		if m == time.June {
			v = "."
		}
		obs = append(obs, observation{Date: day(2020, m, 1).Format(time.DateOnly), Value: v})
	}
	srv := fredServer(t, map[string][]observation{"CPIAUCSL": obs})

	points, err := newTestFRED(srv.URL).Fetch(context.Background(), "macro.cpi", day(2020, 1, 1), day(2020, 12, 31), models.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, points, 11, "missing observation is dropped")
	assert.Equal(t, day(2020, 1, 31), points[0].Timestamp)
	assert.Equal(t, day(2020, 12, 31), points[len(points)-1].Timestamp)
	assert.Equal(t, 250.5, points[0].Value)
}

func TestFRED_GDPMonthlyAliasInterpolates(t *testing.T) {
	srv := fredServer(t, map[string][]observation{"GDPC1": {
		{Date: "2020-01-01", Value: "100"},
		{Date: "2020-04-01", Value: "103"},
	}})

	points, err := newTestFRED(srv.URL).Fetch(context.Background(), "macro.gdp_m", day(2020, 1, 1), day(2020, 12, 31), models.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, points, 4)
	want := []float64{100, 101, 102, 103}
	for i, p := range points {
		assert.InDelta(t, want[i], p.Value, 1e-9)
	}
	assert.Equal(t, day(2020, 4, 30), points[1].Timestamp)
}

func TestFRED_GDPQuarterly(t *testing.T) {
	srv := fredServer(t, map[string][]observation{"GDPC1": {
		{Date: "2020-01-01", Value: "100"},
		{Date: "2020-04-01", Value: "103"},
	}})

	points, err := newTestFRED(srv.URL).Fetch(context.Background(), "MACRO.GDP", day(2020, 1, 1), day(2020, 12, 31), models.FreqQuarterly)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, day(2020, 3, 31), points[0].Timestamp)
	assert.Equal(t, day(2020, 6, 30), points[1].Timestamp)
}

func TestFRED_BAAMonthlyMean(t *testing.T) {
	srv := fredServer(t, map[string][]observation{"BAA": {
		{Date: "2020-01-02", Value: "5"},
		{Date: "2020-01-03", Value: "7"},
		{Date: "2020-02-03", Value: "4"},
	}})

	points, err := newTestFRED(srv.URL).Fetch(context.Background(), "macro.baa_yield", day(2020, 1, 1), day(2020, 3, 31), models.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 6.0, points[0].Value)
	assert.Equal(t, day(2020, 2, 29), points[1].Timestamp)
}

func TestFRED_InvalidRequests(t *testing.T) {
	f := newTestFRED("http://127.0.0.1:1")
	ctx := context.Background()

	tests := []struct {
		name   string
		symbol string
		start  time.Time
		end    time.Time
	}{
		{name: "empty symbol", symbol: " "},
		{name: "not macro", symbol: "SPY"},
		{name: "unsupported", symbol: "macro.unrate"},
		{name: "inverted range", symbol: "macro.cpi", start: day(2021, 1, 1), end: day(2020, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Fetch(ctx, tt.symbol, tt.start, tt.end, models.FreqMonthly)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestFRED_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFRED(srv.URL)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(ctx, "macro.cpi", day(2020, 1, 1), day(2020, 2, 1), models.FreqMonthly)
		assert.ErrorIs(t, err, ErrUpstream)
	}
	_, err := f.Fetch(ctx, "macro.cpi", day(2020, 1, 1), day(2020, 2, 1), models.FreqMonthly)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits the call")
}

func TestFRED_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := fredServer(t, map[string][]observation{})
	f := newTestFRED(srv.URL)
	for i := 0; i < 4; i++ {
		_, err := f.Fetch(context.Background(), "macro.cpi", day(2020, 1, 1), day(2020, 2, 1), models.FreqMonthly)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
}
