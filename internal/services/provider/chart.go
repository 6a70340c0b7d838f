package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"FinSeries/internal/domain/models"
	"FinSeries/internal/service/ratelimit"
	xhttp "FinSeries/pkg/http"
	applogger "FinSeries/pkg/logger"
)

// ChartConfig configures the market chart provider.
type ChartConfig struct {
	BaseURL   string
	DataStart time.Time
	DataEnd   time.Time
}

// Chart serves adjusted close prices from the Yahoo chart API.
type Chart struct {
	cfg ChartConfig
	up  *upstream
	log *applogger.Logger
}

// NewChart creates a market chart provider.
func NewChart(cfg ChartConfig, client *xhttp.Client, limiter *ratelimit.Limiter, bc BreakerConfig, log *applogger.Logger) *Chart {
	if log == nil {
		log = applogger.Nop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Chart{cfg: cfg, up: newUpstream("chart", client, limiter, bc, log), log: log}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch implements repository.SeriesProvider.
func (c *Chart) Fetch(ctx context.Context, symbol string, start, end time.Time, freq models.Frequency) ([]models.SeriesPoint, error) {
	if err := checkRequest(symbol, start, end); err != nil {
		return nil, err
	}
	from, to := start, end
	if from.IsZero() {
		from = c.cfg.DataStart
	}
	if to.IsZero() {
		to = c.cfg.DataEnd
	}

	query := url.Values{
		"interval":             {"1d"},
		"includeAdjustedClose": {"true"},
		"events":               {"div,splits"},
	}
	if !from.IsZero() {
		query["period1"] = []string{strconv.FormatInt(dateOf(from).Unix(), 10)}
	}
	if !to.IsZero() {
		// period2 is exclusive
		query["period2"] = []string{strconv.FormatInt(dateOf(to).AddDate(0, 0, 1).Unix(), 10)}
	}

	var body chartResponse
	endpoint := c.cfg.BaseURL + "/v8/finance/chart/" + url.PathEscape(strings.TrimSpace(symbol))
	if err := c.up.getJSON(ctx, endpoint, query, &body); err != nil {
		// unknown tickers answer 404; treat them as an empty series
		if statusCode(err) == http.StatusNotFound {
			return []models.SeriesPoint{}, nil
		}
		return nil, err
	}
	if body.Chart.Error != nil {
		if strings.EqualFold(body.Chart.Error.Code, "Not Found") {
			return []models.SeriesPoint{}, nil
		}
		return nil, fmt.Errorf("%w: chart: %s", ErrUpstream, body.Chart.Error.Description)
	}

	daily, err := chartPoints(body)
	if err != nil {
		return nil, err
	}

	var points []models.SeriesPoint
	if freq == models.FreqDaily {
		points = fillForward(daily, models.FreqDaily)
	} else {
		points = aggregateLast(daily, freq)
	}
	out := finalize(points, start, end)
	c.log.Debug("chart series fetched",
		applogger.String("symbol", symbol),
		applogger.String("freq", string(freq)),
		applogger.Int("points", len(out)),
	)
	return out, nil
}

// chartPoints prefers adjusted close and falls back to close. Nulls become NaN.
func chartPoints(body chartResponse) ([]models.SeriesPoint, error) {
	if len(body.Chart.Result) == 0 {
		return nil, nil
	}
	res := body.Chart.Result[0]

	var values []*float64
	if len(res.Indicators.AdjClose) > 0 && len(res.Indicators.AdjClose[0].AdjClose) > 0 {
		values = res.Indicators.AdjClose[0].AdjClose
	} else if len(res.Indicators.Quote) > 0 {
		values = res.Indicators.Quote[0].Close
	}
	if len(values) != len(res.Timestamp) {
		return nil, errors.Join(ErrUpstream, fmt.Errorf("chart: %d timestamps but %d values", len(res.Timestamp), len(values)))
	}

	out := make([]models.SeriesPoint, len(values))
	for i, v := range values {
		val := math.NaN()
		if v != nil {
			val = *v
		}
		out[i] = models.SeriesPoint{Timestamp: dateOf(time.Unix(res.Timestamp[i], 0)), Value: val}
	}
	return out, nil
}
