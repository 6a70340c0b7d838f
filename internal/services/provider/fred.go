package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"FinSeries/internal/domain/models"
	"FinSeries/internal/service/ratelimit"
	xhttp "FinSeries/pkg/http"
	applogger "FinSeries/pkg/logger"
)

// MacroPrefix routes a symbol to the FRED provider.
const MacroPrefix = "macro."

type fredSeries struct {
	id     string
	native models.Frequency
	// daily observations averaged into monthly values
	monthlyMean bool
}

var fredCanonical = map[string]fredSeries{
	"macro.gdp": {id: "GDPC1", native: models.FreqQuarterly},
	"macro.cpi": {id: "CPIAUCSL", native: models.FreqMonthly},
	"macro.baa": {id: "BAA", native: models.FreqMonthly, monthlyMean: true},
}

var fredAliases = map[string]string{
	"macro.gdp_q":     "macro.gdp",
	"macro.gdp_m":     "macro.gdp",
	"macro.gdp_real":  "macro.gdp",
	"macro.baa_yield": "macro.baa",
}

// SupportedMacroSymbols lists canonical keys and aliases, sorted.
func SupportedMacroSymbols() []string {
	out := make([]string, 0, len(fredCanonical)+len(fredAliases))
	for k := range fredCanonical {
		out = append(out, k)
	}
	for k := range fredAliases {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FREDConfig configures the FRED provider.
type FREDConfig struct {
	BaseURL string
	APIKey  string
	// Observations are requested from here on so that interpolation and
	// forward fill have history to work with before the requested start.
	DataStart time.Time
	DataEnd   time.Time
}

// FRED serves macro series from the St. Louis Fed observations API.
type FRED struct {
	cfg FREDConfig
	up  *upstream
	log *applogger.Logger
}

// NewFRED creates a FRED provider.
func NewFRED(cfg FREDConfig, client *xhttp.Client, limiter *ratelimit.Limiter, bc BreakerConfig, log *applogger.Logger) *FRED {
	if log == nil {
		log = applogger.Nop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &FRED{cfg: cfg, up: newUpstream("fred", client, limiter, bc, log), log: log}
}

type fredObservations struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Fetch implements repository.SeriesProvider.
func (f *FRED) Fetch(ctx context.Context, symbol string, start, end time.Time, freq models.Frequency) ([]models.SeriesPoint, error) {
	if err := checkRequest(symbol, start, end); err != nil {
		return nil, err
	}
	key := strings.ToLower(strings.TrimSpace(symbol))
	if !strings.HasPrefix(key, MacroPrefix) {
		return nil, fmt.Errorf("%w: fred only serves %q symbols, got %q", ErrInvalidRequest, MacroPrefix, symbol)
	}
	canonical := key
	if c, ok := fredAliases[key]; ok {
		canonical = c
	}
	series, ok := fredCanonical[canonical]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported macro symbol %q, try one of %v", ErrInvalidRequest, symbol, SupportedMacroSymbols())
	}

	raw, err := f.observations(ctx, series.id, end)
	if err != nil {
		return nil, err
	}

	native := series.native
	var points []models.SeriesPoint
	switch {
	case series.monthlyMean:
		points = aggregateMean(raw, models.FreqMonthly)
	case canonical == "macro.gdp" && (freq == models.FreqMonthly || key == "macro.gdp_m"):
		points = interpolateMonthly(alignToPeriodEnd(raw, models.FreqQuarterly))
		native = models.FreqMonthly
	default:
		points = alignToPeriodEnd(raw, native)
	}

	out := finalize(resample(points, native, freq), start, end)
	f.log.Debug("fred series fetched",
		applogger.String("symbol", symbol),
		applogger.String("series_id", series.id),
		applogger.String("freq", string(freq)),
		applogger.Int("points", len(out)),
	)
	return out, nil
}

func (f *FRED) observations(ctx context.Context, seriesID string, end time.Time) ([]models.SeriesPoint, error) {
	query := url.Values{
		"series_id": {seriesID},
		"file_type": {"json"},
	}
	if f.cfg.APIKey != "" {
		query["api_key"] = []string{f.cfg.APIKey}
	}
	if !f.cfg.DataStart.IsZero() {
		query["observation_start"] = []string{f.cfg.DataStart.Format(time.DateOnly)}
	}
	obsEnd := end
	if !f.cfg.DataEnd.IsZero() && (obsEnd.IsZero() || f.cfg.DataEnd.Before(obsEnd)) {
		obsEnd = f.cfg.DataEnd
	}
	if !obsEnd.IsZero() {
		query["observation_end"] = []string{obsEnd.Format(time.DateOnly)}
	}

	var body fredObservations
	if err := f.up.getJSON(ctx, f.cfg.BaseURL+"/series/observations", query, &body); err != nil {
		return nil, err
	}

	out := make([]models.SeriesPoint, 0, len(body.Observations))
	for _, o := range body.Observations {
		ts, err := time.Parse(time.DateOnly, o.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: fred: bad observation date %q", ErrUpstream, o.Date)
		}
		// FRED marks missing observations with "."
		v, err := strconv.ParseFloat(o.Value, 64)
		if err != nil {
			continue
		}
		out = append(out, models.SeriesPoint{Timestamp: ts, Value: v})
	}
	return out, nil
}

// checkRequest enforces the guardrails shared by every provider.
func checkRequest(symbol string, start, end time.Time) error {
	if strings.TrimSpace(symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return fmt.Errorf("%w: start must be <= end", ErrInvalidRequest)
	}
	return nil
}
