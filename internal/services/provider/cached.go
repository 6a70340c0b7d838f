package provider

import (
	"context"
	"errors"
	"math"
	"time"

	"FinSeries/internal/domain/models"
	"FinSeries/internal/domain/repository"
	"FinSeries/pkg/cache"
	applogger "FinSeries/pkg/logger"
)

// Cached memoizes provider responses. Daily series expire sooner than
// monthly and quarterly ones.
type Cached struct {
	next        repository.SeriesProvider
	cache       cache.Service
	ttlDaily    time.Duration
	ttlPeriodic time.Duration
	log         *applogger.Logger
}

func NewCached(next repository.SeriesProvider, c cache.Service, ttlDaily, ttlPeriodic time.Duration, log *applogger.Logger) *Cached {
	if log == nil {
		log = applogger.Nop()
	}
	return &Cached{next: next, cache: c, ttlDaily: ttlDaily, ttlPeriodic: ttlPeriodic, log: log}
}

// cachedPoint keeps NaN as null since JSON cannot carry it.
type cachedPoint struct {
	T time.Time `json:"t"`
	V *float64  `json:"v"`
}

func (c *Cached) ttl(freq models.Frequency) time.Duration {
	if freq == models.FreqDaily {
		return c.ttlDaily
	}
	return c.ttlPeriodic
}

// Fetch implements repository.SeriesProvider.
func (c *Cached) Fetch(ctx context.Context, symbol string, start, end time.Time, freq models.Frequency) ([]models.SeriesPoint, error) {
	key := cache.SeriesKey(symbol, string(freq), start, end)

	var hit []cachedPoint
	err := c.cache.Get(ctx, key, &hit)
	if err == nil {
		return fromCached(hit), nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.log.Warn("series cache read failed", applogger.String("key", key), applogger.Error(err))
	}

	points, err := c.next.Fetch(ctx, symbol, start, end, freq)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, toCached(points), c.ttl(freq)); err != nil {
		c.log.Warn("series cache write failed", applogger.String("key", key), applogger.Error(err))
	}
	return points, nil
}

func toCached(points []models.SeriesPoint) []cachedPoint {
	out := make([]cachedPoint, len(points))
	for i, p := range points {
		out[i].T = p.Timestamp
		if finite(p.Value) {
			v := p.Value
			out[i].V = &v
		}
	}
	return out
}

func fromCached(in []cachedPoint) []models.SeriesPoint {
	out := make([]models.SeriesPoint, len(in))
	for i, p := range in {
		out[i] = models.SeriesPoint{Timestamp: p.T, Value: math.NaN()}
		if p.V != nil {
			out[i].Value = *p.V
		}
	}
	return out
}
