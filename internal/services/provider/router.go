package provider

import (
	"context"
	"strings"
	"time"

	"FinSeries/internal/domain/models"
	"FinSeries/internal/domain/repository"
)

// WarehousePrefix routes a symbol to stored points; the prefix is stripped.
const WarehousePrefix = "ch:"

// Source names reported with every validation run.
const (
	SourceFRED      = "fred"
	SourceMarket    = "market"
	SourceWarehouse = "warehouse"
)

// Router picks a provider by symbol prefix: macro keys go to FRED, warehouse
// keys to stored points when configured, and everything else to the market provider.
type Router struct {
	fred      repository.SeriesProvider
	market    repository.SeriesProvider
	warehouse repository.SeriesProvider
}

// RouterOption configures Router.
type RouterOption func(*Router)

// WithWarehouse enables the ch: prefix.
func WithWarehouse(p repository.SeriesProvider) RouterOption {
	return func(r *Router) { r.warehouse = p }
}

func NewRouter(fred, market repository.SeriesProvider, opts ...RouterOption) *Router {
	r := &Router{fred: fred, market: market}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SourceFor names the provider that serves symbol.
func (r *Router) SourceFor(symbol string) string {
	_, _, source := r.pick(symbol)
	return source
}

func (r *Router) pick(symbol string) (repository.SeriesProvider, string, string) {
	s := strings.TrimSpace(symbol)
	switch {
	case strings.HasPrefix(strings.ToLower(s), MacroPrefix):
		return r.fred, s, SourceFRED
	case r.warehouse != nil && strings.HasPrefix(strings.ToLower(s), WarehousePrefix):
		return r.warehouse, s[len(WarehousePrefix):], SourceWarehouse
	default:
		return r.market, s, SourceMarket
	}
}

// Fetch implements repository.SeriesProvider.
func (r *Router) Fetch(ctx context.Context, symbol string, start, end time.Time, freq models.Frequency) ([]models.SeriesPoint, error) {
	if err := checkRequest(symbol, start, end); err != nil {
		return nil, err
	}
	p, sym, _ := r.pick(symbol)
	if err := checkRequest(sym, start, end); err != nil {
		return nil, err
	}
	return p.Fetch(ctx, sym, start, end, freq)
}
