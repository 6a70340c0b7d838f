package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	models "FinSeries/internal/domain/models"
	"FinSeries/internal/service/ratelimit"
	"FinSeries/internal/services/provider"
	"FinSeries/internal/usecase"
	xhttp "FinSeries/pkg/http"
	xlogger "FinSeries/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SourceAPI tags reports produced from caller-supplied points.
const SourceAPI = "api"

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// ReportStream serves live report events over a websocket.
type ReportStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request) error
}

// SeriesEchoHandler exposes the series quality service over HTTP.
type SeriesEchoHandler struct {
	logger  *xlogger.Logger
	svc     *usecase.SeriesQuality
	limiter *ratelimit.Limiter
	stream  ReportStream
	checks  map[string]HealthCheck
}

type SeriesHandlerOption func(*SeriesEchoHandler)

// WithRateLimit limits /v1 requests per client IP.
func WithRateLimit(l *ratelimit.Limiter) SeriesHandlerOption {
	return func(h *SeriesEchoHandler) { h.limiter = l }
}

// WithReportStream enables GET /v1/reports/ws.
func WithReportStream(s ReportStream) SeriesHandlerOption {
	return func(h *SeriesEchoHandler) { h.stream = s }
}

// WithHealthCheck adds a named dependency probe to /healthz.
func WithHealthCheck(name string, check HealthCheck) SeriesHandlerOption {
	return func(h *SeriesEchoHandler) { h.checks[name] = check }
}

func NewSeriesEchoHandler(logger *xlogger.Logger, svc *usecase.SeriesQuality, opts ...SeriesHandlerOption) *SeriesEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &SeriesEchoHandler{logger: logger, svc: svc, checks: map[string]HealthCheck{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *SeriesEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/v1")
	if h.limiter != nil {
		g.Use(h.rateLimit)
	}
	g.GET("/fetch_data/prices", h.Prices)
	g.GET("/fetch_data/prices_with_validation", h.PricesWithValidation)
	g.POST("/validate", h.Validate)
	g.GET("/policy", h.Policy)
	g.GET("/symbols", h.Symbols)
	if h.stream != nil {
		g.GET("/reports/ws", h.Reports)
	}
}

func (h *SeriesEchoHandler) Prices(c echo.Context) error {
	req := &models.SeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.GetPrices(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "prices", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SeriesEchoHandler) PricesWithValidation(c echo.Context) error {
	req := &models.SeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.PricesWithValidation(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "prices_with_validation", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SeriesEchoHandler) Validate(c echo.Context) error {
	req := &models.ValidateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.ValidatePayload(c.Request().Context(), req, SourceAPI)
	if err != nil {
		return h.fail(c, "validate", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SeriesEchoHandler) Policy(c echo.Context) error {
	return xhttp.CachedResponse(c, time.Minute, h.svc.Policy())
}

func (h *SeriesEchoHandler) Symbols(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"macro": provider.SupportedMacroSymbols(),
	})
}

func (h *SeriesEchoHandler) Reports(c echo.Context) error {
	if err := h.stream.ServeWS(c.Response(), c.Request()); err != nil {
		h.logger.Warn("report stream upgrade failed", xlogger.Error(err))
	}
	return nil
}

// Health reports ok when every registered probe passes.
func (h *SeriesEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = "degraded"
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]interface{}{"status": status, "dependencies": deps})
}

func (h *SeriesEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.limiter.Allow(c.RealIP()) {
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
		return next(c)
	}
}

func (h *SeriesEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" usecase error", xlogger.Error(err))
	} else {
		h.logger.Debug(op+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// toAppError maps provider errors onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, provider.ErrInvalidRequest):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, provider.ErrUnavailable):
		return xhttp.ServiceUnavailableError("data source temporarily unavailable").WithError(err)
	case errors.Is(err, provider.ErrUpstream):
		return xhttp.BadGatewayError("data source request failed").WithError(err)
	default:
		return xhttp.AsAppError(err)
	}
}
