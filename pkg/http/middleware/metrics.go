package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	applogger "FinSeries/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finseries_http_request_duration_seconds",
			Help:    "HTTP request latency by route template",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route", "method", "class"},
	)
	httpResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finseries_http_responses_total",
			Help: "HTTP responses by route template and status code",
		},
		[]string{"route", "method", "status"},
	)
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "finseries_http_in_flight_requests",
		Help: "Requests currently being served",
	})
	httpResponseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finseries_http_response_size_bytes",
			Help:    "HTTP response size; series payloads dominate the upper buckets",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"route"},
	)

	registerOnce sync.Once
)

// Metrics records request metrics labelled by the echo route template so
// query strings and path parameters do not explode label cardinality.
// Requests slower than slowThreshold and 5xx responses are logged.
func Metrics(l *applogger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpDuration, httpResponses, httpInFlight, httpResponseBytes)
	})
	if l == nil {
		l = applogger.Nop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			httpInFlight.Inc()
			defer httpInFlight.Dec()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			code := c.Response().Status
			elapsed := time.Since(start)

			httpDuration.WithLabelValues(route, method, statusClass(code)).Observe(elapsed.Seconds())
			httpResponses.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
			httpResponseBytes.WithLabelValues(route).Observe(float64(c.Response().Size))

			switch {
			case code >= http.StatusInternalServerError:
				l.Error("http request failed", requestFields(c, route, code, elapsed)...)
			case slowThreshold > 0 && elapsed >= slowThreshold:
				l.Warn("http request slow", requestFields(c, route, code, elapsed)...)
			}
			return nil
		}
	}
}

func requestFields(c echo.Context, route string, code int, elapsed time.Duration) []applogger.Field {
	return []applogger.Field{
		applogger.String("route", route),
		applogger.String("method", c.Request().Method),
		applogger.Int("status", code),
		applogger.String("request_id", requestID(c)),
		applogger.Duration("duration_ms", elapsed),
		applogger.Int64("bytes", c.Response().Size),
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
