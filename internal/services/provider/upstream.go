package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"FinSeries/internal/service/ratelimit"
	xhttp "FinSeries/pkg/http"
	applogger "FinSeries/pkg/logger"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker guarding one upstream.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// upstream wraps the HTTP client with a per-host rate limit and a circuit
// breaker. Client errors (4xx) do not count as breaker failures.
type upstream struct {
	name    string
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newUpstream(name string, client *xhttp.Client, limiter *ratelimit.Limiter, bc BreakerConfig, log *applogger.Logger) *upstream {
	if bc.FailureThreshold == 0 {
		bc.FailureThreshold = 5
	}
	if log == nil {
		log = applogger.Nop()
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				applogger.String("upstream", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()),
			)
		},
	}
	return &upstream{
		name:    name,
		client:  client,
		limiter: limiter,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// getJSON performs a rate limited, breaker guarded GET and decodes the body into dest.
func (u *upstream) getJSON(ctx context.Context, endpoint string, query url.Values, dest interface{}) error {
	if u.limiter != nil {
		if err := u.limiter.Wait(ctx, u.name); err != nil {
			return fmt.Errorf("%s rate limit: %w", u.name, err)
		}
	}
	_, err := u.breaker.Execute(func() (interface{}, error) {
		return nil, u.client.GetJSON(ctx, endpoint, query, dest)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, u.name, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUpstream, u.name, err)
	}
}

func isClientError(err error) bool {
	var se *xhttp.StatusError
	return errors.As(err, &se) && se.ClientError()
}

func statusCode(err error) int {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
