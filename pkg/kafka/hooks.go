package kafka

import (
	"context"
	"fmt"
	"time"

	applogger "FinSeries/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Delivery is one fetched message on its way to a handler. Hooks may replace
// Payload, for example after decompressing or unwrapping it.
type Delivery struct {
	Topic   string
	Msg     kafka.Message
	Payload []byte
}

// ConsumerHook observes message handling. An error from Before skips the
// handler and counts as a failed attempt.
type ConsumerHook interface {
	Before(ctx context.Context, d *Delivery) (context.Context, error)
	After(ctx context.Context, d *Delivery, err error)
	Failed(ctx context.Context, d *Delivery, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) Before(ctx context.Context, _ *Delivery) (context.Context, error) { return ctx, nil }
func (NoopHook) After(context.Context, *Delivery, error)                         {}
func (NoopHook) Failed(context.Context, *Delivery, error)                        {}

// HookError is returned when a hook rejects or breaks on a delivery.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs adapts plain functions. Nil fields are no-ops.
type HookFuncs struct {
	OnBefore func(context.Context, *Delivery) (context.Context, error)
	OnAfter  func(context.Context, *Delivery, error)
	OnFailed func(context.Context, *Delivery, error)
}

func (h HookFuncs) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	if h.OnBefore == nil {
		return ctx, nil
	}
	return h.OnBefore(ctx, d)
}

func (h HookFuncs) After(ctx context.Context, d *Delivery, err error) {
	if h.OnAfter != nil {
		h.OnAfter(ctx, d, err)
	}
}

func (h HookFuncs) Failed(ctx context.Context, d *Delivery, err error) {
	if h.OnFailed != nil {
		h.OnFailed(ctx, d, err)
	}
}

// HookChain runs Before in order and After in reverse order. The first
// Before error stops the chain; a panicking Before becomes an ERR_PANIC
// HookError and panics in After or Failed are swallowed.
type HookChain []ConsumerHook

// NewHookChain drops nil hooks.
func NewHookChain(hooks ...ConsumerHook) HookChain {
	chain := make(HookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			chain = append(chain, h)
		}
	}
	return chain
}

func (c HookChain) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	for _, h := range c {
		next, err := guardBefore(h, ctx, d)
		if err != nil {
			return ctx, err
		}
		ctx = next
	}
	return ctx, nil
}

func (c HookChain) After(ctx context.Context, d *Delivery, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		h := c[i]
		guard(func() { h.After(ctx, d, err) })
	}
}

func (c HookChain) Failed(ctx context.Context, d *Delivery, err error) {
	for _, h := range c {
		guard(func() { h.Failed(ctx, d, err) })
	}
}

func guardBefore(h ConsumerHook, ctx context.Context, d *Delivery) (next context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = ctx, &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
		}
	}()
	return h.Before(ctx, d)
}

func guard(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

type ctxKey int

const (
	traceIDKey ctxKey = iota
	startedAtKey
)

// TraceIDHeader is the header TraceHook reads.
const TraceIDHeader = "trace_id"

// TraceIDFrom returns the trace id stored by TraceHook, if any.
func TraceIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(traceIDKey).(string)
	return s
}

// StartedAt returns when TraceHook saw the delivery, or the zero time.
func StartedAt(ctx context.Context) time.Time {
	t, _ := ctx.Value(startedAtKey).(time.Time)
	return t
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// TraceHook stores the trace_id header and the start time in the context.
func TraceHook() ConsumerHook {
	return HookFuncs{
		OnBefore: func(ctx context.Context, d *Delivery) (context.Context, error) {
			ctx = context.WithValue(ctx, startedAtKey, time.Now())
			if id := headerValue(d.Msg, TraceIDHeader); id != "" {
				ctx = context.WithValue(ctx, traceIDKey, id)
			}
			return ctx, nil
		},
	}
}

// PayloadLimitHook rejects empty payloads and payloads above limit bytes as
// permanent failures. A non-positive limit only rejects empty payloads.
func PayloadLimitHook(limit int) ConsumerHook {
	return HookFuncs{
		OnBefore: func(ctx context.Context, d *Delivery) (context.Context, error) {
			switch {
			case len(d.Payload) == 0:
				return ctx, &HookError{Code: "ERR_EMPTY_PAYLOAD", Err: ErrPermanent}
			case limit > 0 && len(d.Payload) > limit:
				return ctx, &HookError{
					Code: "ERR_PAYLOAD_TOO_LARGE",
					Err:  fmt.Errorf("%d bytes over %d: %w", len(d.Payload), limit, ErrPermanent),
				}
			}
			return ctx, nil
		},
	}
}

// LoggingHook logs every failed attempt with its position in the partition.
func LoggingHook(l *applogger.Logger) ConsumerHook {
	return HookFuncs{
		OnFailed: func(ctx context.Context, d *Delivery, err error) {
			fields := []applogger.Field{
				applogger.String("topic", d.Topic),
				applogger.Int("partition", d.Msg.Partition),
				applogger.Int64("offset", d.Msg.Offset),
				applogger.Error(err),
			}
			if id := TraceIDFrom(ctx); id != "" {
				fields = append(fields, applogger.String("trace_id", id))
			}
			if t := StartedAt(ctx); !t.IsZero() {
				fields = append(fields, applogger.Duration("elapsed_ms", time.Since(t)))
			}
			l.Warn("kafka message handling failed", fields...)
		},
	}
}
