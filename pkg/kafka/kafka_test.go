package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type flakyHandler struct {
	failures int
	err      error
	calls    int
}

func (h *flakyHandler) Topic() string { return "points" }

func (h *flakyHandler) Handle(_ context.Context, _ []byte) error {
	h.calls++
	if h.calls <= h.failures {
		return h.err
	}
	return nil
}

func testConsumer(retryMax int) *Consumer {
	return newConsumer(consumerConfig{
		retryMax:   retryMax,
		backoffMin: time.Millisecond,
		backoffMax: 2 * time.Millisecond,
		bufferSize: 1,
	})
}

func TestProducer_PublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "gzip")

	require.NoError(t, p.Publish(context.Background(), "reports", []byte("macro.cpi"), map[string]int{"n": 1}))
	require.NoError(t, p.Publish(context.Background(), "reports", nil, "raw"))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "reports", w.msgs[0].Topic)
	assert.JSONEq(t, `{"n":1}`, string(w.msgs[0].Value))
	assert.Equal(t, "raw", string(w.msgs[1].Value))
}

func TestProducer_PublishError(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("broker down")}, "gzip")
	err := p.Publish(context.Background(), "reports", nil, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestProducer_BatchEncodingFailurePublishesNothing(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "snappy")
	err := p.PublishBatch(context.Background(), "reports", []Message{
		{Value: "ok"},
		{Value: make(chan int)},
	})
	require.Error(t, err)
	assert.Empty(t, w.msgs)
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"", "none", "gzip", "Snappy", "lz4", "zstd"} {
		_, err := parseCompression(name)
		assert.NoError(t, err, name)
	}
	_, err := parseCompression("brotli")
	assert.Error(t, err)
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.ErrorIs(t, err, ErrNoBrokers)
	_, err = NewConsumer()
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	c := testConsumer(3)
	h := &flakyHandler{failures: 2, err: errors.New("transient")}

	attempts, err := c.handleWithRetry(h, &message{topic: "points"})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestConsumer_GivesUpAfterRetryMax(t *testing.T) {
	c := testConsumer(1)
	h := &flakyHandler{failures: 10, err: errors.New("transient")}

	attempts, err := c.handleWithRetry(h, &message{topic: "points"})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestConsumer_PermanentErrorSkipsRetry(t *testing.T) {
	c := testConsumer(5)
	h := &flakyHandler{failures: 10, err: fmt.Errorf("bad json: %w", ErrPermanent)}

	attempts, err := c.handleWithRetry(h, &message{topic: "points"})
	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, attempts)
}

func TestConsumer_ProcessPublishesToDLQ(t *testing.T) {
	c := testConsumer(0)
	dlq := &fakeWriter{}
	c.dlq = dlq
	c.cfg.dlqTopic = "points.dlq"
	h := &flakyHandler{failures: 10, err: errors.New("nope")}
	c.RegisterHandler(h)

	c.process(&message{topic: "points", data: []byte(`{}`), km: kafka.Message{Key: []byte("k")}})

	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "points.dlq", dlq.msgs[0].Topic)
	assert.Equal(t, "points", string(dlq.msgs[0].Headers[0].Value))
	assert.Equal(t, "nope", string(dlq.msgs[0].Headers[3].Value))
}

type panicHandler struct{ calls int }

func (h *panicHandler) Topic() string { return "points" }

func (h *panicHandler) Handle(context.Context, []byte) error {
	h.calls++
	panic("nil map")
}

func TestConsumer_PanicIsPermanent(t *testing.T) {
	c := testConsumer(3)
	h := &panicHandler{}

	attempts, err := c.handleWithRetry(h, &message{topic: "points"})
	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, h.calls)
}

func TestShardFor(t *testing.T) {
	assert.Equal(t, 0, shardFor("points", 7, 1))
	for p := 0; p < 32; p++ {
		s := shardFor("points", p, 4)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 4)
		assert.Equal(t, s, shardFor("points", p, 4), "routing must be stable")
	}
}

func TestConsumer_StartRequiresHandlers(t *testing.T) {
	assert.Error(t, testConsumer(0).Start())
}

func TestHookChain_TraceAndPanic(t *testing.T) {
	var seen string
	chain := NewHookChain(TraceHook(), nil, HookFuncs{
		OnBefore: func(ctx context.Context, _ *Delivery) (context.Context, error) {
			seen = TraceIDFrom(ctx)
			return ctx, nil
		},
	})
	d := &Delivery{Topic: "t", Msg: kafka.Message{Headers: []kafka.Header{Header(TraceIDHeader, "abc")}}}
	ctx, err := chain.Before(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "abc", seen)
	assert.False(t, StartedAt(ctx).IsZero())

	panicky := NewHookChain(HookFuncs{
		OnBefore: func(context.Context, *Delivery) (context.Context, error) { panic("boom") },
		OnAfter:  func(context.Context, *Delivery, error) { panic("ignored") },
	})
	_, err = panicky.Before(context.Background(), d)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
	assert.NotPanics(t, func() { panicky.After(context.Background(), d, nil) })
}

func TestHookChain_AfterRunsInReverse(t *testing.T) {
	var order []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{OnAfter: func(context.Context, *Delivery, error) { order = append(order, name) }}
	}
	NewHookChain(mk("a"), mk("b")).After(context.Background(), &Delivery{}, nil)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestPayloadLimitHook(t *testing.T) {
	h := PayloadLimitHook(4)
	ctx := context.Background()

	_, err := h.Before(ctx, &Delivery{Payload: []byte("{}")})
	assert.NoError(t, err)

	_, err = h.Before(ctx, &Delivery{})
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = h.Before(ctx, &Delivery{Payload: []byte("12345")})
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PAYLOAD_TOO_LARGE", he.Code)
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestConsumer_HookRejectionSkipsHandler(t *testing.T) {
	c := testConsumer(3)
	c.WithConsumerHook(PayloadLimitHook(0))
	h := &flakyHandler{}

	attempts, err := c.handleWithRetry(h, &message{topic: "points"})
	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, h.calls)
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
		assert.Greater(t, d, time.Duration(0))
	}
}
