package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// ErrNoBrokers is returned when a producer or consumer has no brokers.
var ErrNoBrokers = errors.New("kafka: brokers are required")

// messageWriter is the subset of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerOption configures Producer.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	brokers      []string
	requiredAcks int
	compression  string
	maxAttempts  int
	writeTimeout time.Duration
	readTimeout  time.Duration
	batchSize    int
	batchBytes   int
	batchTimeout time.Duration
	async        bool
	hashByKey    bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *producerConfig) { c.brokers = brokers }
}

// WithCompression selects gzip, snappy, lz4, zstd or none.
func WithCompression(compression string) ProducerOption {
	return func(c *producerConfig) { c.compression = compression }
}

// WithRequiredAcks sets required acknowledgements (-1 = all).
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *producerConfig) { c.requiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *producerConfig) { c.maxAttempts = n }
}

func WithBatchSize(size int) ProducerOption {
	return func(c *producerConfig) { c.batchSize = size }
}

// WithBatchTimeout bounds how long a partial batch waits before flushing.
func WithBatchTimeout(timeout time.Duration) ProducerOption {
	return func(c *producerConfig) { c.batchTimeout = timeout }
}

func WithBatchBytes(bytes int) ProducerOption {
	return func(c *producerConfig) { c.batchBytes = bytes }
}

// WithTimeouts sets writer write and read timeouts.
func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *producerConfig) {
		c.writeTimeout = write
		c.readTimeout = read
	}
}

// WithAsync makes writes fire-and-forget; errors are only counted.
func WithAsync(async bool) ProducerOption {
	return func(c *producerConfig) { c.async = async }
}

// WithHashByKey keeps every message of a key on one partition.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *producerConfig) { c.hashByKey = hash }
}

// Producer publishes messages through a kafka-go writer.
type Producer struct {
	writer messageWriter
	comp   string
}

// NewProducer builds a writer over the configured brokers.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &producerConfig{
		requiredAcks: -1,
		compression:  "snappy",
		maxAttempts:  3,
		writeTimeout: 10 * time.Second,
		readTimeout:  10 * time.Second,
		batchSize:    100,
		batchBytes:   1 << 20,
		batchTimeout: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, ErrNoBrokers
	}
	comp, err := parseCompression(cfg.compression)
	if err != nil {
		return nil, err
	}

	var bal kafka.Balancer = &kafka.LeastBytes{}
	if cfg.hashByKey {
		bal = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(cfg.requiredAcks),
		Compression:  comp,
		MaxAttempts:  cfg.maxAttempts,
		WriteTimeout: cfg.writeTimeout,
		ReadTimeout:  cfg.readTimeout,
		BatchSize:    cfg.batchSize,
		BatchBytes:   int64(cfg.batchBytes),
		BatchTimeout: cfg.batchTimeout,
		Async:        cfg.async,
	}
	if cfg.async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil && len(msgs) > 0 {
				observeAsyncFailure(msgs[0].Topic, len(msgs))
			}
		}
	}
	return newProducer(w, strings.ToLower(cfg.compression)), nil
}

func newProducer(w messageWriter, comp string) *Producer {
	initProducerMetrics()
	return &Producer{writer: w, comp: comp}
}

// Message is one record to publish. Value is sent as-is for []byte and
// string and JSON encoded otherwise.
type Message struct {
	Key     []byte
	Value   interface{}
	Headers []kafka.Header
}

// Header builds a string-valued record header.
func Header(key, value string) kafka.Header {
	return kafka.Header{Key: key, Value: []byte(value)}
}

// Publish sends one message to topic.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishBatch encodes every message before writing any, so an encoding
// failure publishes nothing.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	start := time.Now()
	now := start.UTC()
	msgs := make([]kafka.Message, len(messages))
	var size int64
	for i, m := range messages {
		v, err := encodeValue(m.Value)
		if err != nil {
			return fmt.Errorf("message %d for %s: %w", i, topic, err)
		}
		msgs[i] = kafka.Message{Topic: topic, Key: m.Key, Value: v, Headers: m.Headers, Time: now}
		size += int64(len(v))
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	observeProducerMetrics(topic, p.comp, size, len(msgs), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("write %d messages to %s: %w", len(msgs), topic, err)
	}
	return nil
}

// Close flushes pending batches and closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodeValue(value interface{}) ([]byte, error) {
	switch val := value.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	case json.RawMessage:
		return val, nil
	default:
		v, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return v, nil
	}
}

func parseCompression(s string) (kafka.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("kafka: unknown compression %q", s)
	}
}

var (
	producerMsgsTotal   *prometheus.CounterVec
	producerBytesTotal  *prometheus.CounterVec
	producerLatencyHist *prometheus.HistogramVec
	producerOnce        sync.Once
)

func initProducerMetrics() {
	producerOnce.Do(func() {
		producerMsgsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finseries_kafka_producer_messages_total",
				Help: "Messages handed to the Kafka writer by result",
			},
			[]string{"topic", "compression", "result"},
		)
		producerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finseries_kafka_producer_bytes_total",
				Help: "Payload bytes published",
			},
			[]string{"topic", "compression"},
		)
		producerLatencyHist = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finseries_kafka_producer_publish_seconds",
				Help:    "Publish latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		)
	})
}

func observeProducerMetrics(topic, comp string, bytes int64, count int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMsgsTotal.WithLabelValues(topic, comp, result).Add(float64(count))
	if err == nil {
		producerBytesTotal.WithLabelValues(topic, comp).Add(float64(bytes))
	}
	producerLatencyHist.WithLabelValues(topic).Observe(dur.Seconds())
}

func observeAsyncFailure(topic string, count int) {
	producerMsgsTotal.WithLabelValues(topic, "", "async_error").Add(float64(count))
}
