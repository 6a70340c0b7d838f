package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	applogger "FinSeries/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// ErrPermanent marks handler errors that retrying cannot fix, such as a
// malformed payload. Wrap it to skip straight to the DLQ.
var ErrPermanent = errors.New("permanent message error")

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	brokers     []string
	groupID     string
	startLatest bool
	workers     int
	bufferSize  int
	retryMax    int
	backoffMin  time.Duration
	backoffMax  time.Duration
	dlqTopic    string
	minBytes    int
	maxBytes    int
	logger      *applogger.Logger
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *consumerConfig) { c.brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *consumerConfig) {
		if groupID != "" {
			c.groupID = groupID
		}
	}
}

// WithConsumerStartLatest makes a new group start at the end of each topic
// instead of the beginning.
func WithConsumerStartLatest(latest bool) ConsumerOption {
	return func(c *consumerConfig) { c.startLatest = latest }
}

// WithConsumerWorkers sets the number of handler goroutines. Messages of one
// partition always go to the same worker.
func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithConsumerRetry sets the extra attempts per message and the backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		c.retryMax = max
		c.backoffMin = backoffMin
		c.backoffMax = backoffMax
	}
}

// WithConsumerDLQ routes messages that exhausted their retries to topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *consumerConfig) { c.dlqTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *consumerConfig) {
		c.minBytes = minBytes
		c.maxBytes = maxBytes
	}
}

// WithConsumerBufferSize sets the queue length of each worker.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *consumerConfig) { c.logger = l }
}

// Consumer reads registered topics with one group reader each and fans
// messages out to workers sharded by topic and partition, so a partition is
// processed in order while different partitions run in parallel.
type Consumer struct {
	cfg      consumerConfig
	log      *applogger.Logger
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	shards   []chan *message
	dlq      messageWriter
	hook     ConsumerHook

	ctx      context.Context
	cancel   context.CancelFunc
	fetchWG  sync.WaitGroup
	workWG   sync.WaitGroup
	stopOnce sync.Once
}

type message struct {
	topic string
	data  []byte
	km    kafka.Message
}

// NewConsumer creates a consumer. Handlers must be registered before Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := consumerConfig{
		groupID:    "finseries",
		workers:    1,
		bufferSize: 16,
		retryMax:   3,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		minBytes:   10e3,
		maxBytes:   10e6,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, ErrNoBrokers
	}

	c := newConsumer(cfg)
	if cfg.dlqTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.brokers...),
			Topic:        cfg.dlqTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return c, nil
}

func newConsumer(cfg consumerConfig) *Consumer {
	l := cfg.logger
	if l == nil {
		l = applogger.Nop()
	}
	if cfg.workers <= 0 {
		cfg.workers = 1
	}
	initConsumerMetricsOnce()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		log:      l,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		shards:   make([]chan *message, cfg.workers),
		hook:     NoopHook{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := range c.shards {
		c.shards[i] = make(chan *message, cfg.bufferSize)
	}
	return c
}

// RegisterHandler binds handler to its topic. A second handler for the same
// topic is ignored.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets the lifecycle hook.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens a reader per registered topic and launches the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	startOffset := kafka.FirstOffset
	if c.cfg.startLatest {
		startOffset = kafka.LastOffset
	}
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        c.cfg.brokers,
			Topic:          topic,
			GroupID:        c.cfg.groupID,
			MinBytes:       c.cfg.minBytes,
			MaxBytes:       c.cfg.maxBytes,
			StartOffset:    startOffset,
			CommitInterval: 0,
		})
	}

	for i, shard := range c.shards {
		c.workWG.Add(1)
		go c.work(i, shard)
	}
	for topic, reader := range c.readers {
		c.fetchWG.Add(1)
		go c.fetch(topic, reader)
	}

	c.log.Info("kafka consumer started",
		applogger.Int("workers", len(c.shards)),
		applogger.Int("topics", len(c.readers)),
		applogger.String("group_id", c.cfg.groupID),
	)
	return nil
}

// Stop cancels fetching, lets the workers drain what was already queued and
// closes the readers. It returns early with an error if ctx expires first.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		c.cancel()
		c.fetchWG.Wait()
		for _, shard := range c.shards {
			close(shard)
		}

		done := make(chan struct{})
		go func() {
			c.workWG.Wait()
			close(done)
		}()
		select {
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		case <-done:
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Error("kafka reader close failed", applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Error("kafka dlq close failed", applogger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("kafka consumer stopped")
		}
	})
	return stopErr
}

func (c *Consumer) fetch(topic string, reader *kafka.Reader) {
	defer c.fetchWG.Done()
	for {
		km, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka fetch failed", applogger.String("topic", topic), applogger.Error(err))
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		shard := c.shards[shardFor(topic, km.Partition, len(c.shards))]
		select {
		case shard <- &message{topic: topic, data: km.Value, km: km}:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(shard)))
		case <-c.ctx.Done():
			return
		}
	}
}

// shardFor picks the worker for a partition.
func shardFor(topic string, partition, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(n))
}

func (c *Consumer) work(id int, in <-chan *message) {
	defer c.workWG.Done()
	for msg := range in {
		c.process(msg)
	}
	c.log.Debug("kafka worker drained", applogger.Int("worker_id", id))
}

func (c *Consumer) process(msg *message) {
	handler, ok := c.handlers[msg.topic]
	if !ok {
		return
	}
	start := time.Now()

	attempts, err := c.handleWithRetry(handler, msg)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		c.log.Error("kafka message failed",
			applogger.String("topic", msg.topic),
			applogger.Int("partition", msg.km.Partition),
			applogger.Int64("offset", msg.km.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err),
		)
		if c.publishDLQ(msg, err) {
			outcome = "dlq"
		}
	}
	consumerMessages.WithLabelValues(msg.topic, outcome).Inc()
	consumerHandleLatency.WithLabelValues(msg.topic).Observe(time.Since(start).Seconds())

	// a failed message is committed only once it is parked in the DLQ
	if err == nil || outcome == "dlq" {
		if reader := c.readers[msg.topic]; reader != nil {
			_ = c.commitWithRetry(reader, msg.km, 3)
		}
	}
}

// handleWithRetry runs the handler through the hooks, retrying with jittered
// backoff up to retryMax extra attempts.
func (c *Consumer) handleWithRetry(handler MessageHandler, msg *message) (int, error) {
	attempts := 0
	for {
		attempts++
		err := c.handleOnce(handler, msg)
		if err == nil || attempts > c.cfg.retryMax || errors.Is(err, ErrPermanent) {
			return attempts, err
		}

		select {
		case <-time.After(backoffWithJitter(c.cfg.backoffMin, c.cfg.backoffMax, attempts)):
		case <-c.ctx.Done():
			return attempts, err
		}
	}
}

// handleOnce runs one attempt through the hooks. A handler panic becomes a
// permanent error.
func (c *Consumer) handleOnce(handler MessageHandler, msg *message) error {
	d := &Delivery{Topic: msg.topic, Msg: msg.km, Payload: msg.data}
	ctx, err := c.hook.Before(context.Background(), d)
	if err == nil {
		err = c.invoke(ctx, handler, d.Payload)
		c.hook.After(ctx, d, err)
	}
	if err != nil {
		c.hook.Failed(ctx, d, err)
	}
	return err
}

func (c *Consumer) invoke(ctx context.Context, handler MessageHandler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v: %w", r, ErrPermanent)
		}
	}()
	return handler.Handle(ctx, payload)
}

// publishDLQ reports whether msg was parked in the dead-letter topic.
func (c *Consumer) publishDLQ(msg *message, cause error) bool {
	if c.dlq == nil || c.cfg.dlqTopic == "" {
		return false
	}
	err := c.dlq.WriteMessages(context.Background(), kafka.Message{
		Topic: c.cfg.dlqTopic,
		Key:   msg.km.Key,
		Value: msg.data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			Header("source_topic", msg.topic),
			Header("source_partition", strconv.Itoa(msg.km.Partition)),
			Header("source_offset", strconv.FormatInt(msg.km.Offset, 10)),
			Header("error", cause.Error()),
		},
	})
	if err != nil {
		c.log.Error("kafka dlq write failed", applogger.String("dlq_topic", c.cfg.dlqTopic), applogger.Error(err))
		return false
	}
	return true
}

// commitWithRetry commits a single message offset with bounded retries.
func (c *Consumer) commitWithRetry(reader *kafka.Reader, km kafka.Message, max int) error {
	if max <= 0 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka commit failed",
		applogger.String("topic", km.Topic),
		applogger.Int64("offset", km.Offset),
		applogger.Error(err))
	return err
}

// backoffWithJitter doubles min per attempt up to max and subtracts up to
// half of it at random.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := min
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d - time.Duration(rand.Int63n(int64(d)/2+1))
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerMessages      *prometheus.CounterVec
	consumerOnce          sync.Once
)

func initConsumerMetricsOnce() {
	consumerOnce.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "finseries_kafka_consumer_queue_depth", Help: "Messages waiting in a worker queue"},
			[]string{"topic"},
		)
		consumerHandleLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "finseries_kafka_consumer_handle_seconds", Help: "Handling time per message including retries"},
			[]string{"topic"},
		)
		consumerMessages = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "finseries_kafka_consumer_messages_total", Help: "Consumed messages by outcome"},
			[]string{"topic", "outcome"},
		)
	})
}
