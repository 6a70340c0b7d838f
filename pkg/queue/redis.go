package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"FinSeries/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis list work queue. Failed messages wait in a sorted set
// scored by their due time and land in a dead-letter list once out of retries.
type RedisQueue struct {
	log    *logger.Logger
	cfg    QueueConfig
	client *redis.Client
	keys   queueKeys

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type queueKeys struct {
	work  string
	retry string
	dead  string
}

func newQueueKeys(prefix string) queueKeys {
	return queueKeys{work: prefix + ":messages", retry: prefix + ":retry", dead: prefix + ":dlq"}
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets the prefix of the three queue keys.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.keys = newQueueKeys(prefix)
		}
	}
}

// NewRedisQueue creates a queue over client. Zero config fields get defaults.
func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	cfg := QueueConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	rq := &RedisQueue{
		log:    lgr,
		cfg:    cfg,
		client: client,
		keys:   newQueueKeys("finseries:queue"),
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJob routes msgType Job.Type() to job. Later registrations for the
// same type are ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.log.Warn("job already registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
}

func (r *RedisQueue) job(msgType string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[msgType]
	return j, ok
}

// Start pings Redis, then launches the workers and the retry mover. ctx only
// bounds the ping; Stop ends the workers.
func (r *RedisQueue) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	r.cancel = stop
	r.running = true

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work(runCtx, i)
	}
	r.wg.Add(1)
	go r.moveDueLoop(runCtx)

	r.log.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.Int("jobs", len(r.jobs)),
		logger.String("key", r.keys.work))
	return nil
}

// Stop ends the workers after their current message and waits for them
// until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for queue workers: %w", ctx.Err())
	case <-done:
	}

	fields := []logger.Field{}
	if st, err := r.Stats(ctx); err == nil {
		fields = append(fields,
			logger.Int64("pending", st.Pending),
			logger.Int64("retrying", st.Retrying),
			logger.Int64("dead_letter", st.DeadLetter))
	}
	r.log.Info("redis queue stopped", fields...)
	return nil
}

// PublishMessage implements QueueService. The message type must have a job
// registered on this queue.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, registered := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	if !registered {
		return fmt.Errorf("%w for type: %s", ErrNoJob, msgType)
	}

	raw, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msgType, err)
	}
	if err := r.client.LPush(ctx, r.keys.work, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return nil
}

func (r *RedisQueue) work(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, time.Second, r.keys.work).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		default:
			r.log.Error("queue pop failed", logger.Int("worker_id", id), logger.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}
		// BRPOP returns [key, value]
		if len(res) != 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.log.Error("queue message undecodable, dropped", logger.Error(err))
			continue
		}
		r.handle(ctx, msg)
	}
}

func (r *RedisQueue) handle(ctx context.Context, msg Message) {
	job, ok := r.job(msg.Type)
	if !ok {
		msg.LastError = ErrNoJob.Error()
		r.park(msg)
		r.log.Error("no job for message type", logger.String("type", msg.Type), logger.String("id", msg.ID))
		return
	}

	began := time.Now()
	err := job.Handle(ctx, rawPayload(msg.Payload))
	fields := []logger.Field{
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Duration("elapsed_ms", time.Since(began)),
	}

	switch decide(err, msg.Attempts, r.cfg.RetryLimit) {
	case outcomeDone:
		r.log.Debug("message processed", fields...)
	case outcomeDropped:
		// shutdown interrupted the job; put it back without spending an attempt
		r.later(msg, time.Now())
		r.log.Warn("message interrupted, requeued", fields...)
	case outcomeRetry:
		msg.Attempts++
		msg.LastError = err.Error()
		due := time.Now().Add(retryBackoff(r.cfg.RetryDelay, r.cfg.MaxRetryDelay, msg.Attempts))
		r.later(msg, due)
		r.log.Warn("message failed, retry scheduled", append(fields,
			logger.Int("attempt", msg.Attempts),
			logger.String("retry_at", due.UTC().Format(time.RFC3339)),
			logger.Error(err))...)
	case outcomeDead:
		msg.LastError = err.Error()
		r.park(msg)
		r.log.Error("message dead-lettered", append(fields,
			logger.Int("attempts", msg.Attempts),
			logger.Error(err))...)
	}
}

// rawPayload re-encodes a decoded JSON payload so jobs can use ParsePayload.
func rawPayload(payload interface{}) interface{} {
	switch payload.(type) {
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(payload)
		if err != nil {
			return payload
		}
		return json.RawMessage(b)
	default:
		return payload
	}
}

// later schedules msg for due. It uses a fresh context so a retry survives
// shutdown of the worker that failed it.
func (r *RedisQueue) later(msg Message, due time.Time) {
	raw, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("encode retry", logger.Error(err))
		return
	}
	z := redis.Z{Score: float64(due.Unix()), Member: raw}
	if err := r.client.ZAdd(context.Background(), r.keys.retry, z).Err(); err != nil {
		r.log.Error("schedule retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) park(msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("encode dead letter", logger.Error(err))
		return
	}
	if err := r.client.LPush(context.Background(), r.keys.dead, raw).Err(); err != nil {
		r.log.Error("dead-letter push", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) moveDueLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.moveDue(ctx)
		}
	}
}

// moveDueScript moves one retry member back to the work list only if this
// caller removed it, so concurrent movers never duplicate a message.
var moveDueScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("LPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// moveDue puts retries whose due time has passed back on the work list.
func (r *RedisQueue) moveDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	due, err := r.client.ZRangeByScore(ctx, r.keys.retry, &redis.ZRangeBy{Min: "-inf", Max: now, Count: 500}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("read due retries", logger.Error(err))
		}
		return
	}

	moved := 0
	for _, member := range due {
		n, err := moveDueScript.Run(ctx, r.client, []string{r.keys.retry, r.keys.work}, member).Int()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("requeue retry", logger.Error(err))
			continue
		}
		moved += n
	}
	if moved > 0 {
		r.log.Debug("retries requeued", logger.Int("count", moved))
	}
}

// Stats is a point-in-time view of the queue's Redis keys.
type Stats struct {
	Pending    int64 `json:"pending"`
	Retrying   int64 `json:"retrying"`
	DeadLetter int64 `json:"dead_letter"`
}

// Stats reads the lengths of the work, retry and dead-letter keys.
func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	pending := pipe.LLen(ctx, r.keys.work)
	retrying := pipe.ZCard(ctx, r.keys.retry)
	dead := pipe.LLen(ctx, r.keys.dead)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), Retrying: retrying.Val(), DeadLetter: dead.Val()}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
