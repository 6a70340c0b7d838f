package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNotRunning = errors.New("queue not running")
	ErrNoJob      = errors.New("no job registered")
	// ErrPermanent marks a handler failure that no retry can fix.
	ErrPermanent = errors.New("permanent failure")
)

// QueueService enqueues work for asynchronous processing.
type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers       int           // number of workers
	RetryLimit    int           // number of maximum retries
	RetryDelay    time.Duration // delay before the first retry, doubled per attempt
	MaxRetryDelay time.Duration // cap on the retry delay
	PollInterval  time.Duration // how often due retries are moved back
}

// Message represents a message in the queue
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Attempts  int         `json:"attempts"`
	Timestamp time.Time   `json:"timestamp"`
	LastError string      `json:"last_error,omitempty"`
}

// outcome is what should happen to a message after one handling attempt.
type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDead
	outcomeDropped
)

// decide maps a handler result onto the retry policy.
func decide(err error, attempts, retryLimit int) outcome {
	switch {
	case err == nil:
		return outcomeDone
	case errors.Is(err, context.Canceled):
		return outcomeDropped
	case errors.Is(err, ErrPermanent):
		return outcomeDead
	case attempts < retryLimit:
		return outcomeRetry
	default:
		return outcomeDead
	}
}

// retryBackoff is base doubled for every attempt after the first, capped at max.
func retryBackoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	case []byte:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	case map[string]interface{}, []interface{}:
		jsonData, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to json: %w", err)
		}
		if err := json.Unmarshal(jsonData, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal json to struct: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}

// Inline runs jobs synchronously in the caller's goroutine. It stands in for
// the Redis queue when no Redis is configured.
type Inline struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewInline(jobs ...Job) *Inline {
	q := &Inline{jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		q.jobs[j.Type()] = j
	}
	return q
}

// PublishMessage handles the payload immediately.
func (q *Inline) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	job, ok := q.jobs[msgType]
	q.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w for type: %s", ErrNoJob, msgType)
	}
	return job.Handle(ctx, payload)
}
