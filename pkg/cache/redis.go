package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOption configures RedisCache.
type RedisOption func(*redisConfig)

type redisConfig struct {
	addr         string
	password     string
	db           int
	poolSize     int
	minIdleConns int
	poolTimeout  time.Duration
	pingTimeout  time.Duration
	prefix       string
}

// WithRedisAddr sets host and port.
func WithRedisAddr(host string, port int) RedisOption {
	return func(c *redisConfig) { c.addr = fmt.Sprintf("%s:%d", host, port) }
}

// WithRedisAuth sets password and logical database.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *redisConfig) {
		c.password = password
		c.db = db
	}
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *redisConfig) {
		c.poolSize = poolSize
		c.minIdleConns = minIdleConns
		c.poolTimeout = timeout
	}
}

// WithRedisPrefix namespaces every key.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *redisConfig) { c.prefix = prefix }
}

// RedisCache implements Service on Redis. Locks carry a per-process token so
// Unlock never releases a lock another instance acquired after expiry.
type RedisCache struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(opts ...RedisOption) (*RedisCache, error) {
	cfg := &redisConfig{
		addr:         "localhost:6379",
		poolSize:     10,
		minIdleConns: 2,
		poolTimeout:  30 * time.Second,
		pingTimeout:  5 * time.Second,
		prefix:       "finseries",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.addr,
		Password:     cfg.password,
		DB:           cfg.db,
		PoolSize:     cfg.poolSize,
		PoolTimeout:  cfg.poolTimeout,
		MinIdleConns: cfg.minIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.addr, err)
	}
	return NewRedisCacheFromClient(client, cfg.prefix), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, tokens: make(map[string]string)}
}

// Client returns the underlying client, shared with the job queue.
func (c *RedisCache) Client() *redis.Client { return c.client }

// Ping reports whether Redis answers.
func (c *RedisCache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return decode(data, dest)
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Unlink(ctx, full...).Err()
}

func (c *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, c.lockKey(key), token, ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	c.mu.Lock()
	c.tokens[key] = token
	c.mu.Unlock()
	return true, nil
}

func (c *RedisCache) Unlock(ctx context.Context, key string) error {
	c.mu.Lock()
	token, ok := c.tokens[key]
	delete(c.tokens, key)
	c.mu.Unlock()
	if !ok {
		return ErrLockNotHeld
	}

	n, err := unlockScript.Run(ctx, c.client, []string{c.lockKey(key)}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (c *RedisCache) key(k string) string     { return Key(c.prefix, k) }
func (c *RedisCache) lockKey(k string) string { return Key(c.prefix, "lock", k) }
