package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// LayeredOption configures LayeredCache.
type LayeredOption func(*LayeredCache)

// WithLayeredMemorySize sets the L1 capacity.
func WithLayeredMemorySize(size int) LayeredOption {
	return func(lc *LayeredCache) { lc.memSize = size }
}

// WithLayeredMemoryTTL caps how long entries stay in L1.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(lc *LayeredCache) {
		if ttl > 0 {
			lc.memTTL = ttl
		}
	}
}

// Stats counts layered cache lookups.
type Stats struct {
	L1Hits   uint64
	L2Hits   uint64
	Misses   uint64
	L2Errors uint64
}

// LayeredCache keeps a short-lived memory copy (L1) in front of Redis (L2).
// A failing L2 read degrades to a miss so callers fall through to the
// provider; writes still report L2 errors.
type LayeredCache struct {
	mem     *MemoryCache
	redis   *RedisCache
	memSize int
	memTTL  time.Duration

	l1Hits, l2Hits, misses, l2Errors atomic.Uint64
}

func NewLayeredCache(rc *RedisCache, opts ...LayeredOption) *LayeredCache {
	lc := &LayeredCache{redis: rc, memSize: 1000, memTTL: time.Minute}
	for _, opt := range opts {
		opt(lc)
	}
	lc.mem = NewMemoryCache(WithMemoryMaxSize(lc.memSize))
	return lc
}

func (lc *LayeredCache) l1TTL(expiration time.Duration) time.Duration {
	if expiration > 0 && expiration < lc.memTTL {
		return expiration
	}
	return lc.memTTL
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.redis.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.mem.Set(ctx, key, value, lc.l1TTL(expiration))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		lc.l1Hits.Add(1)
		return nil
	}

	err := lc.redis.Get(ctx, key, dest)
	switch {
	case err == nil:
		lc.l2Hits.Add(1)
		_ = lc.mem.Set(ctx, key, dest, lc.memTTL)
		return nil
	case errors.Is(err, ErrCacheMiss):
		lc.misses.Add(1)
		return ErrCacheMiss
	case ctx.Err() != nil:
		return err
	default:
		lc.l2Errors.Add(1)
		lc.misses.Add(1)
		return ErrCacheMiss
	}
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.redis.Delete(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.redis.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.redis.Unlock(ctx, key)
}

// Stats returns a snapshot of lookup counters.
func (lc *LayeredCache) Stats() Stats {
	return Stats{
		L1Hits:   lc.l1Hits.Load(),
		L2Hits:   lc.l2Hits.Load(),
		Misses:   lc.misses.Load(),
		L2Errors: lc.l2Errors.Load(),
	}
}

// Close closes both layers, including the Redis client.
func (lc *LayeredCache) Close() error {
	_ = lc.mem.Close()
	return lc.redis.Close()
}
