package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultMemoryTTL = 24 * time.Hour

// MemoryOption configures MemoryCache.
type MemoryOption func(*MemoryCache)

// WithMemoryMaxSize bounds the number of stored values. Locks are not counted.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(mc *MemoryCache) {
		if size > 0 {
			mc.maxSize = size
		}
	}
}

// WithMemoryCleanup sets how often expired values are swept.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(mc *MemoryCache) {
		if interval > 0 {
			mc.cleanupEvery = interval
		}
	}
}

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(mc *MemoryCache) { mc.now = now }
}

type memoryEntry struct {
	key      string
	value    []byte
	expireAt time.Time
}

// MemoryCache is a process-local LRU cache. It also serves as the lock
// backend when Redis is not configured.
type MemoryCache struct {
	mu           sync.Mutex
	items        map[string]*list.Element
	lru          *list.List // front is most recently used
	locks        map[string]time.Time
	maxSize      int
	cleanupEvery time.Duration
	now          func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates an in-memory cache and starts its sweeper.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	mc := &MemoryCache{
		items:        make(map[string]*list.Element),
		lru:          list.New(),
		locks:        make(map[string]time.Time),
		maxSize:      1000,
		cleanupEvery: 5 * time.Minute,
		now:          time.Now,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(mc)
	}

	go mc.sweep()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if expiration <= 0 {
		expiration = defaultMemoryTTL
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	expireAt := mc.now().Add(expiration)
	if el, ok := mc.items[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value, e.expireAt = data, expireAt
		mc.lru.MoveToFront(el)
		return nil
	}
	for mc.lru.Len() >= mc.maxSize {
		mc.removeElement(mc.lru.Back())
	}
	mc.items[key] = mc.lru.PushFront(&memoryEntry{key: key, value: data, expireAt: expireAt})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	el, ok := mc.items[key]
	if !ok {
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	e := el.Value.(*memoryEntry)
	if !mc.now().Before(e.expireAt) {
		mc.removeElement(el)
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	mc.lru.MoveToFront(el)
	data := e.value
	mc.mu.Unlock()

	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if el, ok := mc.items[key]; ok {
			mc.removeElement(el)
		}
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	if until, ok := mc.locks[key]; ok && now.Before(until) {
		return false, nil
	}
	mc.locks[key] = now.Add(ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.locks[key]; !ok {
		return ErrLockNotHeld
	}
	delete(mc.locks, key)
	return nil
}

// Len returns the number of stored values, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.lru.Len()
}

func (mc *MemoryCache) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	mc.lru.Remove(el)
	delete(mc.items, el.Value.(*memoryEntry).key)
}

func (mc *MemoryCache) sweep() {
	t := time.NewTicker(mc.cleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-mc.done:
			return
		case <-t.C:
		}

		mc.mu.Lock()
		now := mc.now()
		for el := mc.lru.Back(); el != nil; {
			prev := el.Prev()
			if !now.Before(el.Value.(*memoryEntry).expireAt) {
				mc.removeElement(el)
			}
			el = prev
		}
		for k, until := range mc.locks {
			if !now.Before(until) {
				delete(mc.locks, k)
			}
		}
		mc.mu.Unlock()
	}
}

// Close stops the sweeper.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() { close(mc.done) })
	return nil
}
