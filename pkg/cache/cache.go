package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	// ErrLockNotHeld is returned by Unlock when the caller does not own the lock.
	ErrLockNotHeld = errors.New("cache: lock not held")
)

// Service defines cache operations. Values are stored as JSON, so Get
// decodes into any pointer that the stored value was encoded from.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

// Key joins parts with ":" after trimming separators from each part; empty
// parts are skipped.
func Key(parts ...interface{}) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.Trim(fmt.Sprint(p), ":")
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ":")
}

// SeriesKey names a cached provider response.
func SeriesKey(symbol, freq string, start, end time.Time) string {
	return Key("series", strings.ToLower(symbol), freq, start.Format(time.DateOnly), end.Format(time.DateOnly))
}
