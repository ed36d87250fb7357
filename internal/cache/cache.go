package cache

import (
	"context"
	"errors"
	"math"
	"time"
)

// Expiration presets accepted by Set and SetMultiple.
const (
	NoExpiration time.Duration = 0
	TTLMinute                  = 60 * time.Second
	TTLHour                    = 3600 * time.Second
	TTLDay                     = 86400 * time.Second
)

// DefaultStep is the counter delta used when callers do not pick one.
const DefaultStep int64 = 1

var (
	// ErrNotInteger is returned by counter operations when the key holds a
	// value that cannot be read as a 64-bit integer. It is not a miss.
	ErrNotInteger = errors.New("cache: value is not an integer")
	// ErrCounterOverflow is returned when a counter update would leave the
	// int64 range.
	ErrCounterOverflow = errors.New("cache: counter overflow")
	// ErrCacheFull is returned when creating a counter would exceed the
	// configured entry limit.
	ErrCacheFull = errors.New("cache: entry limit reached")
	// ErrClosed is returned by stores used after Close.
	ErrClosed = errors.New("cache: store closed")
)

// Result is one slot of a GetMultiple response. Found distinguishes a stored
// zero value from an absent key.
type Result[T any] struct {
	Value T
	Found bool
}

// Cache is a key-value store with optional per-entry expiration.
//
// Misses are reported through the boolean results and never as errors. A ttl
// of zero or less means the entry never expires.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	// Set inserts or overwrites key. It returns false when the backend could
	// not accept the write.
	Set(ctx context.Context, key string, value T, ttl time.Duration) bool
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
	// GetMultiple returns an entry for every requested key.
	GetMultiple(ctx context.Context, keys []string) map[string]Result[T]
	// SetMultiple writes every item with the same ttl. It returns true only
	// when all writes succeeded; successful writes are kept either way.
	SetMultiple(ctx context.Context, items map[string]T, ttl time.Duration) bool
	DeleteMultiple(ctx context.Context, keys []string)
	// Exists reports whether key currently holds a live entry. The answer may
	// be stale by the time the caller acts on it.
	Exists(ctx context.Context, key string) bool
}

// Counter adjusts integer values atomically. Absent keys start from zero.
type Counter interface {
	Increment(ctx context.Context, key string, step int64) (int64, error)
	Decrement(ctx context.Context, key string, step int64) (int64, error)
}

// CountingCache combines both contracts over a single key space.
type CountingCache[T any] interface {
	Cache[T]
	Counter
}

// TTLSeconds converts a whole number of seconds into a ttl. Values of zero or
// less map to NoExpiration.
func TTLSeconds(seconds int64) time.Duration {
	if seconds <= 0 {
		return NoExpiration
	}
	if seconds > math.MaxInt64/int64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds) * time.Second
}

// negate flips a decrement step into an increment delta.
func negate(step int64) (int64, error) {
	if step == math.MinInt64 {
		return 0, ErrCounterOverflow
	}
	return -step, nil
}

// addInt64 returns a+b and whether the sum overflowed.
func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, true
	}
	return sum, false
}

// deadline converts a relative ttl to an absolute expiry. The zero time
// means the entry never expires.
func deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// expiredAt reports whether an entry with the given expiry is no longer
// visible at now.
func expiredAt(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
