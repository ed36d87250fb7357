package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/simplecache/internal/cache"
	"github.com/charlesng35/simplecache/internal/monitoring"
	"github.com/charlesng35/simplecache/pkg/errors"
	"github.com/charlesng35/simplecache/pkg/response"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// MemoryRateStore keeps fixed-window counters in an in-process cache. Each
// window is a counter whose expiry is set by the first hit.
type MemoryRateStore struct {
	counters *cache.Memory[int64]
}

// NewMemoryRateStore constructs an in-memory rate store.
func NewMemoryRateStore(opts ...cache.Option) *MemoryRateStore {
	return &MemoryRateStore{counters: cache.NewMemory[int64](opts...)}
}

func (s *MemoryRateStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, err := s.counters.Increment(ctx, key, cache.DefaultStep)
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		s.counters.Expire(ctx, key, window)
	}
	ttl, ok := s.counters.TTL(ctx, key)
	if !ok || ttl <= 0 {
		// A window whose expiry was never recorded restarts now.
		s.counters.Expire(ctx, key, window)
		ttl = window
	}
	return count, ttl, nil
}

// Sweep drops counters whose window has closed.
func (s *MemoryRateStore) Sweep(ctx context.Context) (int, error) {
	return s.counters.Sweep(ctx)
}

// Len reports the number of tracked windows.
func (s *MemoryRateStore) Len() int {
	return s.counters.Len()
}

// Close stops background work.
func (s *MemoryRateStore) Close() error {
	return s.counters.Close()
}

// RateLimit limits requests per client and route within a fixed window.
// Authenticated callers are keyed by client id, others by address.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		client := ClientID(c)
		if client == "" {
			client = c.ClientIP()
		}
		key := client + "|" + c.FullPath()

		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// Fail open
			c.Next()
			return
		}

		remaining := int64(maxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > int64(maxRequests) {
			monitoring.RecordRateLimited()
			c.Header("Retry-After", strconv.Itoa(int(ttl.Seconds())+1))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
