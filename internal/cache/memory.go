package cache

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Option configures a Memory cache.
type Option func(*memoryOptions)

type memoryOptions struct {
	shards       int
	maxEntries   int64
	maxValueSize int
	sizer        func(any) int
	clock        clockwork.Clock
	onExpire     func(key string)
	janitor      time.Duration
}

// WithShards sets the number of independently locked partitions.
func WithShards(n int) Option {
	return func(o *memoryOptions) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithMaxEntries caps how many keys the cache holds. Writes that would add a
// key beyond the cap fail; overwrites of existing keys always succeed.
func WithMaxEntries(n int) Option {
	return func(o *memoryOptions) {
		if n > 0 {
			o.maxEntries = int64(n)
		}
	}
}

// WithMaxValueSize rejects values whose size, as measured by sizer, exceeds
// limit bytes. A nil sizer uses ValueSize.
func WithMaxValueSize(limit int, sizer func(any) int) Option {
	return func(o *memoryOptions) {
		if limit <= 0 {
			return
		}
		o.maxValueSize = limit
		o.sizer = sizer
		if o.sizer == nil {
			o.sizer = ValueSize
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(o *memoryOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithExpireHook registers fn to be called, outside any lock, for every key
// purged because it expired.
func WithExpireHook(fn func(key string)) Option {
	return func(o *memoryOptions) {
		o.onExpire = fn
	}
}

// WithJanitor starts a goroutine sweeping expired entries every interval
// until Close is called.
func WithJanitor(interval time.Duration) Option {
	return func(o *memoryOptions) {
		o.janitor = interval
	}
}

// ValueSize estimates the stored size of v: byte length for strings and raw
// bytes, JSON length otherwise. Values that cannot be marshalled report
// math.MaxInt so size limits reject them.
func ValueSize(v any) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case []byte:
		return len(val)
	case json.RawMessage:
		return len(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return math.MaxInt
		}
		return len(raw)
	}
}

// Memory is the in-process CountingCache. Keys are spread over shards with
// their own RWMutex; expired entries are dropped lazily on access and in
// bulk by Sweep.
type Memory[T any] struct {
	shards []*shard[T]
	opts   memoryOptions
	count  atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ CountingCache[string] = (*Memory[string])(nil)

// NewMemory builds an empty cache.
func NewMemory[T any](opts ...Option) *Memory[T] {
	o := memoryOptions{
		shards: defaultShards,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Memory[T]{
		shards: newShards[T](o.shards),
		opts:   o,
	}
	if o.janitor > 0 {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.janitorLoop(o.janitor)
	}
	return m
}

func (m *Memory[T]) shardFor(key string) *shard[T] {
	return m.shards[shardIndex(key, len(m.shards))]
}

func (m *Memory[T]) now() time.Time {
	return m.opts.clock.Now()
}

// lookup returns the live entry for key, purging it when expired.
func (m *Memory[T]) lookup(key string) *entry[T] {
	s := m.shardFor(key)
	e := s.load(key)
	if e == nil {
		return nil
	}
	if e.expired(m.now()) {
		if s.removeIf(key, e) {
			m.count.Add(-1)
			m.expired([]string{key})
		}
		return nil
	}
	return e
}

func (m *Memory[T]) expired(keys []string) {
	if m.opts.onExpire == nil {
		return
	}
	for _, key := range keys {
		m.opts.onExpire(key)
	}
}

// reserve claims a slot for a new key.
func (m *Memory[T]) reserve() bool {
	if m.opts.maxEntries <= 0 {
		m.count.Add(1)
		return true
	}
	if m.count.Add(1) > m.opts.maxEntries {
		m.count.Add(-1)
		return false
	}
	return true
}

// reserveLocked claims a slot, first reclaiming expired entries from the
// locked shard when the cache is at its limit.
func (m *Memory[T]) reserveLocked(s *shard[T], now time.Time) (bool, []string) {
	if m.reserve() {
		return true, nil
	}
	purged := s.collectExpiredLocked(now)
	m.count.Add(-int64(len(purged)))
	return m.reserve(), purged
}

// Get returns the stored value itself. For reference types such as slices
// the caller shares memory with the cache and must not modify it.
func (m *Memory[T]) Get(_ context.Context, key string) (T, bool) {
	e := m.lookup(key)
	if e == nil {
		var zero T
		return zero, false
	}
	return e.read()
}

func (m *Memory[T]) Set(_ context.Context, key string, value T, ttl time.Duration) bool {
	if m.opts.maxValueSize > 0 && m.opts.sizer(value) > m.opts.maxValueSize {
		return false
	}

	s := m.shardFor(key)
	s.mu.Lock()
	now := m.now()
	_, exists := s.items[key]
	var purged []string
	if !exists {
		var ok bool
		ok, purged = m.reserveLocked(s, now)
		if !ok {
			s.mu.Unlock()
			m.expired(purged)
			return false
		}
	}
	s.items[key] = &entry[T]{kind: kindValue, value: value, expiresAt: deadline(now, ttl)}
	s.mu.Unlock()

	m.expired(purged)
	return true
}

func (m *Memory[T]) Delete(_ context.Context, key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	if _, ok := s.items[key]; ok {
		delete(s.items, key)
		m.count.Add(-1)
	}
	s.mu.Unlock()
}

func (m *Memory[T]) Clear(_ context.Context) {
	for _, s := range m.shards {
		s.mu.Lock()
		n := len(s.items)
		s.items = make(map[string]*entry[T])
		m.count.Add(-int64(n))
		s.mu.Unlock()
	}
}

func (m *Memory[T]) GetMultiple(ctx context.Context, keys []string) map[string]Result[T] {
	out := make(map[string]Result[T], len(keys))
	for _, key := range keys {
		value, found := m.Get(ctx, key)
		out[key] = Result[T]{Value: value, Found: found}
	}
	return out
}

func (m *Memory[T]) SetMultiple(ctx context.Context, items map[string]T, ttl time.Duration) bool {
	ok := true
	for key, value := range items {
		if !m.Set(ctx, key, value, ttl) {
			ok = false
		}
	}
	return ok
}

func (m *Memory[T]) DeleteMultiple(ctx context.Context, keys []string) {
	for _, key := range keys {
		m.Delete(ctx, key)
	}
}

func (m *Memory[T]) Exists(_ context.Context, key string) bool {
	return m.lookup(key) != nil
}

func (m *Memory[T]) Increment(_ context.Context, key string, step int64) (int64, error) {
	return m.add(key, step)
}

func (m *Memory[T]) Decrement(_ context.Context, key string, step int64) (int64, error) {
	delta, err := negate(step)
	if err != nil {
		return 0, err
	}
	return m.add(key, delta)
}

// add applies delta under the shard lock. A live entry keeps its expiry;
// absent or expired keys start from zero without one.
func (m *Memory[T]) add(key string, delta int64) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()

	now := m.now()
	var (
		base      int64
		expiresAt time.Time
		purged    []string
	)
	cur, exists := s.items[key]
	if exists && !cur.expired(now) {
		n, ok := cur.integer()
		if !ok {
			s.mu.Unlock()
			return 0, ErrNotInteger
		}
		base, expiresAt = n, cur.expiresAt
	}

	next, overflow := addInt64(base, delta)
	if overflow {
		s.mu.Unlock()
		return 0, ErrCounterOverflow
	}
	if _, ok := counterAs[T](next); !ok {
		s.mu.Unlock()
		return 0, counterError[T]()
	}

	if !exists {
		var ok bool
		ok, purged = m.reserveLocked(s, now)
		if !ok {
			s.mu.Unlock()
			m.expired(purged)
			return 0, ErrCacheFull
		}
	}
	s.items[key] = &entry[T]{kind: kindCounter, counter: next, expiresAt: expiresAt}
	s.mu.Unlock()

	m.expired(purged)
	return next, nil
}

// Expire resets the ttl of a live key. A ttl of zero or less removes its
// expiry. It reports whether the key was live.
func (m *Memory[T]) Expire(_ context.Context, key string, ttl time.Duration) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	cur, ok := s.items[key]
	if !ok || cur.expired(now) {
		return false
	}
	next := *cur
	next.expiresAt = deadline(now, ttl)
	s.items[key] = &next
	return true
}

// TTL returns the remaining lifetime of a live key. Zero means the key does
// not expire.
func (m *Memory[T]) TTL(_ context.Context, key string) (time.Duration, bool) {
	e := m.lookup(key)
	if e == nil {
		return 0, false
	}
	if e.expiresAt.IsZero() {
		return NoExpiration, true
	}
	return e.expiresAt.Sub(m.now()), true
}

// Len reports how many entries are held, including expired entries that
// have not been purged yet.
func (m *Memory[T]) Len() int {
	return int(m.count.Load())
}

// Sweep purges every expired entry and returns how many were removed.
func (m *Memory[T]) Sweep(ctx context.Context) (int, error) {
	removed := 0
	for _, s := range m.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		s.mu.Lock()
		keys := s.collectExpiredLocked(m.now())
		s.mu.Unlock()

		m.count.Add(-int64(len(keys)))
		m.expired(keys)
		removed += len(keys)
	}
	return removed, nil
}

func (m *Memory[T]) janitorLoop(interval time.Duration) {
	defer close(m.done)

	ticker := m.opts.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			_, _ = m.Sweep(context.Background())
		case <-m.stop:
			return
		}
	}
}

// Close stops the janitor, if any. It is safe to call more than once.
func (m *Memory[T]) Close() error {
	m.closeOnce.Do(func() {
		if m.stop != nil {
			close(m.stop)
			<-m.done
		}
	})
	return nil
}
