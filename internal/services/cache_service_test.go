package services

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/simplecache/internal/cache"
	"github.com/charlesng35/simplecache/internal/realtime"
	apperrors "github.com/charlesng35/simplecache/pkg/errors"
)

type publishedEvent struct {
	event  string
	key    string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *eventRecorder) Publish(event, key string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{event: event, key: key, fields: fields})
}

func (r *eventRecorder) all() []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publishedEvent(nil), r.events...)
}

func newTestCacheService(t *testing.T, cfg CacheServiceConfig, opts ...cache.Option) (*CacheService, clockwork.FakeClock, *eventRecorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := cache.NewMemory[json.RawMessage](append([]cache.Option{cache.WithClock(clock)}, opts...)...)
	t.Cleanup(func() { _ = store.Close() })

	events := &eventRecorder{}
	svc, err := NewCacheService(store, cfg, events)
	require.NoError(t, err)
	return svc, clock, events
}

func ttl(seconds int64) *int64 { return &seconds }

func TestNewCacheServiceRequiresCache(t *testing.T) {
	_, err := NewCacheService(nil, CacheServiceConfig{}, nil)
	require.Error(t, err)

	_, err = NewCacheService(cache.NewMemory[json.RawMessage](), CacheServiceConfig{DefaultTTL: -time.Second}, nil)
	require.Error(t, err)
}

func TestCacheService_SetGetDelete(t *testing.T) {
	svc, _, events := newTestCacheService(t, CacheServiceConfig{Backend: "memory"})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "user:1", json.RawMessage(` {"name":"alice"} `), nil))

	value, err := svc.Get(ctx, "user:1")
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"alice"}`, string(value))

	found, err := svc.Exists(ctx, "user:1")
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, svc.Delete(ctx, "user:1"))
	_, err = svc.Get(ctx, "user:1")
	require.ErrorIs(t, err, apperrors.ErrCacheMiss)

	require.NoError(t, svc.Delete(ctx, "never-set"), "deleting an absent key succeeds")

	recorded := events.all()
	require.Len(t, recorded, 3)
	require.Equal(t, realtime.EventSet, recorded[0].event)
	require.Equal(t, realtime.EventDelete, recorded[1].event)
	require.Equal(t, "user:1", recorded[1].key)
}

func TestCacheService_StoredNullIsPresent(t *testing.T) {
	svc, _, _ := newTestCacheService(t, CacheServiceConfig{})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "nothing", json.RawMessage("null"), nil))
	value, err := svc.Get(ctx, "nothing")
	require.NoError(t, err)
	require.Equal(t, "null", string(value))
}

func TestCacheService_TTL(t *testing.T) {
	svc, clock, _ := newTestCacheService(t, CacheServiceConfig{DefaultTTL: cache.TTLMinute})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "default", json.RawMessage(`1`), nil))
	require.NoError(t, svc.Set(ctx, "hour", json.RawMessage(`2`), ttl(3600)))
	require.NoError(t, svc.Set(ctx, "forever", json.RawMessage(`3`), ttl(0)))

	clock.Advance(cache.TTLMinute)
	_, err := svc.Get(ctx, "default")
	require.ErrorIs(t, err, apperrors.ErrCacheMiss)

	_, err = svc.Get(ctx, "hour")
	require.NoError(t, err)

	clock.Advance(cache.TTLDay)
	_, err = svc.Get(ctx, "hour")
	require.ErrorIs(t, err, apperrors.ErrCacheMiss)
	_, err = svc.Get(ctx, "forever")
	require.NoError(t, err)

	err = svc.Set(ctx, "bad", json.RawMessage(`1`), ttl(-1))
	require.ErrorIs(t, err, apperrors.ErrInvalidTTL)
}

func TestCacheService_ValidateKey(t *testing.T) {
	svc, _, _ := newTestCacheService(t, CacheServiceConfig{MaxKeyLength: 8})
	ctx := context.Background()

	for _, key := range []string{"", "   ", "tab\tkey", "123456789"} {
		err := svc.Set(ctx, key, json.RawMessage(`1`), nil)
		require.ErrorIs(t, err, apperrors.ErrInvalidKey, "key %q", key)
	}
	require.NoError(t, svc.ValidateKey("12345678"))

	_, err := svc.Get(ctx, strings.Repeat("k", 9))
	require.ErrorIs(t, err, apperrors.ErrInvalidKey)
}

func TestCacheService_RejectsInvalidValues(t *testing.T) {
	svc, _, _ := newTestCacheService(t, CacheServiceConfig{})
	ctx := context.Background()

	err := svc.Set(ctx, "k", json.RawMessage(`{not json`), nil)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	err = svc.Set(ctx, "k", nil, nil)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestCacheService_WriteRejected(t *testing.T) {
	svc, _, _ := newTestCacheService(t, CacheServiceConfig{}, cache.WithMaxEntries(1))
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", json.RawMessage(`1`), nil))
	require.NoError(t, svc.Set(ctx, "a", json.RawMessage(`2`), nil), "overwrites fit within the limit")

	err := svc.Set(ctx, "b", json.RawMessage(`1`), nil)
	require.ErrorIs(t, err, apperrors.ErrWriteFailed)

	_, err = svc.Increment(ctx, "c", nil)
	require.ErrorIs(t, err, apperrors.ErrCacheFull)
}

func TestCacheService_MultipleOperations(t *testing.T) {
	svc, _, events := newTestCacheService(t, CacheServiceConfig{})
	ctx := context.Background()

	err := svc.SetMultiple(ctx, map[string]json.RawMessage{
		"k1": json.RawMessage(`"value1"`),
		"k3": json.RawMessage(`"value3"`),
	}, nil)
	require.NoError(t, err)

	results, err := svc.GetMultiple(ctx, []string{"k1", "k2", "k3"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.True(t, results["k1"].Found)
	require.False(t, results["k2"].Found)
	require.Equal(t, `"value3"`, string(results["k3"].Value))

	require.NoError(t, svc.DeleteMultiple(ctx, []string{"k1", "k3"}))
	found, err := svc.Exists(ctx, "k1")
	require.NoError(t, err)
	require.False(t, found)

	_, err = svc.GetMultiple(ctx, nil)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
	require.ErrorIs(t, svc.SetMultiple(ctx, nil, nil), apperrors.ErrBadRequest)
	require.ErrorIs(t, svc.DeleteMultiple(ctx, []string{"ok", ""}), apperrors.ErrInvalidKey)

	recorded := events.all()
	require.Len(t, recorded, 4)
	require.Equal(t, "k1", recorded[0].key)
	require.Equal(t, "k3", recorded[1].key)
}

func TestCacheService_SetMultipleIsNotTransactional(t *testing.T) {
	svc, _, events := newTestCacheService(t, CacheServiceConfig{}, cache.WithMaxEntries(2))
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "existing", json.RawMessage(`0`), nil))

	err := svc.SetMultiple(ctx, map[string]json.RawMessage{
		"existing": json.RawMessage(`1`),
		"new-a":    json.RawMessage(`2`),
		"new-b":    json.RawMessage(`3`),
	}, nil)
	require.ErrorIs(t, err, apperrors.ErrWriteFailed)

	value, err := svc.Get(ctx, "existing")
	require.NoError(t, err)
	require.Equal(t, "1", string(value), "successful writes are kept")

	published := 0
	for _, event := range events.all() {
		if event.event == realtime.EventSet {
			published++
		}
	}
	require.Equal(t, 3, published, "initial set plus the two accepted batch writes")
}

func TestCacheService_Counters(t *testing.T) {
	svc, _, events := newTestCacheService(t, CacheServiceConfig{})
	ctx := context.Background()

	n, err := svc.Increment(ctx, "visits", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = svc.Increment(ctx, "visits", ttl(10))
	require.NoError(t, err)
	require.EqualValues(t, 11, n)

	n, err = svc.Decrement(ctx, "visits", nil)
	require.NoError(t, err)
	require.EqualValues(t, 10, n)

	value, err := svc.Get(ctx, "visits")
	require.NoError(t, err)
	require.Equal(t, "10", string(value))

	n, err = svc.Decrement(ctx, "credits", ttl(5))
	require.NoError(t, err)
	require.EqualValues(t, -5, n)

	require.NoError(t, svc.Set(ctx, "word", json.RawMessage(`"hello"`), nil))
	_, err = svc.Increment(ctx, "word", nil)
	require.ErrorIs(t, err, apperrors.ErrNotInteger)

	require.NoError(t, svc.Set(ctx, "big", json.RawMessage(`9223372036854775807`), nil))
	_, err = svc.Increment(ctx, "big", nil)
	require.ErrorIs(t, err, apperrors.ErrCounterOverflow)

	min := int64(math.MinInt64)
	_, err = svc.Decrement(ctx, "other", &min)
	require.ErrorIs(t, err, apperrors.ErrCounterOverflow)

	last := events.all()
	var increments int
	for _, event := range last {
		if event.event == realtime.EventIncrement {
			increments++
			require.Contains(t, event.fields, "value")
		}
	}
	require.Equal(t, 2, increments)
}

func TestCacheService_ConcurrentIncrements(t *testing.T) {
	svc, _, _ := newTestCacheService(t, CacheServiceConfig{})
	ctx := context.Background()

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := svc.Increment(ctx, "hits", nil)
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	value, err := svc.Get(ctx, "hits")
	require.NoError(t, err)
	require.Equal(t, "400", string(value))
}

func TestCacheService_ClearAndEntries(t *testing.T) {
	svc, _, events := newTestCacheService(t, CacheServiceConfig{})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", json.RawMessage(`1`), nil))
	require.NoError(t, svc.Set(ctx, "b", json.RawMessage(`2`), nil))

	entries, ok := svc.Entries()
	require.True(t, ok)
	require.Equal(t, 2, entries)

	svc.Clear(ctx)
	entries, _ = svc.Entries()
	require.Zero(t, entries)

	recorded := events.all()
	require.Equal(t, realtime.EventClear, recorded[len(recorded)-1].event)
	require.Empty(t, recorded[len(recorded)-1].key)
}

func TestBackendErrorHandler(t *testing.T) {
	handler := BackendErrorHandler("bolt")
	require.NotPanics(t, func() {
		handler("get", "k", context.DeadlineExceeded)
	})
}

func TestCacheService_ReadsReturnCopies(t *testing.T) {
	svc, _, _ := newTestCacheService(t, CacheServiceConfig{})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "doc", json.RawMessage(`{"a":1}`), nil))

	value, err := svc.Get(ctx, "doc")
	require.NoError(t, err)
	value[0] = 'X'

	results, err := svc.GetMultiple(ctx, []string{"doc"})
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(results["doc"].Value))
	results["doc"].Value[0] = 'Y'

	value, err = svc.Get(ctx, "doc")
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(value), "callers cannot change the cached bytes")
}
