package cache

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/simplecache/pkg/logger"
)

// ErrorHandler receives backend failures that the Cache contract reports only
// as a miss or a false result.
type ErrorHandler func(op, key string, err error)

// Typed adapts a byte Store to CountingCache[T] through a Codec.
type Typed[T any] struct {
	store   Store
	codec   Codec[T]
	onError ErrorHandler
}

var _ CountingCache[any] = (*Typed[any])(nil)

// NewTyped wraps store. A nil codec stores JSON; a nil handler logs through
// the cache module logger.
func NewTyped[T any](store Store, codec Codec[T], onError ErrorHandler) *Typed[T] {
	if codec == nil {
		codec = JSONCodec[T]{}
	}
	if onError == nil {
		log := logger.WithModule("cache")
		onError = func(op, key string, err error) {
			log.Warn("backend operation failed",
				zap.String("operation", op),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
	return &Typed[T]{store: store, codec: codec, onError: onError}
}

// Store exposes the wrapped backend.
func (t *Typed[T]) Store() Store {
	return t.store
}

func (t *Typed[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		t.onError("get", key, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	return t.decode(key, raw)
}

// decode falls back to the counter form when the codec rejects raw, so a
// counter created by IncrementBy reads back as T whenever T can hold it.
func (t *Typed[T]) decode(key string, raw []byte) (T, bool) {
	value, err := t.codec.Decode(raw)
	if err != nil {
		if n, ok := ParseInteger(raw); ok {
			if value, ok := counterAs[T](n); ok {
				return value, true
			}
		}
		t.onError("decode", key, err)
		var zero T
		return zero, false
	}
	return value, true
}

func (t *Typed[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) bool {
	raw, err := t.codec.Encode(value)
	if err != nil {
		t.onError("encode", key, err)
		return false
	}
	if err := t.store.Set(ctx, key, raw, ttl); err != nil {
		t.onError("set", key, err)
		return false
	}
	return true
}

func (t *Typed[T]) Delete(ctx context.Context, key string) {
	if err := t.store.Delete(ctx, key); err != nil {
		t.onError("delete", key, err)
	}
}

func (t *Typed[T]) Clear(ctx context.Context) {
	if err := t.store.Clear(ctx); err != nil {
		t.onError("clear", "", err)
	}
}

func (t *Typed[T]) GetMultiple(ctx context.Context, keys []string) map[string]Result[T] {
	out := make(map[string]Result[T], len(keys))

	multi, ok := t.store.(MultiGetter)
	if !ok {
		for _, key := range keys {
			value, found := t.Get(ctx, key)
			out[key] = Result[T]{Value: value, Found: found}
		}
		return out
	}

	found, err := multi.GetMany(ctx, keys)
	if err != nil {
		t.onError("get_multiple", "", err)
		found = nil
	}
	for _, key := range keys {
		raw, hit := found[key]
		if !hit {
			out[key] = Result[T]{}
			continue
		}
		value, decoded := t.decode(key, raw)
		out[key] = Result[T]{Value: value, Found: decoded}
	}
	return out
}

func (t *Typed[T]) SetMultiple(ctx context.Context, items map[string]T, ttl time.Duration) bool {
	ok := true
	for key, value := range items {
		if !t.Set(ctx, key, value, ttl) {
			ok = false
		}
	}
	return ok
}

func (t *Typed[T]) DeleteMultiple(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := t.store.Delete(ctx, keys...); err != nil {
		t.onError("delete_multiple", "", err)
	}
}

func (t *Typed[T]) Exists(ctx context.Context, key string) bool {
	ok, err := t.store.Exists(ctx, key)
	if err != nil {
		t.onError("exists", key, err)
		return false
	}
	return ok
}

// Increment surfaces backend failures to the caller, unlike the Cache
// methods.
func (t *Typed[T]) Increment(ctx context.Context, key string, step int64) (int64, error) {
	n, err := t.store.IncrementBy(ctx, key, step)
	if err != nil && !isCounterError(err) {
		t.onError("increment", key, err)
	}
	return n, err
}

func (t *Typed[T]) Decrement(ctx context.Context, key string, step int64) (int64, error) {
	delta, err := negate(step)
	if err != nil {
		return 0, err
	}
	n, err := t.store.IncrementBy(ctx, key, delta)
	if err != nil && !isCounterError(err) {
		t.onError("decrement", key, err)
	}
	return n, err
}

// Sweep purges expired entries when the backend needs it.
func (t *Typed[T]) Sweep(ctx context.Context) (int, error) {
	if sweeper, ok := t.store.(Sweeper); ok {
		return sweeper.Sweep(ctx)
	}
	return 0, nil
}

// Ping checks the backend when it supports health checks.
func (t *Typed[T]) Ping(ctx context.Context) error {
	if pinger, ok := t.store.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// Close releases the backend when it holds resources.
func (t *Typed[T]) Close() error {
	if closer, ok := t.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func isCounterError(err error) bool {
	return errors.Is(err, ErrNotInteger) || errors.Is(err, ErrCounterOverflow) || errors.Is(err, ErrCacheFull)
}
