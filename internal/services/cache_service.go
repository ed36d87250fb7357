package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/simplecache/internal/cache"
	"github.com/charlesng35/simplecache/internal/monitoring"
	"github.com/charlesng35/simplecache/internal/realtime"
	apperrors "github.com/charlesng35/simplecache/pkg/errors"
	"github.com/charlesng35/simplecache/pkg/logger"
	"github.com/charlesng35/simplecache/pkg/validator"
)

const defaultMaxKeyLength = 250

// EventPublisher receives key change notifications.
type EventPublisher interface {
	Publish(event, key string, fields map[string]any)
}

// CacheServiceConfig tunes request validation.
type CacheServiceConfig struct {
	// Backend names the store for logs and response metadata.
	Backend string
	// DefaultTTL applies when a write does not carry a ttl.
	DefaultTTL time.Duration
	// MaxKeyLength bounds keys in bytes.
	MaxKeyLength int
}

// CacheService exposes cache and counter operations to the transport layers.
// Values are opaque JSON documents.
type CacheService struct {
	cache        cache.CountingCache[json.RawMessage]
	backend      string
	defaultTTL   time.Duration
	maxKeyLength int
	events       EventPublisher
	log          *zap.Logger
}

// NewCacheService constructs a cache service. events may be nil.
func NewCacheService(store cache.CountingCache[json.RawMessage], cfg CacheServiceConfig, events EventPublisher) (*CacheService, error) {
	if store == nil {
		return nil, errors.New("cache service: cache is required")
	}
	if cfg.DefaultTTL < 0 {
		return nil, errors.New("cache service: default ttl must not be negative")
	}
	maxKeyLength := cfg.MaxKeyLength
	if maxKeyLength <= 0 {
		maxKeyLength = defaultMaxKeyLength
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}
	return &CacheService{
		cache:        store,
		backend:      backend,
		defaultTTL:   cfg.DefaultTTL,
		maxKeyLength: maxKeyLength,
		events:       events,
		log:          logger.WithModule("cache"),
	}, nil
}

// Backend reports the configured backend name.
func (s *CacheService) Backend() string {
	return s.backend
}

// BackendErrorHandler returns a cache.ErrorHandler that records store
// failures against backend.
func BackendErrorHandler(backend string) cache.ErrorHandler {
	log := logger.WithModule("cache")
	return func(op, key string, err error) {
		monitoring.RecordBackendError(backend, op, err.Error())
		log.Warn("cache backend error",
			zap.String("backend", backend),
			zap.String("operation", op),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// ValidateKey checks key against the configured length and character rules.
func (s *CacheService) ValidateKey(key string) error {
	if len(key) == 0 {
		return apperrors.ErrInvalidKey.WithMessage("Key is required")
	}
	if len(key) > s.maxKeyLength {
		return apperrors.ErrInvalidKey.WithMessage(fmt.Sprintf("Key exceeds %d bytes", s.maxKeyLength))
	}
	if err := validator.ValidateVar(key, "cachekey"); err != nil {
		return apperrors.ErrInvalidKey.WithMessage("Key must not be blank or contain control characters")
	}
	return nil
}

func (s *CacheService) validateKeys(keys []string) error {
	if len(keys) == 0 {
		return apperrors.NewBadRequest("At least one key is required")
	}
	for _, key := range keys {
		if err := s.ValidateKey(key); err != nil {
			return err
		}
	}
	return nil
}

// ResolveTTL converts a ttl in seconds into a duration. A nil ttl selects the
// default, zero disables expiration and negative values are rejected.
func (s *CacheService) ResolveTTL(seconds *int64) (time.Duration, error) {
	if seconds == nil {
		return s.defaultTTL, nil
	}
	if *seconds < 0 {
		return 0, apperrors.ErrInvalidTTL
	}
	return cache.TTLSeconds(*seconds), nil
}

func validateValue(value json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, apperrors.NewBadRequest("Value must be a JSON document")
	}
	return append(json.RawMessage(nil), trimmed...), nil
}

// Get returns the value stored at key or ErrCacheMiss.
func (s *CacheService) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := s.ValidateKey(key); err != nil {
		monitoring.RecordCacheOperation("get", monitoring.ResultInvalid)
		return nil, err
	}
	value, ok := s.cache.Get(ensuredContext(ctx), key)
	if !ok {
		monitoring.RecordCacheOperation("get", monitoring.ResultMiss)
		return nil, apperrors.ErrCacheMiss
	}
	monitoring.RecordCacheOperation("get", monitoring.ResultHit)
	return cloneRaw(value), nil
}

// Set stores value at key. ttlSeconds follows ResolveTTL.
func (s *CacheService) Set(ctx context.Context, key string, value json.RawMessage, ttlSeconds *int64) error {
	if err := s.ValidateKey(key); err != nil {
		monitoring.RecordCacheOperation("set", monitoring.ResultInvalid)
		return err
	}
	ttl, err := s.ResolveTTL(ttlSeconds)
	if err != nil {
		monitoring.RecordCacheOperation("set", monitoring.ResultInvalid)
		return err
	}
	stored, err := validateValue(value)
	if err != nil {
		monitoring.RecordCacheOperation("set", monitoring.ResultInvalid)
		return err
	}

	if !s.cache.Set(ensuredContext(ctx), key, stored, ttl) {
		monitoring.RecordCacheOperation("set", monitoring.ResultFailed)
		s.log.Warn("cache write rejected", zap.String("key", key), zap.String("backend", s.backend))
		return apperrors.ErrWriteFailed
	}
	monitoring.RecordCacheOperation("set", monitoring.ResultOK)
	s.publish(realtime.EventSet, key, map[string]any{"ttl": int64(ttl / time.Second)})
	return nil
}

// Delete removes key. Deleting an absent key succeeds.
func (s *CacheService) Delete(ctx context.Context, key string) error {
	if err := s.ValidateKey(key); err != nil {
		monitoring.RecordCacheOperation("delete", monitoring.ResultInvalid)
		return err
	}
	s.cache.Delete(ensuredContext(ctx), key)
	monitoring.RecordCacheOperation("delete", monitoring.ResultOK)
	s.publish(realtime.EventDelete, key, nil)
	return nil
}

// Clear removes every entry.
func (s *CacheService) Clear(ctx context.Context) {
	s.cache.Clear(ensuredContext(ctx))
	monitoring.RecordCacheOperation("clear", monitoring.ResultOK)
	s.log.Info("cache cleared", zap.String("backend", s.backend))
	s.publish(realtime.EventClear, "", nil)
}

// Exists reports whether key holds a live entry.
func (s *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.ValidateKey(key); err != nil {
		monitoring.RecordCacheOperation("exists", monitoring.ResultInvalid)
		return false, err
	}
	found := s.cache.Exists(ensuredContext(ctx), key)
	if found {
		monitoring.RecordCacheOperation("exists", monitoring.ResultHit)
	} else {
		monitoring.RecordCacheOperation("exists", monitoring.ResultMiss)
	}
	return found, nil
}

// GetMultiple returns a result for every requested key. Duplicate keys
// collapse into one entry.
func (s *CacheService) GetMultiple(ctx context.Context, keys []string) (map[string]cache.Result[json.RawMessage], error) {
	if err := s.validateKeys(keys); err != nil {
		monitoring.RecordCacheOperation("get_multiple", monitoring.ResultInvalid)
		return nil, err
	}
	monitoring.ObserveBatchSize("get_multiple", len(keys))

	results := s.cache.GetMultiple(ensuredContext(ctx), keys)
	for key, result := range results {
		if result.Found {
			result.Value = cloneRaw(result.Value)
			results[key] = result
			monitoring.RecordCacheOperation("get_multiple", monitoring.ResultHit)
		} else {
			monitoring.RecordCacheOperation("get_multiple", monitoring.ResultMiss)
		}
	}
	return results, nil
}

// SetMultiple writes every item with the same ttl. Writes are applied one by
// one; when any is rejected ErrWriteFailed is returned and the successful
// writes remain.
func (s *CacheService) SetMultiple(ctx context.Context, items map[string]json.RawMessage, ttlSeconds *int64) error {
	if len(items) == 0 {
		monitoring.RecordCacheOperation("set_multiple", monitoring.ResultInvalid)
		return apperrors.NewBadRequest("At least one item is required")
	}
	ttl, err := s.ResolveTTL(ttlSeconds)
	if err != nil {
		monitoring.RecordCacheOperation("set_multiple", monitoring.ResultInvalid)
		return err
	}

	prepared := make(map[string]json.RawMessage, len(items))
	for key, value := range items {
		if err := s.ValidateKey(key); err != nil {
			monitoring.RecordCacheOperation("set_multiple", monitoring.ResultInvalid)
			return err
		}
		stored, err := validateValue(value)
		if err != nil {
			monitoring.RecordCacheOperation("set_multiple", monitoring.ResultInvalid)
			return apperrors.NewBadRequest(fmt.Sprintf("Value for %q must be a JSON document", key))
		}
		prepared[key] = stored
	}
	monitoring.ObserveBatchSize("set_multiple", len(prepared))

	ctx = ensuredContext(ctx)
	ok := s.cache.SetMultiple(ctx, prepared, ttl)
	fields := map[string]any{"ttl": int64(ttl / time.Second)}
	for _, key := range sortedKeys(prepared) {
		if ok || s.cache.Exists(ctx, key) {
			s.publish(realtime.EventSet, key, fields)
		}
	}
	if !ok {
		monitoring.RecordCacheOperation("set_multiple", monitoring.ResultFailed)
		s.log.Warn("cache batch write partially rejected",
			zap.Int("items", len(prepared)),
			zap.String("backend", s.backend),
		)
		return apperrors.ErrWriteFailed.WithMessage("One or more writes were rejected")
	}
	monitoring.RecordCacheOperation("set_multiple", monitoring.ResultOK)
	return nil
}

// DeleteMultiple removes every listed key.
func (s *CacheService) DeleteMultiple(ctx context.Context, keys []string) error {
	if err := s.validateKeys(keys); err != nil {
		monitoring.RecordCacheOperation("delete_multiple", monitoring.ResultInvalid)
		return err
	}
	monitoring.ObserveBatchSize("delete_multiple", len(keys))
	s.cache.DeleteMultiple(ensuredContext(ctx), keys)
	monitoring.RecordCacheOperation("delete_multiple", monitoring.ResultOK)
	for _, key := range keys {
		s.publish(realtime.EventDelete, key, nil)
	}
	return nil
}

// Increment adds step (default 1) to the counter at key.
func (s *CacheService) Increment(ctx context.Context, key string, step *int64) (int64, error) {
	return s.adjust(ctx, "increment", key, step, s.cache.Increment)
}

// Decrement subtracts step (default 1) from the counter at key.
func (s *CacheService) Decrement(ctx context.Context, key string, step *int64) (int64, error) {
	return s.adjust(ctx, "decrement", key, step, s.cache.Decrement)
}

func (s *CacheService) adjust(ctx context.Context, op, key string, step *int64, apply func(context.Context, string, int64) (int64, error)) (int64, error) {
	if err := s.ValidateKey(key); err != nil {
		monitoring.RecordCacheOperation(op, monitoring.ResultInvalid)
		return 0, err
	}
	delta := cache.DefaultStep
	if step != nil {
		delta = *step
	}

	value, err := apply(ensuredContext(ctx), key, delta)
	if err != nil {
		appErr := counterError(err)
		if appErr.StatusCode >= 500 && !errors.Is(appErr, apperrors.ErrCacheFull) {
			monitoring.RecordCacheOperation(op, monitoring.ResultFailed)
			s.log.Error("counter update failed", zap.String("key", key), zap.String("operation", op), zap.Error(err))
		} else {
			monitoring.RecordCacheOperation(op, monitoring.ResultConflict)
		}
		return 0, appErr
	}

	monitoring.RecordCacheOperation(op, monitoring.ResultOK)
	event := realtime.EventIncrement
	if op == "decrement" {
		event = realtime.EventDecrement
	}
	s.publish(event, key, map[string]any{"value": value, "step": delta})
	return value, nil
}

func counterError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, cache.ErrNotInteger):
		return apperrors.ErrNotInteger.WithInternal(err)
	case errors.Is(err, cache.ErrCounterOverflow):
		return apperrors.ErrCounterOverflow.WithInternal(err)
	case errors.Is(err, cache.ErrCacheFull):
		return apperrors.ErrCacheFull.WithInternal(err)
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}

// Entries reports the number of stored entries when the backend tracks it.
func (s *CacheService) Entries() (int, bool) {
	counter, ok := s.cache.(interface{ Len() int })
	if !ok {
		return 0, false
	}
	return counter.Len(), true
}

func (s *CacheService) publish(event, key string, fields map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(event, key, fields)
}

func sortedKeys(items map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func ensuredContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// cloneRaw detaches a value from the backend, which may hand out the bytes
// it holds.
func cloneRaw(value json.RawMessage) json.RawMessage {
	if value == nil {
		return nil
	}
	return append(json.RawMessage(nil), value...)
}
