package cache

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Store is the byte-level contract implemented by external backends. Unlike
// Cache it surfaces I/O failures; Typed turns a Store into a Cache.
//
// Counters are stored as base-10 text so IncrementBy can interpret values
// written through Set.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
	Exists(ctx context.Context, key string) (bool, error)
	// IncrementBy adds delta to the integer at key and keeps its expiry.
	// Absent keys start from zero with no expiry.
	IncrementBy(ctx context.Context, key string, delta int64) (int64, error)
}

// MultiGetter is implemented by stores that can fetch many keys in one
// round trip. Absent keys are omitted from the returned map.
type MultiGetter interface {
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
}

// Sweeper is implemented by stores whose expired entries need an explicit
// purge.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Pinger reports backend reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreOption configures the database and bolt stores.
type StoreOption func(*storeOptions)

type storeOptions struct {
	clock clockwork.Clock
}

// WithStoreClock replaces the wall clock used to stamp and check expiry.
func WithStoreClock(clock clockwork.Clock) StoreOption {
	return func(o *storeOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func applyStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
