package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	defaultBoltBucket = "cache"
	boltHeaderSize    = 8
)

// BoltOptions configures a BoltStore.
type BoltOptions struct {
	// Bucket is the bbolt bucket holding entries. Defaults to "cache".
	Bucket string
	// OpenTimeout bounds how long Open waits for the file lock.
	OpenTimeout time.Duration
}

// BoltStore persists entries in a single bbolt bucket. Each value is an
// 8-byte big-endian expiry in Unix nanoseconds (0 for none) followed by the
// payload. bbolt serialises writers, so IncrementBy is atomic.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
	opts   storeOptions
}

var (
	_ Store       = (*BoltStore)(nil)
	_ MultiGetter = (*BoltStore)(nil)
	_ Sweeper     = (*BoltStore)(nil)
	_ Pinger      = (*BoltStore)(nil)
)

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string, opts BoltOptions, storeOpts ...StoreOption) (*BoltStore, error) {
	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}

	bucket := []byte(defaultBoltBucket)
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db, bucket: bucket, opts: applyStoreOptions(storeOpts)}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) now() time.Time {
	return s.opts.clock.Now()
}

func encodeBolt(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, boltHeaderSize+len(value))
	if !expiresAt.IsZero() {
		binary.BigEndian.PutUint64(buf[:boltHeaderSize], uint64(expiresAt.UnixNano()))
	}
	copy(buf[boltHeaderSize:], value)
	return buf
}

// decodeBolt splits a stored record. The payload aliases bbolt memory and
// is only valid inside the transaction.
func decodeBolt(raw []byte) ([]byte, time.Time, error) {
	if len(raw) < boltHeaderSize {
		return nil, time.Time{}, errors.New("cache: corrupt bolt record")
	}
	var expiresAt time.Time
	if nanos := binary.BigEndian.Uint64(raw[:boltHeaderSize]); nanos != 0 {
		expiresAt = time.Unix(0, int64(nanos))
	}
	return raw[boltHeaderSize:], expiresAt, nil
}

// read returns a copy of the live payload at key.
func (s *BoltStore) read(tx *bolt.Tx, key string, now time.Time) ([]byte, bool, error) {
	raw := tx.Bucket(s.bucket).Get([]byte(key))
	if raw == nil {
		return nil, false, nil
	}
	payload, expiresAt, err := decodeBolt(raw)
	if err != nil {
		return nil, false, err
	}
	if expiredAt(expiresAt, now) {
		return nil, false, nil
	}
	return append([]byte{}, payload...), true, nil
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var (
		out   []byte
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, found, err = s.read(tx, key, s.now())
		return err
	})
	return out, found, err
}

func (s *BoltStore) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	now := s.now()
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, key := range keys {
			value, ok, err := s.read(tx, key, now)
			if err != nil {
				return err
			}
			if ok {
				out[key] = value
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	record := encodeBolt(value, deadline(s.now(), ttl))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), record)
	})
}

func (s *BoltStore) Delete(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for _, key := range keys {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear drops and recreates the bucket.
func (s *BoltStore) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}

func (s *BoltStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *BoltStore) IncrementBy(_ context.Context, key string, delta int64) (int64, error) {
	var next int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		now := s.now()

		var (
			base      int64
			expiresAt time.Time
		)
		if raw := b.Get([]byte(key)); raw != nil {
			payload, at, err := decodeBolt(raw)
			if err != nil {
				return err
			}
			if !expiredAt(at, now) {
				n, ok := ParseInteger(payload)
				if !ok {
					return ErrNotInteger
				}
				base, expiresAt = n, at
			}
		}

		sum, overflow := addInt64(base, delta)
		if overflow {
			return ErrCounterOverflow
		}
		next = sum
		return b.Put([]byte(key), encodeBolt(FormatInteger(sum), expiresAt))
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Sweep deletes expired records. Keys are collected before deleting because
// bbolt cursors must not be mutated mid-iteration.
func (s *BoltStore) Sweep(ctx context.Context) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		now := s.now()

		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, at, err := decodeBolt(v)
			if err != nil || expiredAt(at, now) {
				stale = append(stale, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Ping verifies the bucket is readable.
func (s *BoltStore) Ping(_ context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return bolt.ErrBucketNotFound
		}
		return nil
	})
}
