package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/simplecache/internal/models"
	"github.com/charlesng35/simplecache/pkg/logger"
)

var errDatabaseNotInitialised = errors.New("cache: database store not initialised")

// DatabaseStore implements Store on top of the SQL database. Values must be
// JSON documents so counters and reads agree on the stored form.
type DatabaseStore struct {
	db   *gorm.DB
	opts storeOptions
}

var (
	_ Store       = (*DatabaseStore)(nil)
	_ MultiGetter = (*DatabaseStore)(nil)
	_ Sweeper     = (*DatabaseStore)(nil)
	_ Pinger      = (*DatabaseStore)(nil)
)

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts ...StoreOption) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, opts: applyStoreOptions(opts)}
}

func (s *DatabaseStore) now() time.Time {
	return s.opts.clock.Now().UTC()
}

func (s *DatabaseStore) session(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, errDatabaseNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.db.WithContext(ctx), nil
}

// Get retrieves a value by key, purging it when expired.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := s.session(ctx)
	if err != nil {
		return nil, false, err
	}

	var entry models.CacheEntry
	err = db.Take(&entry, keyEquals(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	if entry.ExpiredAt(now) {
		if err := purgeExpired(db, key, now); err != nil {
			logger.WithModule("cache").Warn("purge expired row failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// GetMany fetches live entries for keys in a single query.
func (s *DatabaseStore) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	db, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	var entries []models.CacheEntry
	if err := db.Where(keyIn(keys)).Find(&entries).Error; err != nil {
		return nil, err
	}

	now := s.now()
	for _, entry := range entries {
		if entry.ExpiredAt(now) {
			continue
		}
		out[entry.Key] = entry.Value
	}
	return out, nil
}

// Set upserts the value for a given key with expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	db, err := s.session(ctx)
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("cache: database store requires JSON values (key %q)", key)
	}

	entry := models.CacheEntry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		ExpiresAt: expiryPointer(s.now(), ttl),
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&entry).Error
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	db, err := s.session(ctx)
	if err != nil {
		return err
	}
	return db.Where(keyIn(keys)).Delete(&models.CacheEntry{}).Error
}

// Clear removes every cache row.
func (s *DatabaseStore) Clear(ctx context.Context) error {
	db, err := s.session(ctx)
	if err != nil {
		return err
	}
	return db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CacheEntry{}).Error
}

// Exists reports whether key holds a live row.
func (s *DatabaseStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// IncrementBy adds delta to the counter at key inside a row-locked
// transaction.
func (s *DatabaseStore) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	db, err := s.session(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var next int64
	err = db.Transaction(func(tx *gorm.DB) error {
		seed := models.CacheEntry{Key: key, Value: FormatInteger(0)}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		var entry models.CacheEntry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&entry, keyEquals(key)).Error; err != nil {
			return err
		}

		var base int64
		if entry.ExpiredAt(now) {
			entry.ExpiresAt = nil
		} else {
			n, ok := ParseInteger(entry.Value)
			if !ok {
				return ErrNotInteger
			}
			base = n
		}

		sum, overflow := addInt64(base, delta)
		if overflow {
			return ErrCounterOverflow
		}
		next = sum

		return tx.Model(&models.CacheEntry{}).
			Where(keyEquals(key)).
			Updates(map[string]interface{}{
				"value":      FormatInteger(sum),
				"expires_at": entry.ExpiresAt,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Sweep deletes every expired row.
func (s *DatabaseStore) Sweep(ctx context.Context) (int, error) {
	db, err := s.session(ctx)
	if err != nil {
		return 0, err
	}
	result := db.Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).Delete(&models.CacheEntry{})
	return int(result.RowsAffected), result.Error
}

// Ping checks the database connection.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errDatabaseNotInitialised
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// purgeExpired deletes key only while its row is still expired at now. A
// concurrent writer may have replaced it with a live one since it was read.
func purgeExpired(db *gorm.DB, key string, now time.Time) error {
	return db.Where(keyEquals(key)).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&models.CacheEntry{}).Error
}

func expiryPointer(now time.Time, ttl time.Duration) *time.Time {
	at := deadline(now, ttl)
	if at.IsZero() {
		return nil
	}
	return &at
}

// "key" is reserved in MySQL, so conditions go through clause builders that
// quote the column per dialect.
func keyEquals(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

func keyIn(keys []string) clause.IN {
	values := make([]interface{}, len(keys))
	for i, key := range keys {
		values[i] = key
	}
	return clause.IN{Column: clause.Column{Name: "key"}, Values: values}
}
