package app

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/simplecache/internal/cache"
	"github.com/charlesng35/simplecache/internal/database"
	"github.com/charlesng35/simplecache/internal/database/testutil"
)

func TestBuildCacheBackendMemory(t *testing.T) {
	ctx := context.Background()
	backend, err := BuildCacheBackend(ctx, CacheConfig{Memory: MemoryConfig{MaxEntries: 1}}, BackendDeps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	require.Equal(t, BackendMemory, backend.Name)
	require.False(t, backend.Fallback)
	require.IsType(t, &cache.Memory[json.RawMessage]{}, backend.Cache)

	require.True(t, backend.Cache.Set(ctx, "a", json.RawMessage(`1`), cache.NoExpiration))
	require.False(t, backend.Cache.Set(ctx, "b", json.RawMessage(`2`), cache.NoExpiration), "max entries applies")
	require.NoError(t, backend.Ping(ctx))
}

func TestBuildCacheBackendBolt(t *testing.T) {
	ctx := context.Background()
	cfg := CacheConfig{
		Backend: BackendBolt,
		Bolt:    BoltConfig{Path: filepath.Join(t.TempDir(), "nested", "cache.bolt")},
	}
	backend, err := BuildCacheBackend(ctx, cfg, BackendDeps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	require.Equal(t, BackendBolt, backend.Name)
	require.True(t, backend.Cache.Set(ctx, "k", json.RawMessage(`{"a":1}`), time.Millisecond))
	require.NoError(t, backend.Ping(ctx))

	time.Sleep(5 * time.Millisecond)
	removed, err := backend.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

func TestBuildCacheBackendDatabase(t *testing.T) {
	ctx := context.Background()

	_, err := BuildCacheBackend(ctx, CacheConfig{Backend: BackendDatabase}, BackendDeps{})
	require.Error(t, err)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	backend, err := BuildCacheBackend(ctx, CacheConfig{Backend: BackendDatabase}, BackendDeps{DB: db})
	require.NoError(t, err)

	n, err := backend.Cache.Increment(ctx, "hits", cache.DefaultStep)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	value, ok := backend.Cache.Get(ctx, "hits")
	require.True(t, ok)
	require.JSONEq(t, `1`, string(value))
}

func TestBuildCacheBackendRedisFallsBackToMemory(t *testing.T) {
	cfg := CacheConfig{
		Backend: BackendRedis,
		Redis:   RedisCacheConfig{Address: "127.0.0.1:1", Timeout: 200 * time.Millisecond},
	}
	backend, err := BuildCacheBackend(context.Background(), cfg, BackendDeps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	require.True(t, backend.Fallback)
	require.Equal(t, BackendMemory, backend.Name)
}

func TestBuildCacheBackendEncryptsWithExplicitKey(t *testing.T) {
	ctx := context.Background()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	cfg := CacheConfig{
		Backend: BackendDatabase,
		Encryption: EncryptionConfig{
			Enabled: true,
			Key:     hex.EncodeToString([]byte(strings.Repeat("k", 32))),
		},
	}

	backend, err := BuildCacheBackend(ctx, cfg, BackendDeps{DB: db})
	require.NoError(t, err)
	require.True(t, backend.Cache.Set(ctx, "secret", json.RawMessage(`{"card":"4111"}`), cache.NoExpiration))

	raw, ok, err := cache.NewDatabaseStore(db).Get(ctx, "secret")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, string(raw), "4111")

	value, ok := backend.Cache.Get(ctx, "secret")
	require.True(t, ok)
	require.JSONEq(t, `{"card":"4111"}`, string(value))
}

func TestBuildCacheBackendRejectsShortEncryptionKey(t *testing.T) {
	cfg := CacheConfig{
		Backend:    BackendBolt,
		Bolt:       BoltConfig{Path: filepath.Join(t.TempDir(), "cache.bolt")},
		Encryption: EncryptionConfig{Enabled: true, Key: "short"},
	}
	_, err := BuildCacheBackend(context.Background(), cfg, BackendDeps{})
	require.ErrorContains(t, err, "encryption key must be 32 bytes")
}

func TestEncryptionKeyPersistsSalt(t *testing.T) {
	ctx := context.Background()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	cfg := EncryptionConfig{Enabled: true, Passphrase: "correct horse"}

	first, err := encryptionKey(ctx, cfg, db)
	require.NoError(t, err)
	require.Len(t, first, 32)

	salt, err := database.GetSystemSetting(ctx, db, database.EncryptionSaltSetting)
	require.NoError(t, err)
	require.Len(t, salt, 2*saltBytes)

	second, err := encryptionKey(ctx, cfg, db)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = encryptionKey(ctx, cfg, nil)
	require.Error(t, err)

	cfg.Salt = salt
	third, err := encryptionKey(ctx, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, first, third)
}
