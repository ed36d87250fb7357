package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/simplecache/internal/cache"
	"github.com/charlesng35/simplecache/internal/database"
	"github.com/charlesng35/simplecache/pkg/crypto"
	"github.com/charlesng35/simplecache/pkg/logger"
)

// Supported values of cache.backend.
const (
	BackendMemory   = "memory"
	BackendDatabase = "database"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
)

// BackendName normalises the configured backend, defaulting to memory.
func (c CacheConfig) BackendName() string {
	name := strings.ToLower(strings.TrimSpace(c.Backend))
	if name == "" {
		return BackendMemory
	}
	return name
}

// NeedsDatabase reports whether a SQL connection is required, either as the
// backend itself or to persist the encryption salt.
func (c CacheConfig) NeedsDatabase() bool {
	if c.BackendName() == BackendDatabase {
		return true
	}
	enc := c.Encryption
	return enc.Enabled && c.BackendName() != BackendMemory &&
		strings.TrimSpace(enc.Key) == "" && strings.TrimSpace(enc.Salt) == ""
}

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:   strings.TrimSpace(c.Redis.Address),
		Username:  strings.TrimSpace(c.Redis.Username),
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		TLS:       c.Redis.TLS,
		Timeout:   c.Redis.Timeout,
		KeyPrefix: c.Redis.KeyPrefix,
	}
}

// MemoryOptions converts the memory section into cache options.
func (c CacheConfig) MemoryOptions() []cache.Option {
	opts := []cache.Option{cache.WithShards(c.Memory.Shards)}
	if c.Memory.MaxEntries > 0 {
		opts = append(opts, cache.WithMaxEntries(c.Memory.MaxEntries))
	}
	if c.Memory.MaxValueSize > 0 {
		opts = append(opts, cache.WithMaxValueSize(c.Memory.MaxValueSize, nil))
	}
	return opts
}

// DatabaseConnectionConfig converts DatabaseConfig into the database package representation.
func (c DatabaseConfig) DatabaseConnectionConfig() database.Config {
	cfg := database.Config{
		Driver: c.Driver,
		Path:   c.Path,
		DSN:    c.DSN,
	}

	var host DBAuthConfig
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql", "mariadb":
		host = c.MySQL
	}
	cfg.Host = host.Host
	cfg.Port = host.Port
	cfg.Name = host.Database
	cfg.User = host.Username
	cfg.Password = host.Password
	return cfg
}

// CacheBackend is the service-facing cache built from configuration.
type CacheBackend struct {
	Name  string
	Cache cache.CountingCache[json.RawMessage]
	// Fallback is set when the configured backend could not be reached and
	// the in-process cache took over.
	Fallback bool
}

// Sweep purges expired entries when the backend supports it.
func (b *CacheBackend) Sweep(ctx context.Context) (int, error) {
	if sweeper, ok := b.Cache.(cache.Sweeper); ok {
		return sweeper.Sweep(ctx)
	}
	return 0, nil
}

// Ping checks backend connectivity when the backend supports it.
func (b *CacheBackend) Ping(ctx context.Context) error {
	if pinger, ok := b.Cache.(cache.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// Close releases backend resources.
func (b *CacheBackend) Close() error {
	if closer, ok := b.Cache.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// BackendDeps carries collaborators for BuildCacheBackend.
type BackendDeps struct {
	DB      *gorm.DB
	OnError cache.ErrorHandler
	Memory  []cache.Option
}

// BuildCacheBackend constructs the configured backend. A Redis backend that
// cannot be reached falls back to the in-process cache.
func BuildCacheBackend(ctx context.Context, cfg CacheConfig, deps BackendDeps) (*CacheBackend, error) {
	log := logger.WithModule("cache")
	name := cfg.BackendName()

	newMemory := func() *CacheBackend {
		opts := append(cfg.MemoryOptions(), deps.Memory...)
		return &CacheBackend{Name: BackendMemory, Cache: cache.NewMemory[json.RawMessage](opts...)}
	}

	var store cache.Store
	switch name {
	case BackendMemory:
		return newMemory(), nil
	case BackendDatabase:
		if deps.DB == nil {
			return nil, errors.New("cache: database backend requires a database connection")
		}
		store = cache.NewDatabaseStore(deps.DB)
	case BackendBolt:
		path := strings.TrimSpace(cfg.Bolt.Path)
		if path == "" {
			return nil, errors.New("cache: bolt backend requires cache.bolt.path")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("cache: create bolt directory: %w", err)
		}
		bolt, err := cache.OpenBolt(path, cache.BoltOptions{Bucket: cfg.Bolt.Bucket, OpenTimeout: cfg.Bolt.OpenTimeout})
		if err != nil {
			return nil, err
		}
		store = bolt
	case BackendRedis:
		redis, err := cache.NewRedisStore(ctx, cfg.RedisClientConfig())
		if err != nil {
			log.Warn("redis unavailable, falling back to in-memory cache",
				zap.String("address", cfg.Redis.Address),
				zap.Error(err),
			)
			fallback := newMemory()
			fallback.Fallback = true
			return fallback, nil
		}
		store = redis
	default:
		return nil, fmt.Errorf("cache: unsupported backend %q", cfg.Backend)
	}

	codec, err := valueCodec(ctx, cfg.Encryption, deps.DB)
	if err != nil {
		if closer, ok := store.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return nil, err
	}

	return &CacheBackend{
		Name:  name,
		Cache: cache.NewTyped[json.RawMessage](store, codec, deps.OnError),
	}, nil
}

func valueCodec(ctx context.Context, cfg EncryptionConfig, db *gorm.DB) (cache.Codec[json.RawMessage], error) {
	if !cfg.Enabled {
		return cache.JSONCodec[json.RawMessage]{}, nil
	}
	key, err := encryptionKey(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	sealed, err := cache.NewSealedCodec[json.RawMessage](nil, key)
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// encryptionKey prefers an explicit key and otherwise derives one from the
// passphrase. The salt comes from configuration or is persisted in the
// system settings table on first use.
func encryptionKey(ctx context.Context, cfg EncryptionConfig, db *gorm.DB) ([]byte, error) {
	if strings.TrimSpace(cfg.Key) != "" {
		key, err := DecodeKey(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("cache: decode encryption key: %w", err)
		}
		if len(key) != crypto.KeyLength {
			return nil, fmt.Errorf("cache: encryption key must be %d bytes, got %d", crypto.KeyLength, len(key))
		}
		return key, nil
	}

	if strings.TrimSpace(cfg.Passphrase) == "" {
		return nil, errors.New("cache: encryption requires cache.encryption.key or cache.encryption.passphrase")
	}

	salt := strings.TrimSpace(cfg.Salt)
	if salt == "" {
		if db == nil {
			return nil, errors.New("cache: encryption passphrase requires cache.encryption.salt without a database")
		}
		stored, err := database.EnsureSystemSetting(ctx, db, database.EncryptionSaltSetting, func() (string, error) {
			return generateHexKey(saltBytes)
		})
		if err != nil {
			return nil, err
		}
		salt = stored
	}

	rawSalt, err := DecodeKey(salt)
	if err != nil {
		return nil, fmt.Errorf("cache: decode encryption salt: %w", err)
	}
	return crypto.DeriveKey([]byte(cfg.Passphrase), rawSalt)
}
