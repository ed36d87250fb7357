package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the simplecache service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	Backend      string           `mapstructure:"backend"`
	DefaultTTL   time.Duration    `mapstructure:"default_ttl"`
	MaxKeyLength int              `mapstructure:"max_key_length"`
	Memory       MemoryConfig     `mapstructure:"memory"`
	Bolt         BoltConfig       `mapstructure:"bolt"`
	Redis        RedisCacheConfig `mapstructure:"redis"`
	Sweep        SweepConfig      `mapstructure:"sweep"`
	Encryption   EncryptionConfig `mapstructure:"encryption"`
}

// MemoryConfig tunes the in-process backend.
type MemoryConfig struct {
	Shards       int `mapstructure:"shards"`
	MaxEntries   int `mapstructure:"max_entries"`
	MaxValueSize int `mapstructure:"max_value_size"`
}

// BoltConfig locates the embedded bbolt file.
type BoltConfig struct {
	Path        string        `mapstructure:"path"`
	Bucket      string        `mapstructure:"bucket"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Address   string        `mapstructure:"address"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TLS       bool          `mapstructure:"tls"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// SweepConfig schedules purging of expired entries.
type SweepConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// EncryptionConfig enables sealing of stored values for the persistent backends.
type EncryptionConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig controls access to the cache API.
type AuthConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	JWT     JWTSettings `mapstructure:"jwt"`
	// APIKeys holds bcrypt hashes accepted through the X-API-Key header.
	APIKeys []string `mapstructure:"api_keys"`
}

// JWTSettings configures client tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"token_ttl"`
}

// RateLimitConfig throttles requests per client.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// RealtimeConfig toggles the websocket key-event stream.
type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// Entries in paths may be directories to search or a path to a config file.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			v.SetConfigFile(path)
			continue
		}
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SIMPLECACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings that cannot be served.
func (c *Config) Validate() error {
	switch c.Cache.BackendName() {
	case BackendMemory, BackendDatabase, BackendBolt, BackendRedis:
	default:
		return fmt.Errorf("config: unsupported cache backend %q", c.Cache.Backend)
	}
	if c.Cache.DefaultTTL < 0 {
		return errors.New("config: cache.default_ttl must not be negative")
	}
	if c.Cache.MaxKeyLength < 0 {
		return errors.New("config: cache.max_key_length must not be negative")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("config: rate_limit requires positive requests and window")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.default_ttl", "0s")
	v.SetDefault("cache.max_key_length", 250)
	v.SetDefault("cache.memory.shards", 32)
	v.SetDefault("cache.memory.max_entries", 0)
	v.SetDefault("cache.memory.max_value_size", 0)
	v.SetDefault("cache.bolt.path", "./data/simplecache.bolt")
	v.SetDefault("cache.bolt.bucket", "cache")
	v.SetDefault("cache.bolt.open_timeout", "1s")
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.redis.key_prefix", "simplecache:")
	v.SetDefault("cache.sweep.enabled", true)
	v.SetDefault("cache.sweep.schedule", "@every 1m")
	v.SetDefault("cache.encryption.enabled", false)
	v.SetDefault("cache.encryption.key", "")
	v.SetDefault("cache.encryption.passphrase", "")
	v.SetDefault("cache.encryption.salt", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/simplecache.sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "simplecache")
	v.SetDefault("auth.jwt.token_ttl", "24h")
	v.SetDefault("auth.api_keys", []string{})

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 600)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("realtime.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
