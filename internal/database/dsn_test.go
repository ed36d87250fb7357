package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "cache", Name: "cache"})
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=cache dbname=cache sslmode=disable", dsn)
}

func TestBuildPostgresDSNWithOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "user",
		Name:     "db",
		Host:     "db.example.com",
		Port:     6543,
		Password: "pass",
		Options: map[string]string{
			"sslmode":     "require",
			"search_path": "public",
		},
	})
	require.NoError(t, err)

	for _, part := range []string{
		"host=db.example.com",
		"port=6543",
		"user=user",
		"dbname=db",
		"password=pass",
		"sslmode=require",
		"search_path=public",
	} {
		require.Contains(t, dsn, part)
	}
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	_, err := buildPostgresDSN(Config{})
	require.Error(t, err)
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "cache", Name: "cache"})
	require.NoError(t, err)
	require.Equal(t, "cache@tcp(127.0.0.1:3306)/cache?charset=utf8mb4&loc=UTC&parseTime=True", dsn)
}

func TestBuildMySQLDSNWithOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "user",
		Password: "secret",
		Name:     "db",
		Host:     "db.example.com",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify"},
	})
	require.NoError(t, err)

	for _, part := range []string{
		"user:secret@tcp(db.example.com:3307)/db?",
		"charset=utf8mb4",
		"loc=UTC",
		"parseTime=True",
		"tls=skip-verify",
	} {
		require.Contains(t, dsn, part)
	}
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	_, err := buildMySQLDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestMergeOptionsOverridesDefaultsInKeyOrder(t *testing.T) {
	pairs := mergeOptions(
		map[string]string{"sslmode": "disable", "connect_timeout": "5"},
		map[string]string{"sslmode": "verify-full"},
	)
	require.Equal(t, []string{"connect_timeout=5", "sslmode=verify-full"}, pairs)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestMemoryDSN(t *testing.T) {
	require.Equal(t, "file::memory:?cache=shared&_foreign_keys=1", MemoryDSN(""))
	require.Equal(t, "file:cache_test?mode=memory&cache=shared&_foreign_keys=1", MemoryDSN("cache_test"))
}
