package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/simplecache/internal/app"
	iauth "github.com/charlesng35/simplecache/internal/auth"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	_, err = app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	return cfg
}

func serve(t *testing.T, stack *runtimeStack, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, req)
	return rec
}

func TestBootstrapRuntimeMemoryBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Enabled = true

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.Nil(t, stack.DB, "the memory backend needs no database")
	require.Equal(t, app.BackendMemory, stack.Backend.Name)
	require.NotNil(t, stack.Hub)
	require.ElementsMatch(t, []string{"cache_sweep", "ratelimit_sweep"}, stack.Cleaner.Jobs())

	rec := serve(t, stack, http.MethodPut, "/api/cache/greeting", `{"value":"hello","ttl":60}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, stack, http.MethodGet, "/api/cache/greeting", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hello")

	rec = serve(t, stack, http.MethodPost, "/api/counters/hits/increment", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, stack, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NoError(t, stack.Cleaner.RunOnce(context.Background()))
}

func TestBootstrapRuntimeDatabaseBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = app.BackendDatabase
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "cache.sqlite")
	cfg.Realtime.Enabled = false

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.DB)
	require.Nil(t, stack.Hub)
	require.Equal(t, app.BackendDatabase, stack.Backend.Name)

	rec := serve(t, stack, http.MethodPut, "/api/cache/persisted", `{"value":{"n":1}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, stack, http.MethodGet, "/api/cache/persisted/exists", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, stack, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusNotFound, rec.Code, "realtime is disabled")
}

func TestBootstrapRuntimeRejectsUnreachableBolt(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = app.BackendBolt
	cfg.Cache.Bolt.Path = ""

	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestRunIssueToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auth:
  enabled: true
  jwt:
    secret: bootstrap-test-secret
    issuer: simplecache-test
`), 0o600))

	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", path, "-issue-token", "reporting", "-scopes", "cache:read"}, &out)
	require.NoError(t, err)

	svc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "bootstrap-test-secret", Issuer: "simplecache-test"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "reporting", claims.ClientID)
	require.True(t, claims.Allows(iauth.ScopeRead))
	require.False(t, claims.Allows(iauth.ScopeWrite))
}

func TestRunIssueTokenRequiresSecret(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", t.TempDir(), "-issue-token", "cli"}, &out)
	require.ErrorContains(t, err, "auth.jwt.secret")
	require.Empty(t, out.String())
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.ErrorContains(t, err, "does not exist")
}

func TestSplitScopes(t *testing.T) {
	require.Nil(t, splitScopes(""))
	require.Equal(t, []string{"cache:read", "cache:write"}, splitScopes(" cache:read, ,cache:write "))
}
