package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/simplecache/internal/auth"
	"github.com/charlesng35/simplecache/pkg/crypto"
)

func newAuthRouter(t *testing.T, hashes ...string) (*gin.Engine, *iauth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:   "secret",
		Issuer:   "test-suite",
		TokenTTL: time.Minute,
	})
	require.NoError(t, err)

	r := gin.New()
	secured := r.Group("/", Auth(jwtSvc, hashes))
	secured.GET("/secure", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"client_id": ClientID(c)})
	})
	secured.PUT("/secure", RequireScope(iauth.ScopeWrite), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, jwtSvc
}

func TestAuthMiddlewareJWT(t *testing.T) {
	r, jwtSvc := newAuthRouter(t)

	token, err := jwtSvc.IssueToken(iauth.TokenInput{ClientID: "client-123"})
	require.NoError(t, err)

	// Missing credentials -> 401
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/secure", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "client-123", payload["client_id"])

	// Query token is accepted for websocket upgrades.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/secure?token="+token, nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequireScope(t *testing.T) {
	r, jwtSvc := newAuthRouter(t)

	readOnly, err := jwtSvc.IssueToken(iauth.TokenInput{ClientID: "reader", Scopes: []string{iauth.ScopeRead}})
	require.NoError(t, err)
	writer, err := jwtSvc.IssueToken(iauth.TokenInput{ClientID: "writer"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+readOnly)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+writer)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequireScopeWithoutAuthIsNoop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.PUT("/open", RequireScope(iauth.ScopeWrite), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/open", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestAuthMiddlewareAPIKey(t *testing.T) {
	hash, err := crypto.HashSecret("s3cret-key")
	require.NoError(t, err)
	r, _ := newAuthRouter(t, "", hash)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/secure", nil)
	req.Header.Set(APIKeyHeader, "s3cret-key")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set(APIKeyHeader, "s3cret-key")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"client_id":"api-key-1"}`, w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
