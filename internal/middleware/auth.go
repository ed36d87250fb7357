package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/simplecache/internal/auth"
	"github.com/charlesng35/simplecache/internal/monitoring"
	"github.com/charlesng35/simplecache/pkg/crypto"
	"github.com/charlesng35/simplecache/pkg/errors"
	"github.com/charlesng35/simplecache/pkg/response"
)

const (
	CtxClaimsKey   = "authClaims"
	CtxClientIDKey = "clientID"
)

// APIKeyHeader carries static client credentials.
const APIKeyHeader = "X-API-Key"

// Auth authenticates requests with a bearer token or an API key. Tokens may
// also arrive through the token query parameter so browsers can open the
// websocket stream. API keys are checked against bcrypt hashes and grant
// every scope.
func Auth(jwt *iauth.JWTService, apiKeyHashes []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := strings.TrimSpace(c.GetHeader(APIKeyHeader)); key != "" {
			index := matchAPIKey(apiKeyHashes, key)
			if index < 0 {
				monitoring.RecordAuthAttempt("api_key", "failure")
				unauthorized(c)
				return
			}
			monitoring.RecordAuthAttempt("api_key", "success")
			authorize(c, &iauth.Claims{
				ClientID: "api-key-" + strconv.Itoa(index),
				Scopes:   []string{iauth.ScopeRead, iauth.ScopeWrite},
			})
			return
		}

		token := bearerToken(c)
		if token == "" || jwt == nil {
			monitoring.RecordAuthAttempt("jwt", "missing")
			unauthorized(c)
			return
		}

		claims, err := jwt.ValidateToken(token)
		if err != nil {
			monitoring.RecordAuthAttempt("jwt", "failure")
			c.Header("WWW-Authenticate", "Bearer")
			unauthorized(c)
			return
		}

		monitoring.RecordAuthAttempt("jwt", "success")
		authorize(c, claims)
	}
}

// RequireScope rejects authenticated callers whose token lacks scope. It is a
// no-op when authentication is disabled.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok := c.Get(CtxClaimsKey)
		if !ok {
			c.Next()
			return
		}
		claims, _ := value.(*iauth.Claims)
		if !claims.Allows(scope) {
			response.Error(c, errors.ErrForbidden.WithMessage("Token lacks the "+scope+" scope"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClientID returns the authenticated client or an empty string.
func ClientID(c *gin.Context) string {
	return c.GetString(CtxClientIDKey)
}

func authorize(c *gin.Context, claims *iauth.Claims) {
	c.Set(CtxClaimsKey, claims)
	c.Set(CtxClientIDKey, claims.ClientID)
	c.Next()
}

func unauthorized(c *gin.Context) {
	response.Error(c, errors.ErrUnauthorized)
	c.Abort()
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}

func matchAPIKey(hashes []string, key string) int {
	for i, hash := range hashes {
		hash = strings.TrimSpace(hash)
		if hash != "" && crypto.VerifySecret(hash, key) {
			return i
		}
	}
	return -1
}
