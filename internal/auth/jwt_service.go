package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL defines the fallback validity period for client tokens.
const DefaultTokenTTL = 24 * time.Hour

// Scopes granted to cache clients.
const (
	ScopeRead  = "cache:read"
	ScopeWrite = "cache:write"
)

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
	Clock    func() time.Time
}

// Claims represents the custom claims embedded in issued JWTs.
type Claims struct {
	ClientID string   `json:"cid"`
	Scopes   []string `json:"scp,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the token carries scope.
func (c *Claims) Allows(scope string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.Scopes, scope)
}

// TokenInput holds the parameters used when issuing a client token.
type TokenInput struct {
	ClientID string
	Scopes   []string
	TTL      time.Duration
}

// JWTService issues and validates client tokens for the cache API.
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// IssueToken signs a token for a client. Without explicit scopes the client
// may read and write.
func (s *JWTService) IssueToken(input TokenInput) (string, error) {
	clientID := strings.TrimSpace(input.ClientID)
	if clientID == "" {
		return "", errors.New("jwt: client id is required")
	}

	scopes := input.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeRead, ScopeWrite}
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	claims := &Claims{
		ClientID: clientID,
		Scopes:   slices.Clone(scopes),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a signed JWT, returning the client claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("jwt: invalid issuer")
	}
	if claims.ClientID == "" {
		return nil, errors.New("jwt: missing client id claim")
	}

	return &claims, nil
}
