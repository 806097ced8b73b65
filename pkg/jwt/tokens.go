package jwt

import (
	"errors"
	"slices"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const issuer = "airlock"

// Scopes understood by the API.
const (
	ScopeRead   = "deployments:read"
	ScopeWrite  = "deployments:write"
	ScopeDeploy = "deployments:deploy"
)

// ErrMissingScope is returned by Require when a token lacks a scope.
var ErrMissingScope = errors.New("jwt: missing scope")

// Claims defines JWT payload.
type Claims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwtlib.RegisteredClaims
}

// Has reports whether the claims grant scope.
func (c *Claims) Has(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

// Require returns ErrMissingScope unless scope is granted.
func (c *Claims) Require(scope string) error {
	if !c.Has(scope) {
		return ErrMissingScope
	}
	return nil
}

// GenerateToken issues a signed JWT for subject with the provided scopes.
func GenerateToken(subject string, scopes []string, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
