package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/splax/airlock/pkg/jwt"
)

type authContextKey string

const contextKeyClaims authContextKey = "airlock-claims"

type contextSetter interface {
	SetContext(context.Context)
}

// requireScope validates the bearer token and its scope before invoking the
// handler. Authentication is disabled when no secret is configured.
func (r *Router) requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.jwtSecret == "" {
			next(w, req)
			return
		}
		token, err := bearerToken(req)
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := jwt.Parse(token, r.jwtSecret)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		if err := claims.Require(scope); err != nil {
			writeError(w, http.StatusForbidden, "token lacks scope "+scope)
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyClaims, claims)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// claimsFromContext extracts verified claims from ctx.
func claimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(contextKeyClaims).(*jwt.Claims)
	return claims, ok
}

// bearerToken reads the token from the Authorization header, falling back to
// the access_token query parameter used by browser websockets.
func bearerToken(req *http.Request) (string, error) {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if header == "" {
		if token := strings.TrimSpace(req.URL.Query().Get("access_token")); token != "" {
			return token, nil
		}
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
