// Package middleware contains HTTP middleware for the quotagate service.
//
// Middleware functions follow the standard Go pattern of wrapping
// http.Handler and are composed with Stack.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const userIDContextKey contextKey = "user_id"

// GetUserID retrieves the authenticated user ID from the request
// context. Returns uuid.Nil when the request is unauthenticated.
func GetUserID(ctx context.Context) uuid.UUID {
	id, ok := ctx.Value(userIDContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func setUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDContextKey, id)
}

// TokenStore resolves an API token hash to a user ID.
type TokenStore interface {
	LookupUser(ctx context.Context, tokenHash string) (uuid.UUID, error)
}

// AuthMiddleware authenticates API requests via bearer tokens. Tokens
// are compared by SHA-256 hash; the raw token is never stored.
type AuthMiddleware struct {
	tokens TokenStore
	logger *slog.Logger
}

// NewAuthMiddleware creates an AuthMiddleware.
func NewAuthMiddleware(tokens TokenStore, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		logger: logger,
	}
}

// HashToken returns the hex-encoded SHA-256 hash of a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RequireUser rejects requests without a valid bearer token with a 401
// carrying an explicit sign-in signal, distinct from quota denials.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			unauthorized(w)
			return
		}

		userID, err := m.tokens.LookupUser(r.Context(), HashToken(token))
		if err != nil {
			m.logger.Debug("token rejected", "path", r.URL.Path, "error", err)
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(setUserID(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"Sign in required."}}`))
}

// Stack composes middlewares so the first argument is the outermost.
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
