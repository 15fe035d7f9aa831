package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const userContextKey contextKey = "authenticated-user"

// Middleware is the session gate for the HTTP API. Requests whose path is in
// the skip set pass through untouched; everything else needs a valid session
// cookie.
type Middleware struct {
	validator    SessionValidator
	logger       *zap.Logger
	skipExact    map[string]bool
	skipPrefixes []string
	enabled      bool
}

// NewMiddleware builds the session gate. skipPaths entries ending in "/" are
// treated as prefixes, everything else as exact matches.
func NewMiddleware(validator SessionValidator, logger *zap.Logger, enabled bool, skipPaths []string) *Middleware {
	m := &Middleware{
		validator: validator,
		logger:    logger.Named("auth"),
		skipExact: make(map[string]bool),
		enabled:   enabled,
	}
	for _, p := range skipPaths {
		if strings.HasSuffix(p, "/") {
			m.skipPrefixes = append(m.skipPrefixes, p)
		} else {
			m.skipExact[p] = true
		}
	}
	return m
}

// Wrap applies the gate to a handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled || m.shouldSkip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		user, ok := m.trySessionAuth(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"authentication required"}`))
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) shouldSkip(path string) bool {
	if m.skipExact[path] {
		return true
	}
	for _, prefix := range m.skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m *Middleware) trySessionAuth(r *http.Request) (*AuthenticatedUser, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}

	info, err := m.validator.ValidateSession(cookie.Value)
	if err != nil {
		m.logger.Debug("session validation failed", zap.Error(err))
		return nil, false
	}

	return &AuthenticatedUser{
		ID:            info.UserID,
		Name:          info.Name,
		Role:          info.Role,
		AadhaarNumber: info.AadhaarNumber,
		StationCode:   info.StationCode,
	}, true
}

// UserFromContext returns the authenticated user set by the middleware, or
// nil for unauthenticated (skipped) requests.
func UserFromContext(ctx context.Context) *AuthenticatedUser {
	user, _ := ctx.Value(userContextKey).(*AuthenticatedUser)
	return user
}

// IsAuthenticated reports whether the request carries an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return UserFromContext(ctx) != nil
}

// ContextWithUser attaches a user to a context. Used by tests and by the
// websocket upgrade path, which authenticates before hijacking.
func ContextWithUser(ctx context.Context, user *AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
