// Package middleware carries the HTTP middleware for the provisioner's API
// surface. Authentication is API-key based: the caller presents the
// plaintext key, only its SHA-256 is stored, and the catalog lookup binds a
// user to the request context.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/NadimPy/virtualization-implementation/store"
	"github.com/NadimPy/virtualization-implementation/types"

	log "github.com/activeshadow/libminimega/minilog"
	"github.com/gorilla/mux"
)

type contextKey string

const userKey contextKey = "user"

// HashAPIKey is the canonical API key digest: SHA-256 hex of the plaintext.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Auth validates the X-API-Key header against the catalog and stores the
// matched user on the request context. Signup, login, and health stay open.
// WebSocket upgrades may pass the key as a query parameter instead, since
// browsers cannot set headers on WebSocket connections.
func Auth(s store.Store) mux.MiddlewareFunc {
	open := func(path string) bool {
		return strings.HasSuffix(path, "/signup") ||
			strings.HasSuffix(path, "/login") ||
			strings.HasSuffix(path, "/health")
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open(r.URL.Path) {
				h.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}

			if key == "" {
				http.Error(w, "missing API key", http.StatusUnauthorized)
				return
			}

			user, err := s.FindUserByAPIKeyHash(HashAPIKey(key))
			if err != nil {
				log.Debug("rejecting request for %s: %v", r.URL.Path, err)
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the authenticated user bound by Auth, or nil.
func UserFromContext(ctx context.Context) *types.User {
	user, _ := ctx.Value(userKey).(*types.User)
	return user
}
