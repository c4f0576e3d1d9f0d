package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/copilotmeter/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// Scopes granted to the configured API keys.
const (
	ScopeRead  = "read"
	ScopeAdmin = "admin"
)

type apiKey struct {
	hash   []byte
	scopes []string
}

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	keys []apiKey
}

// NewAuth creates a new Auth middleware from bcrypt hashes. The admin key may
// read and mutate; the read key, if set, may only read.
func NewAuth(adminHash, readHash string) *Auth {
	a := &Auth{}
	if adminHash != "" {
		a.keys = append(a.keys, apiKey{hash: []byte(adminHash), scopes: []string{ScopeRead, ScopeAdmin}})
	}
	if readHash != "" {
		a.keys = append(a.keys, apiKey{hash: []byte(readHash), scopes: []string{ScopeRead}})
	}
	return a
}

// Authenticate validates the Bearer token against the configured keys and
// sets key_prefix and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		for _, key := range a.keys {
			if bcrypt.CompareHashAndPassword(key.hash, []byte(rawKey)) == nil {
				ctx := setKeyPrefix(r.Context(), rawKey[:keyPrefixLen])
				ctx = setScopes(ctx, key.scopes)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key", nil)
	})
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if HasScope(r, scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
