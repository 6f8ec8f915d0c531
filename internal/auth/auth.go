// Package auth guards the API with a static bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ignite/ses-bulk-sender/internal/config"
	"github.com/ignite/ses-bulk-sender/internal/pkg/httputil"
	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
)

// TokenAuth checks the Authorization header against the configured token
type TokenAuth struct {
	token []byte
}

// NewTokenAuth creates a token checker from the auth config
func NewTokenAuth(cfg config.AuthConfig) *TokenAuth {
	return &TokenAuth{token: []byte(cfg.APIToken)}
}

// Configured reports whether a token is set
func (a *TokenAuth) Configured() bool {
	return len(a.token) > 0
}

// Valid reports whether the request carries the configured bearer token
func (a *TokenAuth) Valid(r *http.Request) bool {
	presented, ok := bearerToken(r)
	if !ok || !a.Configured() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), a.token) == 1
}

// RequireToken is middleware that rejects requests without the bearer
// token. A server with no token configured refuses every request.
func (a *TokenAuth) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Configured() {
			logger.Error("auth: API token is not configured", "path", r.URL.Path)
			httputil.ErrorWithDetails(w, http.StatusInternalServerError,
				"server API token is not configured", "auth_not_configured", nil)
			return
		}
		if !a.Valid(r) {
			httputil.Unauthorized(w, "invalid or missing API token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
