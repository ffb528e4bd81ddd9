package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// tokenAuth guards the admin API with a single static bearer token.
// An empty token disables authentication entirely.
type tokenAuth struct {
	token string
}

func newTokenAuth(token string) *tokenAuth {
	return &tokenAuth{token: strings.TrimSpace(token)}
}

func (a *tokenAuth) Enabled() bool {
	return a != nil && a.token != ""
}

// Validate reports whether the request carries the configured token,
// either as "Authorization: Bearer <token>" or a "token" query parameter.
func (a *tokenAuth) Validate(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}

	presented := extractToken(r)
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) == 1
}

// Middleware rejects unauthenticated requests with 401.
func (a *tokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Validate(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return r.URL.Query().Get("token")
}
