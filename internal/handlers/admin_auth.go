package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/maplewick/api/internal/platform/httpx"
)

// AdminTokenMiddleware guards the admin group with a static bearer token.
// An empty configured token disables the group entirely rather than leaving
// it open.
func AdminTokenMiddleware(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("admin_disabled", "admin endpoints are not configured", http.StatusForbidden))
				return
			}
			presented := bearerToken(r)
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthorized", "invalid or missing admin token", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Admin-Token"))
}
