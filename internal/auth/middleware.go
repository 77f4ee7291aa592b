package auth

import (
	"net/http"
	"strings"
)

// Middleware is a chi-compatible HTTP middleware that enforces authentication.
//
// /healthz bypasses auth. Every other request without a valid Bearer token
// receives a 401 JSON response. When no token hash is configured the
// middleware lets everything through.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() || isPublicPath(r.URL.Path) || m.isAuthenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	})
}

func (m *Manager) isAuthenticated(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	return m.ValidateToken(strings.TrimPrefix(auth, "Bearer "))
}

func isPublicPath(path string) bool {
	return path == "/healthz"
}
