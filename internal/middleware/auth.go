package middleware

import (
	"net/http"
	"strings"
)

// AuthCookie is the cookie set after a successful login.
const AuthCookie = "authenticated"

var publicPaths = map[string]bool{
	"/login":      true,
	"/auth/login": true,
	"/metrics":    true,
	"/api/frames": true, // camera uploads
}

var publicPrefixes = []string{"/static/css/", "/static/js/"}

// AuthMiddleware requires the auth cookie on every non-public path. When
// enabled is false all requests pass.
func AuthMiddleware(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(AuthCookie)
			if err != nil || cookie.Value != "true" {
				if isAPIRequest(r) {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isPublic(path string) bool {
	if publicPaths[path] {
		return true
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		r.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
		r.Header.Get("Content-Type") == "application/json"
}
