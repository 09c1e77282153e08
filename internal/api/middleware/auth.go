package middleware

import (
	"net/http"

	"relay/pkg/cryptoutil"
)

// DebugAuth protects debug/pprof endpoints with HTTP Basic Auth, comparing
// against a bcrypt hash rather than a plaintext password so the configured
// secret is never held in comparable cleartext form.
//
// If no debug credentials are configured, debug endpoints are disabled
// entirely (403), never silently left open.
func DebugAuth(username, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if username == "" || passwordHash == "" {
				http.Error(w, "Debug endpoints disabled: no debug credentials configured", http.StatusForbidden)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if user != username || !cryptoutil.CheckPasswordMatch(pass, passwordHash) {
				w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
