package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"relay/internal/relaylog"
)

// Recovery returns a middleware that recovers a panic in any downstream
// handler, logs it with a stack trace, and returns a 500 Internal Server
// Error rather than letting the panic tear down the HTTP server.
func Recovery(log *relaylog.Logger) func(http.Handler) http.Handler {
	log = log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered in http handler", relaylog.String("path", r.URL.Path))
					log.Debug(string(debug.Stack()))
					http.Error(w, fmt.Sprintf("Internal Server Error: %v", rec), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
