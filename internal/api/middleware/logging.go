package middleware

import (
	"net/http"
	"time"

	"relay/internal/relaylog"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logging returns a middleware that logs every request's method, path,
// status, latency, and response size through log.
func Logging(log *relaylog.Logger) func(http.Handler) http.Handler {
	log = log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("request",
				relaylog.String("method", r.Method),
				relaylog.String("path", r.URL.Path),
				relaylog.Int("status", wrapped.statusCode),
				relaylog.Latency(time.Since(start).Seconds()),
				relaylog.Int64("bytes", wrapped.written),
			)
		})
	}
}
