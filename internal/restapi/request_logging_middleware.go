package restapi

import (
	"log/slog"
	"net/http"
	"time"

	"trainwatch.transitboard.org/internal/logging"
)

// statusRecorder captures the status code and body size written by a
// handler. Shared by the logging and metrics middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// NewRequestLoggingMiddleware logs one line per request and seeds the
// request context with the logger so handlers can pick it up via
// logging.FromContext.
func NewRequestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r = r.WithContext(logging.WithLogger(r.Context(), logger))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			logging.LogHTTPRequest(logger,
				r.Method,
				r.URL.Path,
				rec.status,
				float64(elapsed.Nanoseconds())/1e6,
				slog.String("request_id", GetRequestID(r.Context())),
				slog.Int("bytes", rec.bytes),
				slog.String("user_agent", r.Header.Get("User-Agent")),
				slog.String("component", "http_server"))
		})
	}
}
