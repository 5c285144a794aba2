package restapi

import (
	"fmt"
	"net/http"
)

const uncacheable = "no-cache, no-store, must-revalidate"

// CacheControlMiddleware stamps responses with a caching tier. A zero
// duration marks the tier uncacheable. Error responses are never cacheable
// regardless of tier, so an intermediary cannot pin a failure.
func CacheControlMiddleware(durationSeconds int, next http.Handler) http.Handler {
	successValue := uncacheable
	if durationSeconds > 0 {
		successValue = fmt.Sprintf("public, max-age=%d", durationSeconds)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&cacheTierWriter{ResponseWriter: w, onSuccess: successValue}, r)
	})
}

// cacheTierWriter defers the Cache-Control decision until the status code
// is known.
type cacheTierWriter struct {
	http.ResponseWriter
	onSuccess string
	done      bool
}

func (w *cacheTierWriter) WriteHeader(code int) {
	if !w.done {
		w.done = true
		value := uncacheable
		if code >= 200 && code < 300 {
			value = w.onSuccess
		}
		w.ResponseWriter.Header().Set("Cache-Control", value)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheTierWriter) Write(b []byte) (int, error) {
	if !w.done {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
