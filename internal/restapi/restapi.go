// Package restapi exposes the arrival board over HTTP. The two arrival
// endpoints are thin adapters over the shared arrivals service; everything
// else is middleware, search, and operational surface.
package restapi

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trainwatch.transitboard.org/internal/app"
)

// RestAPI carries handler dependencies and the stateful middleware.
type RestAPI struct {
	Application *app.Application
	rateLimiter *RateLimitMiddleware
}

// NewRestAPI creates the API surface for an application.
func NewRestAPI(application *app.Application) *RestAPI {
	return &RestAPI{
		Application: application,
		rateLimiter: NewRateLimitMiddleware(
			application.Config.RateLimit,
			application.Config.ApiKeys,
			application.Clock,
		),
	}
}

// Shutdown stops the middleware's background goroutines.
func (api *RestAPI) Shutdown() {
	if api.rateLimiter != nil {
		api.rateLimiter.Stop()
	}
}

// SetRoutes registers all handlers on mux. Arrival and search responses are
// gzip-compressed; Cache-Control tiers distinguish real-time data (never
// cached by intermediaries, the server owns freshness) from the slowly
// changing station directory.
func (api *RestAPI) SetRoutes(mux *http.ServeMux) {
	limit := api.rateLimiter.Handler()

	realtime := func(h http.HandlerFunc) http.Handler {
		return limit(CacheControlMiddleware(0, gzhttp.GzipHandler(h)))
	}

	mux.Handle("GET /arrivals/station", realtime(api.stationArrivalsHandler))
	mux.Handle("GET /arrivals/stop", realtime(api.stopArrivalsHandler))

	mux.Handle("GET /stations/search",
		limit(CacheControlMiddleware(300, gzhttp.GzipHandler(http.HandlerFunc(api.searchStationsHandler)))))

	mux.HandleFunc("GET /healthcheck", api.healthHandler)

	if api.Application.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			api.Application.Metrics.Registry,
			promhttp.HandlerOpts{},
		))
	}
}
