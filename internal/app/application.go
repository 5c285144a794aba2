package app

import (
	"log/slog"

	"trainwatch.transitboard.org/internal/appconf"
	"trainwatch.transitboard.org/internal/arrivals"
	"trainwatch.transitboard.org/internal/cache"
	"trainwatch.transitboard.org/internal/clock"
	"trainwatch.transitboard.org/internal/metrics"
	"trainwatch.transitboard.org/internal/stations"
)

// Application holds the dependencies for our HTTP handlers, helpers,
// and middleware. Everything is constructed once at startup and injected;
// no package-level state.
type Application struct {
	Config   appconf.Config
	Logger   *slog.Logger
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Arrivals *arrivals.Service
	Stations *stations.Directory
	Cache    *cache.MemoryStore
}
