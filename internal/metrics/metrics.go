// Package metrics provides Prometheus metrics for the trainwatch application.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Arrival cache metrics
	CacheResultsTotal      *prometheus.CounterVec
	BackgroundRefreshTotal *prometheus.CounterVec
	UpstreamFetchesTotal   *prometheus.CounterVec
	UpstreamFetchDuration  prometheus.Histogram

	// Station database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge

	// logger for error reporting
	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	// cancel stops the DB stats collector goroutine
	cancel context.CancelFunc

	// wg tracks the DB stats collector goroutine for graceful shutdown
	wg sync.WaitGroup
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trainwatch_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	cacheResultsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainwatch_cache_results_total",
			Help: "Arrival cache lookups by result (fresh, stale, miss, expired, bypass)",
		},
		[]string{"result"},
	)

	backgroundRefreshTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainwatch_background_refresh_total",
			Help: "Background cache refreshes by outcome",
		},
		[]string{"outcome"},
	)

	upstreamFetchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainwatch_upstream_fetches_total",
			Help: "Upstream prediction fetches by outcome",
		},
		[]string{"outcome"},
	)

	upstreamFetchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trainwatch_upstream_fetch_duration_seconds",
		Help:    "Upstream fetch latency including retries",
		Buckets: prometheus.DefBuckets,
	})

	dbConnectionsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trainwatch_db_connections_open",
		Help: "Number of open station database connections",
	})

	dbConnectionsInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trainwatch_db_connections_in_use",
		Help: "Number of station database connections currently in use",
	})

	dbConnectionsIdle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trainwatch_db_connections_idle",
		Help: "Number of idle station database connections",
	})

	// Register all metrics with the custom registry
	registry.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		cacheResultsTotal,
		backgroundRefreshTotal,
		upstreamFetchesTotal,
		upstreamFetchDuration,
		dbConnectionsOpen,
		dbConnectionsInUse,
		dbConnectionsIdle,
	)

	return &Metrics{
		Registry:               registry,
		HTTPRequestsTotal:      httpRequestsTotal,
		HTTPRequestDuration:    httpRequestDuration,
		CacheResultsTotal:      cacheResultsTotal,
		BackgroundRefreshTotal: backgroundRefreshTotal,
		UpstreamFetchesTotal:   upstreamFetchesTotal,
		UpstreamFetchDuration:  upstreamFetchDuration,
		DBConnectionsOpen:      dbConnectionsOpen,
		DBConnectionsInUse:     dbConnectionsInUse,
		DBConnectionsIdle:      dbConnectionsIdle,
		logger:                 logger,
	}
}

// ObserveCacheResult records one cache lookup outcome. Nil-safe so the
// arrivals service can run without metrics in tests.
func (m *Metrics) ObserveCacheResult(result string) {
	if m == nil {
		return
	}
	m.CacheResultsTotal.WithLabelValues(result).Inc()
}

// ObserveBackgroundRefresh records a background refresh outcome.
func (m *Metrics) ObserveBackgroundRefresh(outcome string) {
	if m == nil {
		return
	}
	m.BackgroundRefreshTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpstreamFetch records one logical upstream fetch and its duration.
func (m *Metrics) ObserveUpstreamFetch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamFetchesTotal.WithLabelValues(outcome).Inc()
	m.UpstreamFetchDuration.Observe(duration.Seconds())
}

// StartDBStatsCollector starts a goroutine that periodically collects station
// database connection pool statistics and updates the corresponding metrics.
// The interval specifies how often to collect stats.
// This method is idempotent - calling it multiple times has no effect after the first call.
// Call Shutdown() to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	// Prevent spawning multiple collectors
	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// This method is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
