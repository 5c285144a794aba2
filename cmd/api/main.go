package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trainwatch.transitboard.org/internal/app"
	"trainwatch.transitboard.org/internal/appconf"
	"trainwatch.transitboard.org/internal/arrivals"
	"trainwatch.transitboard.org/internal/cache"
	"trainwatch.transitboard.org/internal/clock"
	"trainwatch.transitboard.org/internal/logging"
	"trainwatch.transitboard.org/internal/metrics"
	"trainwatch.transitboard.org/internal/restapi"
	"trainwatch.transitboard.org/internal/stations"
	"trainwatch.transitboard.org/internal/upstream"
	"trainwatch.transitboard.org/internal/webui"
)

// Options aggregates the domain settings BuildApplication needs on top of
// the server-level appconf.Config.
type Options struct {
	Upstream            upstream.Config
	FreshTTL            time.Duration
	StaleTTL            time.Duration
	StationsDBPath      string
	StationsGtfsURL     string
	ServeExpiredOnError bool
}

func main() {
	var (
		port                = flag.Int("port", 4000, "API server port")
		envFlag             = flag.String("env", "development", "Environment (development|test|production)")
		apiKeysFlag         = flag.String("api-keys", "", "Comma-separated list of valid API keys")
		verbose             = flag.Bool("verbose", false, "Enable verbose logging")
		rateLimit           = flag.Int("rate-limit", 100, "Requests per second per API key")
		configPath          = flag.String("config", "", "Path to JSON config file (file values override flags)")
		upstreamURL         = flag.String("upstream-url", "", "Arrivals feed base URL")
		upstreamKey         = flag.String("upstream-key", "", "Arrivals feed API key")
		freshTTL            = flag.Duration("fresh-ttl", 20*time.Second, "Cache fresh window")
		staleTTL            = flag.Duration("stale-ttl", 30*time.Second, "Cache stale-but-usable window")
		stationsGtfsURL     = flag.String("stations-gtfs-url", "", "Static GTFS feed URL or local zip for the station directory")
		stationsDBPath      = flag.String("stations-db-path", "", "SQLite path for the station directory (empty disables)")
		serveExpiredOnError = flag.Bool("serve-expired-on-error", false, "Serve an expired cache entry when the synchronous upstream fetch fails")
	)
	flag.Parse()

	cfg := appconf.Config{
		Port:      *port,
		Env:       appconf.EnvFlagToEnvironment(*envFlag),
		ApiKeys:   ParseAPIKeys(*apiKeysFlag),
		Verbose:   *verbose,
		RateLimit: *rateLimit,
	}

	opts := Options{
		Upstream: upstream.Config{
			BaseURL:    *upstreamURL,
			APIKey:     *upstreamKey,
			Timeout:    upstream.DefaultTimeout,
			MaxRetries: upstream.DefaultMaxRetries,
		},
		FreshTTL:            *freshTTL,
		StaleTTL:            *staleTTL,
		StationsDBPath:      *stationsDBPath,
		StationsGtfsURL:     *stationsGtfsURL,
		ServeExpiredOnError: *serveExpiredOnError,
	}

	if *configPath != "" {
		fileCfg, err := appconf.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading config file: %v\n", err)
			os.Exit(1)
		}
		applyFileConfig(fileCfg, &cfg, &opts)
	}

	coreApp, err := BuildApplication(cfg, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building application: %v\n", err)
		os.Exit(1)
	}

	if err := Run(coreApp, cfg, opts); err != nil {
		logging.LogError(coreApp.Logger, "server exited with error", err)
		os.Exit(1)
	}
}

// ParseAPIKeys splits a comma-separated key list, trimming whitespace and
// dropping empties.
func ParseAPIKeys(input string) []string {
	keys := []string{}
	for _, key := range strings.Split(input, ",") {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// applyFileConfig overlays set fields from a JSON config file onto the
// flag-derived configuration.
func applyFileConfig(fileCfg *appconf.JSONConfig, cfg *appconf.Config, opts *Options) {
	fromFile := fileCfg.ToAppConfig()
	if fromFile.Port != 0 {
		cfg.Port = fromFile.Port
	}
	if fileCfg.Env != "" {
		cfg.Env = fromFile.Env
	}
	if len(fromFile.ApiKeys) > 0 {
		cfg.ApiKeys = fromFile.ApiKeys
	}
	if fromFile.Verbose {
		cfg.Verbose = true
	}
	if fromFile.RateLimit != 0 {
		cfg.RateLimit = fromFile.RateLimit
	}

	if fileCfg.UpstreamURL != "" {
		opts.Upstream.BaseURL = fileCfg.UpstreamURL
	}
	if fileCfg.UpstreamKey != "" {
		opts.Upstream.APIKey = fileCfg.UpstreamKey
	}
	if fileCfg.FreshTTL() > 0 {
		opts.FreshTTL = fileCfg.FreshTTL()
	}
	if fileCfg.StaleTTL() > 0 {
		opts.StaleTTL = fileCfg.StaleTTL()
	}
	if fileCfg.StationsGtfsURL != "" {
		opts.StationsGtfsURL = fileCfg.StationsGtfsURL
	}
	if fileCfg.StationsDBPath != "" {
		opts.StationsDBPath = fileCfg.StationsDBPath
	}
}

// BuildApplication wires every dependency: logger, metrics, cache store,
// upstream fetcher, station directory, and the arrivals service.
func BuildApplication(cfg appconf.Config, opts Options) (*app.Application, error) {
	if opts.Upstream.BaseURL == "" {
		return nil, errors.New("upstream URL is required (set -upstream-url or the config file)")
	}
	if opts.FreshTTL <= 0 || opts.StaleTTL < opts.FreshTTL {
		return nil, fmt.Errorf("invalid TTL configuration: fresh=%s stale=%s", opts.FreshTTL, opts.StaleTTL)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	m := metrics.NewWithLogger(logger)
	realClock := clock.RealClock{}

	store := cache.NewMemoryStore(opts.StaleTTL)
	fetcher := upstream.NewFetcher(opts.Upstream, logger)

	var directory *stations.Directory
	if opts.StationsDBPath != "" {
		var err error
		directory, err = stations.NewDirectory(stations.NewConfig(opts.StationsDBPath, cfg.Env, cfg.Verbose))
		if err != nil {
			return nil, fmt.Errorf("failed to open station directory: %w", err)
		}
		m.StartDBStatsCollector(directory.DB, time.Minute)
	}

	arrivalsCfg := arrivals.DefaultConfig()
	arrivalsCfg.FreshTTL = opts.FreshTTL
	arrivalsCfg.StaleTTL = opts.StaleTTL
	arrivalsCfg.ServeExpiredOnError = opts.ServeExpiredOnError

	service := arrivals.NewService(fetcher, store, realClock, arrivalsCfg, logger, m)

	return &app.Application{
		Config:   cfg,
		Logger:   logger,
		Clock:    realClock,
		Metrics:  m,
		Arrivals: service,
		Stations: directory,
		Cache:    store,
	}, nil
}

// CreateServer builds the http.Server with the full middleware chain.
func CreateServer(coreApp *app.Application, cfg appconf.Config) (*http.Server, *restapi.RestAPI) {
	api := restapi.NewRestAPI(coreApp)

	mux := http.NewServeMux()
	api.SetRoutes(mux)
	webui.NewWebUI(coreApp).SetRoutes(mux)

	var handler http.Handler = mux
	handler = restapi.MetricsHandler(coreApp.Metrics)(handler)
	handler = restapi.NewRequestLoggingMiddleware(coreApp.Logger)(handler)
	handler = restapi.RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return srv, api
}

// Run starts the server, the station directory loader, and blocks until a
// shutdown signal arrives; then it drains in order: HTTP, background
// refreshes, middleware, directory, cache, metrics.
func Run(coreApp *app.Application, cfg appconf.Config, opts Options) error {
	srv, api := CreateServer(coreApp, cfg)

	var refresher *stations.Refresher
	if coreApp.Stations != nil && opts.StationsGtfsURL != "" {
		go loadStationDirectory(coreApp, opts.StationsGtfsURL)
		refresher = stations.NewRefresher(coreApp.Stations, opts.StationsGtfsURL, 24*time.Hour, coreApp.Logger)
		refresher.Start()
	}

	errChan := make(chan error, 1)
	go func() {
		logging.LogOperation(coreApp.Logger, "server_starting",
			slog.Int("port", cfg.Port),
			slog.String("env", cfg.Env.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		logging.LogOperation(coreApp.Logger, "shutdown_signal_received",
			slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.LogError(coreApp.Logger, "HTTP server shutdown failed", err)
	}
	if err := coreApp.Arrivals.Join(ctx); err != nil {
		logging.LogError(coreApp.Logger, "background refreshes did not finish", err)
	}
	api.Shutdown()
	if refresher != nil {
		refresher.Shutdown()
	}
	if coreApp.Stations != nil {
		if err := coreApp.Stations.Close(); err != nil {
			logging.LogError(coreApp.Logger, "station directory close failed", err)
		}
	}
	if err := coreApp.Cache.Close(); err != nil {
		logging.LogError(coreApp.Logger, "cache close failed", err)
	}
	coreApp.Metrics.Shutdown()

	logging.LogOperation(coreApp.Logger, "server_stopped")
	return nil
}

// loadStationDirectory performs the initial directory import in the
// background so startup does not block on a slow feed download.
func loadStationDirectory(coreApp *app.Application, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var err error
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		err = coreApp.Stations.DownloadAndImport(ctx, source)
	} else {
		err = coreApp.Stations.ImportFromFile(ctx, source)
	}
	if err != nil {
		logging.LogError(coreApp.Logger, "initial station directory import failed", err,
			slog.String("source", source))
		return
	}
	logging.LogOperation(coreApp.Logger, "station_directory_loaded",
		slog.String("source", source))
}
