// Package arrivals is the freshness policy orchestrator. For each request
// it decides between serving the cache as-is, serving stale while a
// background refresh runs, or blocking on a synchronous upstream fetch, and
// it owns the write-back of shaped payloads into the cache store.
package arrivals

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trainwatch.transitboard.org/internal/cache"
	"trainwatch.transitboard.org/internal/clock"
	"trainwatch.transitboard.org/internal/logging"
	"trainwatch.transitboard.org/internal/metrics"
	"trainwatch.transitboard.org/internal/models"
	"trainwatch.transitboard.org/internal/shape"
	"trainwatch.transitboard.org/internal/transittime"
	"trainwatch.transitboard.org/internal/upstream"
)

// refreshTimeout bounds one fetch->shape->put cycle. Refreshes are
// detached from the triggering request's lifetime, so this is the only
// deadline they run under besides the fetcher's own per-attempt timeout.
const refreshTimeout = 20 * time.Second

// Fetcher is the slice of the upstream client the service depends on,
// narrowed for testability.
type Fetcher interface {
	FetchStations(ctx context.Context, stationIDs []string) ([]upstream.ArrivalRecord, error)
	FetchStop(ctx context.Context, stopID string) ([]upstream.ArrivalRecord, error)
}

// Config tunes the freshness policy and the shaping applied to fetched data.
type Config struct {
	// FreshTTL is the window during which a cache entry is served without
	// any refresh; StaleTTL is the window during which it may still be
	// served while a background refresh runs. Beyond StaleTTL the entry is
	// a miss.
	FreshTTL time.Duration
	StaleTTL time.Duration

	// Skew, Lookback, MaxPerStop and Location feed the shaper.
	Skew       time.Duration
	Lookback   time.Duration
	MaxPerStop int
	Location   *time.Location

	// ServeExpiredOnError controls whether a synchronous-path upstream
	// failure falls back to a previously expired entry instead of erroring.
	ServeExpiredOnError bool
}

// DefaultConfig returns the observed production tuning.
func DefaultConfig() Config {
	return Config{
		FreshTTL:   20 * time.Second,
		StaleTTL:   30 * time.Second,
		Skew:       transittime.DefaultSkew,
		Lookback:   transittime.DefaultLookback,
		MaxPerStop: shape.DefaultMaxPerStop,
	}
}

// CacheState classifies how a response was produced.
type CacheState int

const (
	// StateMiss means the payload came from a synchronous upstream fetch.
	StateMiss CacheState = iota
	// StateFresh means the payload came straight from a fresh cache entry.
	StateFresh
	// StateStale means a stale cache entry was served.
	StateStale
)

func (s CacheState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	default:
		return "miss"
	}
}

// HeaderValue renders the state for the X-Cache response header.
func (s CacheState) HeaderValue() string {
	switch s {
	case StateFresh:
		return "true"
	case StateStale:
		return "stale"
	default:
		return "false"
	}
}

// Result is a served payload plus the cache provenance the HTTP layer
// surfaces in headers.
type Result struct {
	Payload models.ArrivalsPayload
	State   CacheState
	Age     time.Duration
}

// Options carries per-request signals from the HTTP layer.
type Options struct {
	// ForceRefresh bypasses the cache lookup entirely and always takes the
	// synchronous fetch path, still writing the result back.
	ForceRefresh bool
	// AllowBackground permits a stale hit to trigger a background refresh.
	AllowBackground bool
}

// Service implements the freshness policy over an injected fetcher, store
// and clock.
type Service struct {
	fetcher Fetcher
	store   cache.Store
	clock   clock.Clock
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// flight collapses concurrent synchronous fetches for the same key
	// into one upstream call shared by all waiters.
	flight singleflight.Group

	// inflight tracks running background refreshes by cache key so a
	// second stale hit does not spawn a duplicate.
	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewService wires the orchestrator. A nil logger falls back to
// slog.Default(); metrics may be nil in tests.
func NewService(fetcher Fetcher, store cache.Store, clk clock.Clock, config Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fetcher:  fetcher,
		store:    store,
		clock:    clk,
		config:   config,
		logger:   logger.With(slog.String("component", "arrivals_service")),
		metrics:  m,
		inflight: make(map[string]struct{}),
	}
}

// GetStations serves arrival predictions for up to four parent stations.
func (s *Service) GetStations(ctx context.Context, stationIDs []string, opts Options) (Result, error) {
	key := cache.BuildKey(cache.NamespaceStations, stationIDs)
	fetch := func(ctx context.Context) (models.ArrivalsPayload, error) {
		records, err := s.fetcher.FetchStations(ctx, stationIDs)
		if err != nil {
			return models.ArrivalsPayload{}, err
		}
		return models.ArrivalsPayload{
			Stations: shape.Stations(records, s.clock.Now(), s.shapeOptions()),
		}, nil
	}
	return s.get(ctx, key, fetch, opts)
}

// GetStop serves arrival predictions for a single platform.
func (s *Service) GetStop(ctx context.Context, stopID string, opts Options) (Result, error) {
	key := cache.BuildKey(cache.NamespaceStop, []string{stopID})
	fetch := func(ctx context.Context) (models.ArrivalsPayload, error) {
		records, err := s.fetcher.FetchStop(ctx, stopID)
		if err != nil {
			return models.ArrivalsPayload{}, err
		}
		stop := shape.Stop(records, s.clock.Now(), s.shapeOptions())
		return models.ArrivalsPayload{Stop: &stop}, nil
	}
	return s.get(ctx, key, fetch, opts)
}

func (s *Service) shapeOptions() shape.Options {
	return shape.Options{
		Location:   s.config.Location,
		Skew:       s.config.Skew,
		Lookback:   s.config.Lookback,
		MaxPerStop: s.config.MaxPerStop,
	}
}

type fetchFunc func(ctx context.Context) (models.ArrivalsPayload, error)

// get runs the per-request state machine: fresh -> serve; stale -> serve
// and revalidate in the background; miss/expired/forced -> block on a
// synchronous fetch.
func (s *Service) get(ctx context.Context, key string, fetch fetchFunc, opts Options) (Result, error) {
	if opts.ForceRefresh {
		s.metrics.ObserveCacheResult("bypass")
		payload, err := s.refresh(ctx, key, fetch)
		if err != nil {
			return Result{}, err
		}
		return Result{Payload: payload, State: StateMiss}, nil
	}

	now := s.clock.Now()
	entry, found, err := s.store.Get(key)
	if err != nil {
		// Availability over strict caching correctness: a failed read is a
		// miss, never a request failure.
		logging.LogError(s.logger, "cache read failed, treating as miss", err, slog.String("key", key))
		found = false
	}

	if found && !entry.IsExpired(now, s.config.StaleTTL) {
		if entry.IsFresh(now, s.config.FreshTTL) {
			s.metrics.ObserveCacheResult("fresh")
			return Result{Payload: entry.Payload, State: StateFresh, Age: entry.Age(now)}, nil
		}

		s.metrics.ObserveCacheResult("stale")
		if opts.AllowBackground {
			s.scheduleBackgroundRefresh(key, fetch)
		}
		return Result{Payload: entry.Payload, State: StateStale, Age: entry.Age(now)}, nil
	}

	if found {
		s.metrics.ObserveCacheResult("expired")
	} else {
		s.metrics.ObserveCacheResult("miss")
	}

	payload, err := s.refresh(ctx, key, fetch)
	if err != nil {
		if s.config.ServeExpiredOnError && found {
			logging.LogError(s.logger, "upstream failed, serving expired entry", err, slog.String("key", key))
			return Result{Payload: entry.Payload, State: StateStale, Age: entry.Age(now)}, nil
		}
		return Result{}, err
	}
	return Result{Payload: payload, State: StateMiss}, nil
}

// refresh performs one fetch->shape->put cycle. Concurrent callers for the
// same key share a single upstream call through the singleflight group.
// The fetch is detached from the caller's context: an abandoned request
// must still populate the cache, and the coalesced waiters behind the
// first caller must not inherit its cancellation.
func (s *Service) refresh(ctx context.Context, key string, fetch fetchFunc) (models.ArrivalsPayload, error) {
	value, err, _ := s.flight.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		start := s.clock.Now()
		payload, err := fetch(fetchCtx)
		if err != nil {
			s.metrics.ObserveUpstreamFetch("error", s.clock.Now().Sub(start))
			return nil, err
		}
		s.metrics.ObserveUpstreamFetch("success", s.clock.Now().Sub(start))

		if putErr := s.store.Put(key, payload, s.clock.Now()); putErr != nil {
			// A failed write must not fail the request that fetched the data.
			logging.LogError(s.logger, "cache write failed", putErr, slog.String("key", key))
		}
		return payload, nil
	})
	if err != nil {
		return models.ArrivalsPayload{}, err
	}
	return value.(models.ArrivalsPayload), nil
}

// scheduleBackgroundRefresh spawns a fire-and-forget revalidation unless
// one is already running for the key. Errors are logged, never surfaced:
// the triggering request already got its stale-but-valid response.
func (s *Service) scheduleBackgroundRefresh(key string, fetch fetchFunc) {
	s.mu.Lock()
	if _, running := s.inflight[key]; running {
		s.mu.Unlock()
		return
	}
	s.inflight[key] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
		}()

		if _, err := s.refresh(context.Background(), key, fetch); err != nil {
			s.metrics.ObserveBackgroundRefresh("error")
			logging.LogError(s.logger, "background refresh failed", err, slog.String("key", key))
			return
		}
		s.metrics.ObserveBackgroundRefresh("success")
	}()
}

// Join blocks until all in-flight background refreshes finish, or ctx is
// done. Called during graceful shutdown and by tests.
func (s *Service) Join(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
