package stations

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"trainwatch.transitboard.org/internal/logging"
)

const maxStaticFeedSize = 200 * 1024 * 1024

// DownloadAndImport fetches the static GTFS feed from url and rebuilds the
// directory tables from it.
func (d *Directory) DownloadAndImport(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("error creating GTFS request: %w", err)
	}

	client := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error downloading GTFS data: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body,
		slog.Default().With(slog.String("component", "stations_importer")),
		"http_response_body")

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download GTFS data: received HTTP status %s", resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxStaticFeedSize+1))
	if err != nil {
		return fmt.Errorf("error reading GTFS data: %w", err)
	}
	if int64(len(b)) > maxStaticFeedSize {
		return fmt.Errorf("static GTFS response exceeds size limit of %d bytes", maxStaticFeedSize)
	}

	return d.importBytes(ctx, b)
}

// ImportFromFile rebuilds the directory tables from a local GTFS zip.
func (d *Directory) ImportFromFile(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading local GTFS file: %w", err)
	}
	return d.importBytes(ctx, b)
}

func (d *Directory) importBytes(ctx context.Context, b []byte) error {
	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return fmt.Errorf("error parsing GTFS data: %w", err)
	}
	return d.ImportStatic(ctx, staticData)
}

// ImportStatic replaces the directory contents with the stations and
// platform stops found in parsed GTFS data. The swap is transactional:
// queries keep seeing the old data until the import commits.
func (d *Directory) ImportStatic(ctx context.Context, staticData *gtfs.Static) error {
	routesByStation := routesServing(staticData)

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting import transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM stops"); err != nil {
		return fmt.Errorf("error clearing stops: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM stations"); err != nil {
		return fmt.Errorf("error clearing stations: %w", err)
	}

	insertStation, err := tx.PrepareContext(ctx,
		"INSERT INTO stations (id, name, routes) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = insertStation.Close() }()

	insertStop, err := tx.PrepareContext(ctx,
		"INSERT INTO stops (id, station_id, name) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = insertStop.Close() }()

	for i := range staticData.Stops {
		s := &staticData.Stops[i]
		switch s.Type {
		case gtfs.StopType_Station:
			routes := routesByStation[s.Id]
			sort.Strings(routes)
			if _, err := insertStation.ExecContext(ctx, s.Id, s.Name, strings.Join(routes, ",")); err != nil {
				return fmt.Errorf("unable to create station %s: %w", s.Id, err)
			}
		case gtfs.StopType_Platform:
			if s.Parent == nil {
				continue
			}
			if _, err := insertStop.ExecContext(ctx, s.Id, s.Parent.Id, s.Description); err != nil {
				return fmt.Errorf("unable to create stop %s: %w", s.Id, err)
			}
		}
	}

	return tx.Commit()
}

// routesServing walks every trip's stop times and collects, per parent
// station, the set of route IDs that stop there.
func routesServing(staticData *gtfs.Static) map[string][]string {
	seen := make(map[string]map[string]struct{})
	for i := range staticData.Trips {
		t := &staticData.Trips[i]
		if t.Route == nil {
			continue
		}
		for _, st := range t.StopTimes {
			if st.Stop == nil {
				continue
			}
			stationID := st.Stop.Id
			if st.Stop.Parent != nil {
				stationID = st.Stop.Parent.Id
			}
			routes, ok := seen[stationID]
			if !ok {
				routes = make(map[string]struct{})
				seen[stationID] = routes
			}
			routes[t.Route.Id] = struct{}{}
		}
	}

	out := make(map[string][]string, len(seen))
	for stationID, routes := range seen {
		list := make([]string, 0, len(routes))
		for r := range routes {
			list = append(list, r)
		}
		out[stationID] = list
	}
	return out
}

// Refresher re-imports the static feed on a fixed schedule so the
// directory tracks feed changes without a restart.
type Refresher struct {
	directory *Directory
	url       string
	interval  time.Duration
	logger    *slog.Logger

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewRefresher creates a refresher that re-imports from url every interval.
func NewRefresher(directory *Directory, url string, interval time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		directory:    directory,
		url:          url,
		interval:     interval,
		logger:       logger.With(slog.String("component", "stations_refresher")),
		shutdownChan: make(chan struct{}),
	}
}

// Start launches the periodic refresh loop.
func (r *Refresher) Start() {
	r.wg.Add(1)
	go r.loop()
}

func (r *Refresher) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			err := r.directory.DownloadAndImport(ctx, r.url)
			cancel()
			if err != nil {
				logging.LogError(r.logger, "Error refreshing station directory", err,
					slog.String("source", r.url))
				continue
			}
			logging.LogOperation(r.logger, "station_directory_refreshed",
				slog.String("source", r.url))
		case <-r.shutdownChan:
			logging.LogOperation(r.logger, "shutting_down_station_directory_refresh")
			return
		}
	}
}

// Shutdown stops the refresh loop and waits for it to exit.
func (r *Refresher) Shutdown() {
	r.shutdownOnce.Do(func() { close(r.shutdownChan) })
	r.wg.Wait()
}
