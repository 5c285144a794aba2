package restapi

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"trainwatch.transitboard.org/internal/arrivals"
)

// maxStationsPerQuery mirrors the upstream API's per-call station limit.
const maxStationsPerQuery = 4

// stationArrivalsHandler serves GET /arrivals/station. Stations come from
// the mapids parameter (stations is accepted as an alias), comma-separated.
func (api *RestAPI) stationArrivalsHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("mapids")
	if raw == "" {
		raw = r.URL.Query().Get("stations")
	}

	stationIDs, err := parseStationIDs(raw)
	if err != nil {
		api.badRequestResponse(w, r, err.Error())
		return
	}

	if err := api.validateStations(r, stationIDs); err != nil {
		api.badRequestResponse(w, r, err.Error())
		return
	}

	opts := arrivals.Options{
		ForceRefresh:    forceRefreshRequested(r),
		AllowBackground: backgroundAllowed(r),
	}

	result, err := api.Application.Arrivals.GetStations(r.Context(), stationIDs, opts)
	if err != nil {
		api.upstreamErrorResponse(w, r, err)
		return
	}

	setCacheHeaders(w, result)
	api.sendJSON(w, r, result.Payload)
}

// stopArrivalsHandler serves GET /arrivals/stop for a single platform.
func (api *RestAPI) stopArrivalsHandler(w http.ResponseWriter, r *http.Request) {
	stopID := strings.TrimSpace(r.URL.Query().Get("stopId"))
	if stopID == "" {
		api.badRequestResponse(w, r, "stopId parameter is required")
		return
	}

	// The background opt-out header only applies to the station route.
	opts := arrivals.Options{
		ForceRefresh:    forceRefreshRequested(r),
		AllowBackground: true,
	}

	result, err := api.Application.Arrivals.GetStop(r.Context(), stopID, opts)
	if err != nil {
		api.upstreamErrorResponse(w, r, err)
		return
	}

	setCacheHeaders(w, result)
	api.sendJSON(w, r, result.Payload)
}

func parseStationIDs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("mapids parameter is required")
	}

	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, errors.New("empty station id in mapids")
		}
		ids = append(ids, p)
	}

	if len(ids) > maxStationsPerQuery {
		return nil, fmt.Errorf("at most %d stations per request, got %d", maxStationsPerQuery, len(ids))
	}
	return ids, nil
}

// validateStations rejects IDs the directory does not know. Skipped when
// the directory is absent or still empty so a cold start without a GTFS
// feed keeps serving.
func (api *RestAPI) validateStations(r *http.Request, stationIDs []string) error {
	directory := api.Application.Stations
	if directory == nil {
		return nil
	}
	count, err := directory.StationCount(r.Context())
	if err != nil || count == 0 {
		return nil
	}

	for _, id := range stationIDs {
		if _, err := directory.Lookup(r.Context(), id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("unknown station id %q", id)
			}
			return nil
		}
	}
	return nil
}

func forceRefreshRequested(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("x-force-refresh"), "true")
}

// backgroundAllowed defaults to true; clients opt out with
// "x-allow-background: false" (batch tooling, deterministic tests).
func backgroundAllowed(r *http.Request) bool {
	return !strings.EqualFold(r.Header.Get("x-allow-background"), "false")
}

func setCacheHeaders(w http.ResponseWriter, result arrivals.Result) {
	w.Header().Set("X-Cache", result.State.HeaderValue())
	w.Header().Set("X-Cache-Age", strconv.Itoa(int(result.Age.Seconds())))
}
