package restapi

import (
	"net/http"
	"strconv"

	"trainwatch.transitboard.org/internal/stations"
)

const defaultSearchLimit = 25

// SearchResponse wraps station search results.
type SearchResponse struct {
	Query    string             `json:"query"`
	Stations []stations.Station `json:"stations"`
}

// searchStationsHandler serves GET /stations/search?q= over the station
// directory.
func (api *RestAPI) searchStationsHandler(w http.ResponseWriter, r *http.Request) {
	if api.Application.Stations == nil {
		api.errorResponse(w, r, http.StatusServiceUnavailable, "station directory unavailable", "")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		api.badRequestResponse(w, r, "q parameter is required")
		return
	}

	limit := defaultSearchLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 || parsed > 100 {
			api.badRequestResponse(w, r, "limit must be an integer between 1 and 100")
			return
		}
		limit = parsed
	}

	results, err := api.Application.Stations.Search(r.Context(), query, limit)
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	api.sendJSON(w, r, SearchResponse{Query: query, Stations: results})
}
