package restapi

import (
	"encoding/json"
	"net/http"

	"trainwatch.transitboard.org/internal/logging"
)

// HealthResponse represents the JSON response from the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// healthHandler checks that the core dependencies are initialized and that
// the station directory database answers a ping. It returns 503 when
// degraded so load balancers stop routing traffic here.
func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if api.Application == nil || api.Application.Arrivals == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "unavailable",
			Detail: "arrivals service not initialized",
		})
		return
	}

	// The station directory is optional; when present it must be reachable.
	if directory := api.Application.Stations; directory != nil {
		if err := directory.Ping(r.Context()); err != nil {
			logging.LogError(api.Application.Logger, "station directory ping failed", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(HealthResponse{
				Status: "unavailable",
				Detail: "station database connection failed",
			})
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}
