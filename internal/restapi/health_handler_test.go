package restapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainwatch.transitboard.org/internal/app"
	"trainwatch.transitboard.org/internal/appconf"
	"trainwatch.transitboard.org/internal/arrivals"
	"trainwatch.transitboard.org/internal/stations"
)

func TestHealthHandlerWithNilArrivalsService(t *testing.T) {
	api := &RestAPI{
		Application: &app.Application{},
	}

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	w := httptest.NewRecorder()

	api.healthHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "arrivals service not initialized", resp.Detail)
}

func TestHealthHandlerReturnsOK(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, feedBody("0"))

	resp := env.get(t, "/healthcheck", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var healthResp HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&healthResp))
	assert.Equal(t, "ok", healthResp.Status)
}

func TestHealthHandlerReportsClosedDirectory(t *testing.T) {
	directory, err := stations.NewDirectory(stations.NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	require.NoError(t, directory.Close())

	api := &RestAPI{
		Application: &app.Application{
			Arrivals: &arrivals.Service{},
			Stations: directory,
			Logger:   slog.Default(),
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	w := httptest.NewRecorder()

	api.healthHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "station database connection failed", resp.Detail)
}
