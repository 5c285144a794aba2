package restapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainwatch.transitboard.org/internal/app"
	"trainwatch.transitboard.org/internal/appconf"
	"trainwatch.transitboard.org/internal/arrivals"
	"trainwatch.transitboard.org/internal/cache"
	"trainwatch.transitboard.org/internal/clock"
	"trainwatch.transitboard.org/internal/models"
	"trainwatch.transitboard.org/internal/stations"
	"trainwatch.transitboard.org/internal/upstream"
)

// testEnv bundles everything an endpoint test needs: a stubbed upstream, a
// controllable clock, and the API mounted on an httptest server.
type testEnv struct {
	server        *httptest.Server
	clock         *clock.MockClock
	upstreamCalls *atomic.Int64
}

func feedBody(errCd string, etas ...string) string {
	eta := "[" + joinComma(etas) + "]"
	if len(etas) == 0 {
		eta = "[]"
	}
	return fmt.Sprintf(`{"ctatt":{"tmst":"20250310 09:00:00","errCd":%q,"errNm":null,"eta":%s}}`, errCd, eta)
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func etaRecord(stationID, stopID, arrT string) string {
	return fmt.Sprintf(`{
		"staId": %q, "stpId": %q, "staNm": "Clark/Lake",
		"stpDe": "Service toward O'Hare", "rt": "Blue", "destNm": "O'Hare",
		"arrT": %q, "prdt": "20250310 08:59:30",
		"isApp": "0", "isDly": "0", "isSch": "0"
	}`, stationID, stopID, arrT)
}

func newTestEnv(t *testing.T, upstreamStatus int, upstreamBody string) *testEnv {
	t.Helper()

	calls := &atomic.Int64{}
	upstreamServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(upstreamStatus)
		_, _ = w.Write([]byte(upstreamBody))
	}))
	t.Cleanup(upstreamServer.Close)

	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	mock := clock.NewMockClock(time.Date(2025, 3, 10, 9, 0, 0, 0, chicago))

	fetcher := upstream.NewFetcher(upstream.Config{
		BaseURL:    upstreamServer.URL,
		APIKey:     "test-key",
		Timeout:    2 * time.Second,
		MaxRetries: upstream.DefaultMaxRetries,
	}, slog.Default())

	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	svcCfg := arrivals.DefaultConfig()
	svcCfg.Location = chicago
	service := arrivals.NewService(fetcher, store, mock, svcCfg, slog.Default(), nil)

	directory, err := stations.NewDirectory(stations.NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = directory.Close() })

	static := &gtfs.Static{
		Stops: []gtfs.Stop{
			{Id: "40380", Name: "Clark/Lake", Type: gtfs.StopType_Station},
			{Id: "30074", Description: "Service toward O'Hare", Type: gtfs.StopType_Platform},
		},
	}
	static.Stops[1].Parent = &static.Stops[0]
	require.NoError(t, directory.ImportStatic(t.Context(), static))

	application := &app.Application{
		Config: appconf.Config{
			Env:       appconf.Test,
			ApiKeys:   []string{"TEST"},
			RateLimit: 100,
		},
		Logger:   slog.Default(),
		Clock:    mock,
		Arrivals: service,
		Stations: directory,
		Cache:    store,
	}

	api := NewRestAPI(application)
	t.Cleanup(api.Shutdown)

	mux := http.NewServeMux()
	api.SetRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{server: server, clock: mock, upstreamCalls: calls}
}

func (env *testEnv) get(t *testing.T, path string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStationArrivalsEndpoint(t *testing.T) {
	env := newTestEnv(t, http.StatusOK,
		feedBody("0", etaRecord("40380", "30074", "20250310 09:05:00")))

	resp := env.get(t, "/arrivals/station?mapids=40380", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "false", resp.Header.Get("X-Cache"))
	assert.Equal(t, "0", resp.Header.Get("X-Cache-Age"))

	var payload models.ArrivalsPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Stations, 1)
	assert.Equal(t, "40380", payload.Stations[0].StationID)
	require.Len(t, payload.Stations[0].Stops, 1)
	assert.Equal(t, "Blue", payload.Stations[0].Stops[0].Route)

	// Second request within the fresh window is a cache hit.
	second := env.get(t, "/arrivals/station?mapids=40380", nil)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("X-Cache"))
	assert.Equal(t, int64(1), env.upstreamCalls.Load())
}

func TestStationArrivalsEndpoint_StationsAlias(t *testing.T) {
	env := newTestEnv(t, http.StatusOK,
		feedBody("0", etaRecord("40380", "30074", "20250310 09:05:00")))

	resp := env.get(t, "/arrivals/station?stations=40380", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStationArrivalsEndpoint_BadRequests(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, feedBody("0"))

	tests := []struct {
		name string
		path string
	}{
		{"missing mapids", "/arrivals/station"},
		{"empty id in list", "/arrivals/station?mapids=40380,,40390"},
		{"too many stations", "/arrivals/station?mapids=1,2,3,4,5"},
		{"unknown station", "/arrivals/station?mapids=99999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.get(t, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body ErrorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "invalid request", body.Error)
			assert.NotEmpty(t, body.Details)
		})
	}
	assert.Equal(t, int64(0), env.upstreamCalls.Load(), "invalid requests must not reach upstream")
}

func TestStopArrivalsEndpoint(t *testing.T) {
	env := newTestEnv(t, http.StatusOK,
		feedBody("0",
			etaRecord("40380", "30074", "20250310 09:05:00"),
			etaRecord("40380", "30074", "20250310 09:12:00")))

	resp := env.get(t, "/arrivals/stop?stopId=30074", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload models.ArrivalsPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.NotNil(t, payload.Stop)
	assert.Equal(t, "30074", payload.Stop.StopID)
	assert.Len(t, payload.Stop.Arrivals, 2)
	assert.Nil(t, payload.Stations)
}

func TestStopArrivalsEndpoint_MissingStopID(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, feedBody("0"))

	resp := env.get(t, "/arrivals/stop", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestForceRefreshHeader(t *testing.T) {
	env := newTestEnv(t, http.StatusOK,
		feedBody("0", etaRecord("40380", "30074", "20250310 09:05:00")))

	env.get(t, "/arrivals/station?mapids=40380", nil)

	forced := env.get(t, "/arrivals/station?mapids=40380",
		map[string]string{"x-force-refresh": "true"})
	assert.Equal(t, http.StatusOK, forced.StatusCode)
	assert.Equal(t, "false", forced.Header.Get("X-Cache"))
	assert.Equal(t, int64(2), env.upstreamCalls.Load(),
		"force refresh must bypass the fresh cache entry")
}

func TestStaleServedWithHeaders(t *testing.T) {
	env := newTestEnv(t, http.StatusOK,
		feedBody("0", etaRecord("40380", "30074", "20250310 09:05:00")))

	env.get(t, "/arrivals/station?mapids=40380", nil)
	env.clock.Advance(25 * time.Second)

	resp := env.get(t, "/arrivals/station?mapids=40380",
		map[string]string{"x-allow-background": "false"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stale", resp.Header.Get("X-Cache"))
	assert.Equal(t, "25", resp.Header.Get("X-Cache-Age"))
	assert.Equal(t, int64(1), env.upstreamCalls.Load(),
		"background refresh was declined by the client")
}

func TestUpstreamFailureReturns502(t *testing.T) {
	env := newTestEnv(t, http.StatusInternalServerError, "boom")

	resp := env.get(t, "/arrivals/station?mapids=40380", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "upstream unavailable", body.Error)
	assert.NotEmpty(t, body.Details)
}

func TestUpstreamLogicalErrorReturns502(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, feedBody("900"))

	resp := env.get(t, "/arrivals/station?mapids=40380", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int64(1), env.upstreamCalls.Load(),
		"logical upstream errors are not retried")
}

func TestArrivalsCacheControlIsUncacheable(t *testing.T) {
	env := newTestEnv(t, http.StatusOK,
		feedBody("0", etaRecord("40380", "30074", "20250310 09:05:00")))

	resp := env.get(t, "/arrivals/station?mapids=40380", nil)
	assert.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get("Cache-Control"))
}
