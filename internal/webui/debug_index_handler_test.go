package webui

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainwatch.transitboard.org/internal/app"
	"trainwatch.transitboard.org/internal/appconf"
	"trainwatch.transitboard.org/internal/cache"
	"trainwatch.transitboard.org/internal/models"
)

func newTestWebUI(t *testing.T, env appconf.Environment) (*WebUI, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	webUI := NewWebUI(&app.Application{
		Config: appconf.Config{Env: env},
		Cache:  store,
	})
	return webUI, store
}

func TestDebugIndexHandler_DisabledInProduction(t *testing.T) {
	webUI, _ := newTestWebUI(t, appconf.Production)

	rec := httptest.NewRecorder()
	webUI.debugIndexHandler(rec, httptest.NewRequest("GET", "/debug?dataType=cache", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugIndexHandler_DumpsCache(t *testing.T) {
	webUI, store := newTestWebUI(t, appconf.Development)

	require.NoError(t, store.Put("stations:40380", models.ArrivalsPayload{}, time.Now()))

	rec := httptest.NewRecorder()
	webUI.debugIndexHandler(rec, httptest.NewRequest("GET", "/debug?dataType=cache", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "stations:40380")
	assert.Contains(t, rec.Body.String(), "Arrivals Cache - Entries")
}

func TestDebugIndexHandler_UnknownDataType(t *testing.T) {
	webUI, _ := newTestWebUI(t, appconf.Development)

	rec := httptest.NewRecorder()
	webUI.debugIndexHandler(rec, httptest.NewRequest("GET", "/debug", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Choose a data type")
}
