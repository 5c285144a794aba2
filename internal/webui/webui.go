// Package webui serves the HTML debug surface. It is development tooling;
// every handler here disappears in production.
package webui

import (
	"net/http"

	"trainwatch.transitboard.org/internal/app"
)

type WebUI struct {
	Application *app.Application
}

func NewWebUI(application *app.Application) *WebUI {
	return &WebUI{Application: application}
}

func (webUI *WebUI) SetRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug", webUI.debugIndexHandler)
}
