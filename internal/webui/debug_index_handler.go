package webui

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/davecgh/go-spew/spew"

	"trainwatch.transitboard.org/internal/appconf"
)

//go:embed debug_index.html
var templateFS embed.FS

type debugData struct {
	Title string
	Pre   string
}

func writeDebugData(w http.ResponseWriter, title string, data interface{}) {
	content := spew.Sdump(data)
	w.Header().Set("Content-Type", "text/html")
	tmpl, err := template.ParseFS(templateFS, "debug_index.html")
	if err != nil {
		slog.Error("failed to parse debug template", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	dataStruct := debugData{
		Title: title,
		Pre:   content,
	}

	if err := tmpl.Execute(w, dataStruct); err != nil {
		slog.Error("failed to execute debug template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// debugIndexHandler dumps internal state for inspection during development.
func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Application.Config.Env == appconf.Production {
		http.NotFound(w, r)
		return
	}
	dataType := r.URL.Query().Get("dataType")

	var data interface{}
	var title string

	switch dataType {
	case "cache":
		if webUI.Application.Cache != nil {
			data = webUI.Application.Cache.Snapshot()
		}
		title = "Arrivals Cache - Entries"
	case "config":
		data = webUI.Application.Config
		title = "Application - Config"
	case "stations":
		if webUI.Application.Stations != nil {
			count, err := webUI.Application.Stations.StationCount(r.Context())
			if err != nil {
				data = map[string]string{"error": err.Error()}
			} else {
				data = map[string]int64{"stations": count}
			}
		}
		title = "Station Directory - Stats"
	default:
		data = map[string]string{
			"error": "Please use one of the following: cache, config, stations.",
		}
		title = "Choose a data type"
	}

	writeDebugData(w, title, data)
}
