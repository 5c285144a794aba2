package restapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"trainwatch.transitboard.org/internal/logging"
	"trainwatch.transitboard.org/internal/upstream"
)

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func setJSONResponseType(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
}

func (api *RestAPI) sendJSON(w http.ResponseWriter, r *http.Request, payload any) {
	setJSONResponseType(w)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		api.serverErrorResponse(w, r, err)
	}
}

func writeJSONError(w http.ResponseWriter, message, details string) error {
	return json.NewEncoder(w).Encode(ErrorBody{Error: message, Details: details})
}

func (api *RestAPI) errorResponse(w http.ResponseWriter, r *http.Request, status int, message, details string) {
	setJSONResponseType(w)
	w.WriteHeader(status)
	if err := writeJSONError(w, message, details); err != nil {
		logging.LogError(api.Application.Logger, "failed to encode error response", err,
			slog.String("path", r.URL.Path))
	}
}

func (api *RestAPI) badRequestResponse(w http.ResponseWriter, r *http.Request, details string) {
	api.errorResponse(w, r, http.StatusBadRequest, "invalid request", details)
}

func (api *RestAPI) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logging.LogError(api.Application.Logger, "internal server error", err,
		slog.String("path", r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())))
	api.errorResponse(w, r, http.StatusInternalServerError, "internal server error", "")
}

// upstreamErrorResponse maps a failed upstream fetch to a status code:
// 502 for transit authority failures, 500 for anything unexpected.
func (api *RestAPI) upstreamErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logging.LogError(api.Application.Logger, "upstream fetch failed", err,
		slog.String("path", r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())))

	var upstreamErr *upstream.Error
	if errors.As(err, &upstreamErr) {
		api.errorResponse(w, r, http.StatusBadGateway, "upstream unavailable", upstreamErr.Error())
		return
	}
	api.errorResponse(w, r, http.StatusInternalServerError, "internal server error", "")
}
