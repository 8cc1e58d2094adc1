package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
)

// handlers bundles the Control API's route handlers with their
// collaborators.
type handlers struct {
	deps   Deps
	logger zerolog.Logger
}

// errorBody is the {error: {message, code}} response shape every
// Control API error uses.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := statusForCode(code)

	var body errorBody
	body.Error.Message = err.Error()
	body.Error.Code = string(code)
	writeJSON(w, status, body)
}

func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeTransient:
		return http.StatusServiceUnavailable
	case apperr.CodePermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validationf("invalid request body: %v", err)
	}
	return nil
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}
