package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/signpad/pad"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pad.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pad.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pad.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, pad.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
