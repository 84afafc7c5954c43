package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ytget/yt-queue/internal/download"
	"github.com/ytget/yt-queue/internal/engine"
	"github.com/ytget/yt-queue/internal/store"
)

// Error codes
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "QUEUE_CONFLICT"
	CodeUnavailable = "STORE_UNAVAILABLE"
	CodeInternal    = "INTERNAL_ERROR"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a JSON error body with the given status
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}

// classify maps a manager error onto an HTTP status and error code
func classify(err error) (int, string, string) {
	var se *store.Error
	switch {
	case errors.Is(err, download.ErrValidation):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, err.Error()
	case errors.Is(err, download.ErrQueue):
		return http.StatusConflict, CodeConflict, err.Error()
	case errors.As(err, &se):
		return http.StatusServiceUnavailable, CodeUnavailable, "Storage is temporarily unavailable."
	default:
		return http.StatusInternalServerError, CodeInternal, engine.Sanitize(err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
