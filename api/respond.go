package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/c360studio/phraseforge/coverage"
	"github.com/c360studio/phraseforge/orchestrate"
	"github.com/c360studio/phraseforge/storage"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// writeDomainError maps domain sentinel errors onto HTTP statuses. The
// HTTP layer surfaces invariants and environment errors only; chunk
// processing errors never travel this path.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, storage.ErrTerminal),
		errors.Is(err, orchestrate.ErrJobAlreadyTerminal):
		writeJSONError(w, http.StatusConflict, "terminal", err.Error())
	case errors.Is(err, coverage.ErrModeMismatch):
		writeJSONError(w, http.StatusConflict, "mode_mismatch", err.Error())
	case errors.Is(err, coverage.ErrSwapTarget):
		writeJSONError(w, http.StatusBadRequest, "invalid_target", err.Error())
	case errors.Is(err, storage.ErrConflict):
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, storage.ErrInvalidTransition):
		writeJSONError(w, http.StatusConflict, "invalid_transition", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// decodeJSONBody decodes a request body into v with a size cap.
func decodeJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	return dec.Decode(v)
}
