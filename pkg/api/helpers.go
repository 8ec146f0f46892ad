package api

import (
	"encoding/json"
	"net/http"

	apperrors "appraisal-backend/pkg/errors"
)

// Success sends a JSON response with the given status code. A nil data
// value sends headers only.
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Error sends a standardized error body with the given status code.
func Error(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// ErrorFrom maps an application error to its HTTP status. Internal
// details are not leaked to the client.
func ErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case apperrors.IsValidation(err):
		Error(w, http.StatusBadRequest, err.Error())
	case apperrors.IsNotFound(err):
		Error(w, http.StatusNotFound, err.Error())
	case apperrors.IsUnavailable(err), apperrors.IsTimeout(err):
		Error(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		Error(w, http.StatusInternalServerError, "an internal error occurred")
	}
}
