package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"finance-ledger/internal/ledger"
	"finance-ledger/internal/models"
)

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

// writeServiceError maps a ledger or store error onto its HTTP status.
// Unexpected errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var verr models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: responseError{
			Code: "invalid_request", Field: verr.Field, Message: verr.Message,
		}})
	case errors.Is(err, ledger.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, ledger.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "not allowed")
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "email already registered")
	default:
		log.Printf("%s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
