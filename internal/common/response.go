package common

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Envelope is the canonical API response shape. Success responses carry data,
// failure responses carry a code and a human readable message.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONData renders a success envelope around the payload.
func JSONData(w http.ResponseWriter, status int, data any) {
	JSON(w, status, Envelope{Success: true, Data: data})
}

// JSONError renders a failure envelope.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, Envelope{Success: false, Code: code, Message: message, Details: details})
}

// WriteError maps an error to the failure envelope. AppErrors keep their code
// and status; anything else is reported as an opaque internal error.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}
