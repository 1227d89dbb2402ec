// Package api holds the shared JSON response helpers for the HTTP surface.
package api

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
}

// JSON writes a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Error writes a uniform JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// ErrorWithCode writes an error response carrying a machine-readable code.
func ErrorWithCode(w http.ResponseWriter, status int, message, code string) {
	JSON(w, status, ErrorResponse{Error: message, ErrorCode: code})
}
