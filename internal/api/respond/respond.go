// Package respond writes JSON success and error bodies.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mmynk/tallyledger/internal/models"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// WriteStatus writes a standardized error body for statusCode.
func WriteStatus(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

// WriteError maps err onto its status code and client-safe message.
func WriteError(w http.ResponseWriter, err error) {
	WriteStatus(w, models.StatusCode(err), models.Message(err))
}
