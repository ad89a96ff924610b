package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
)

// errorResponse is the uniform error envelope returned at the HTTP
// boundary: {error, code, status} (§7), plus a correlation id on internal
// errors so an operator can find the matching server-side log line.
// Internal details beyond the correlation id are never included; callers
// see only the mapped message and code.
type errorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	Status        int    `json:"status"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeJSONError writes a generic error response with code "error".
func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSONErrorCode(w, message, "error", status)
}

// writeJSONErrorCode writes an error response with an explicit taxonomy
// code (§7), for clients that branch on it.
func writeJSONErrorCode(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code, Status: status})
}

// writeJSONInternalError logs cause under a fresh correlation id and
// returns it to the caller alongside the generic "internal error" message
// (§7): internal errors are never described to the caller beyond that id.
func writeJSONInternalError(w http.ResponseWriter, logger *log.Logger, cause string, status int) {
	correlationID := uuid.New().String()
	if logger != nil {
		logger.Printf("internal error [%s]: %s", correlationID, cause)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{
		Error:         "internal error",
		Code:          "internal",
		Status:        status,
		CorrelationID: correlationID,
	})
}
