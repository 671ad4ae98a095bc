package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"flowdistributor/internal/app"
	"flowdistributor/internal/core"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// statusByCode maps ledger error codes to HTTP statuses.
var statusByCode = map[string]int{
	"INVALID_AMOUNT":          http.StatusBadRequest,
	"INVALID_RECORD":          http.StatusBadRequest,
	"INVALID_TRANSFER":        http.StatusBadRequest,
	"UNBALANCED_ENTRY":        http.StatusBadRequest,
	"NOT_FOUND":               http.StatusNotFound,
	"DUPLICATE_TRANSACTION":   http.StatusConflict,
	"CONCURRENT_MODIFICATION": http.StatusConflict,
	"OVERPAYMENT":             http.StatusUnprocessableEntity,
	"INSUFFICIENT_FUNDS":      http.StatusUnprocessableEntity,
}

// writeServiceError writes err with the status its ledger code maps to. Anything
// unrecognised is a 500 and is not echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, app.ErrAgentUnavailable) {
		writeError(w, r, err.Error(), "AI_UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}
	code := core.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		loggerFromContext(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	writeError(w, r, err.Error(), code, status)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeCreated writes a JSON response with status 201.
func writeCreated(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
