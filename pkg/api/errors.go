// Package api serves the Action API: enqueue a run, poll a run. No
// handler work happens on the request path; the worker owns execution.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// errorBody is the uniform error response shape.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteUnauthorized writes the 401 response.
func WriteUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
}

// WriteInvalidPayload writes the 400 response with a validation detail.
func WriteInvalidPayload(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload", Detail: detail})
}

// WriteNotFound writes a 404 response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Detail: detail})
}

// WriteMethodNotAllowed writes a 405 response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
}

// WriteTooManyRequests writes a 429 response with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limited"})
}

// WriteInternal writes a 500 response. The error is logged, never
// exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}
