package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorDetail is the body of the standard error envelope.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// ErrorEnvelope wraps every error response: {"detail": {"code", "message", "meta"?}}.
type ErrorEnvelope struct {
	Detail ErrorDetail `json:"detail"`
}

// APIError is a coded error carried from the service layer to the HTTP edge.
// The Code is the stable, machine-readable identifier; Message is advisory.
type APIError struct {
	Status  int
	Code    string
	Message string
	Meta    map[string]any
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// NewAPIError creates an APIError with the given HTTP status, code and message.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// WithMeta attaches a meta key to the error and returns it.
func (e *APIError) WithMeta(key string, value any) *APIError {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

// RespondError writes a coded error envelope.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	Respond(w, status, ErrorEnvelope{Detail: ErrorDetail{Code: code, Message: message}})
}

// RespondAPIError renders err as the error envelope. APIErrors keep their
// status and code; anything else becomes a 500 INTERNAL.
func RespondAPIError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		Respond(w, apiErr.Status, ErrorEnvelope{Detail: ErrorDetail{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Meta:    apiErr.Meta,
		}})
		return
	}
	if logger != nil {
		logger.Error("internal error", "error", err)
	}
	RespondError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
}
