package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/homeflow/internal/anomaly"
	"github.com/nerrad567/homeflow/internal/automation"
	"github.com/nerrad567/homeflow/internal/device"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeLocked       = "locked"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUpstream     = "upstream_error"
	ErrCodeUnavailable  = "unavailable"
)

// lockedMessage is the user-facing text for an arbiter denial.
const lockedMessage = "device restricted"

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a domain sentinel to an HTTP status. Order matters:
// a rule naming an unknown device wraps both ErrInvalidRuleDefinition and
// ErrDeviceNotFound and is a 400.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, automation.ErrInvalidRuleDefinition):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, device.ErrTypeMismatch),
		errors.Is(err, device.ErrOutOfRange),
		errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrInvalidDeviceType),
		errors.Is(err, anomaly.ErrInvalidFeedback):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, device.ErrLocked):
		writeError(w, http.StatusLocked, ErrCodeLocked, lockedMessage)
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, automation.ErrRuleNotFound),
		errors.Is(err, automation.ErrRoutineNotFound),
		errors.Is(err, automation.ErrScenarioNotFound),
		errors.Is(err, automation.ErrSuggestionNotFound),
		errors.Is(err, anomaly.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, automation.ErrAutomationExists),
		errors.Is(err, automation.ErrRoutineDisabled),
		errors.Is(err, anomaly.ErrAlertClosed):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, automation.ErrSuggestionService):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w, "internal server error")
	}
}
