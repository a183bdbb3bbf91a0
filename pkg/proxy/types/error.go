package types

import (
	"encoding/json"
	"net/http"

	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/dispatch"
)

// Error type constants matching the client-facing wire format.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypePermission     = "permission_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeRateLimit      = "rate_limit_error"
	ErrorTypeAPI            = "api_error"
	ErrorTypeOverloaded     = "overloaded_error"
)

// errorTypeForStatus maps an HTTP status onto the wire error type.
func errorTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrorTypeInvalidRequest
	case http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case http.StatusForbidden:
		return ErrorTypePermission
	case http.StatusNotFound:
		return ErrorTypeNotFound
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusServiceUnavailable:
		return ErrorTypeOverloaded
	default:
		return ErrorTypeAPI
	}
}

// WriteError writes an A-format error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(anthropic.NewErrorResponse(errorTypeForStatus(status), message))
}

// WriteDispatchError maps a dispatcher failure onto the client surface:
// 400 for bad requests and exhausted pools (429 would trigger SDK retry
// storms), 401/403 for auth, 503 for unreachable upstreams, 500 only for
// internal bugs.
func WriteDispatchError(w http.ResponseWriter, err error) {
	if de, ok := err.(*dispatch.Error); ok {
		status := de.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		WriteError(w, status, de.Message)
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error())
}
