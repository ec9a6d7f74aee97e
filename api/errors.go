package api

import (
	"errors"
	"net/http"

	"github.com/ruteri/qkd-kme/interfaces"
)

// StatusCodeFor maps a KME error to the HTTP status of the ETSI API.
func StatusCodeFor(err error) int {
	var (
		ve *interfaces.ValidationError
		ne *interfaces.NotFoundError
		ae *interfaces.AuthorizationError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve), errors.As(err, &ne):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	default:
		// Pool exhaustion, storage failures and anything unexpected.
		return http.StatusServiceUnavailable
	}
}

// ErrorFor builds the error body for err. Storage and unexpected failures
// are reported without internals.
func ErrorFor(err error) Error {
	var (
		ve *interfaces.ValidationError
		ne *interfaces.NotFoundError
		ae *interfaces.AuthorizationError
	)
	switch {
	case errors.As(err, &ve):
		return Error{Message: ve.Error(), Details: []map[string]any{{"parameter": ve.Field, "reason": ve.Reason}}}
	case errors.As(err, &ne):
		return Error{Message: "key not found", Details: []map[string]any{{"key_ID": ne.KeyID}}}
	case errors.As(err, &ae):
		return Error{Message: "not authorized for requested keys"}
	case errors.Is(err, interfaces.ErrPoolExhausted):
		return Error{Message: "insufficient keys available"}
	default:
		return Error{Message: "internal server error"}
	}
}
