// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind shared.ErrorKind) int {
	switch kind {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindConflict:
		return http.StatusConflict
	case shared.KindInvalidState:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
		return
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}

	kind := shared.KindOf(err)
	status := StatusFor(kind)
	problem := ProblemDetail{Title: http.StatusText(status), Status: status, Kind: string(kind)}
	switch kind {
	case shared.KindInternal:
		// internal failures stay opaque
	case shared.KindValidation:
		problem.Detail = err.Error()
		var vErr *shared.ValidationError
		if errors.As(err, &vErr) {
			problem.Field = vErr.Field
		}
	default:
		problem.Detail = err.Error()
	}
	if shared.IsRetryable(err) {
		problem.Retryable = true
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, problem)
}
