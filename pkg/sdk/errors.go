package ragstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Use errors.Is() to check.
var (
	ErrValidation          = errors.New("invalid query")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInternal            = errors.New("internal error")
	ErrStreamInterrupted   = errors.New("answer stream interrupted")
)

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ragstream: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the HTTP status to a sentinel error.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusGatewayTimeout:
		return ErrUpstreamTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return ErrUpstreamUnavailable
	default:
		return ErrInternal
	}
}
