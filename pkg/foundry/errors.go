package foundry

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrService is the base error for Foundry service failures.
	ErrService = errors.New("foundry service error")

	// ErrAuth indicates an authentication or authorization failure.
	ErrAuth = fmt.Errorf("%w: authentication", ErrService)

	// ErrInvalidRequest indicates the request was malformed or rejected.
	ErrInvalidRequest = fmt.Errorf("%w: invalid request", ErrService)

	// ErrNotFound indicates the addressed resource does not exist.
	ErrNotFound = fmt.Errorf("%w: not found", ErrService)

	// ErrThrottled indicates the project is rate limiting requests.
	ErrThrottled = fmt.Errorf("%w: throttled", ErrService)

	// ErrResponseFailed indicates a model response finished in a failed
	// or incomplete state.
	ErrResponseFailed = fmt.Errorf("%w: response failed", ErrService)
)

// ServiceError carries the HTTP status, service error code, and request ID
// of a failed Foundry call. Use errors.As to extract it from a wrapped chain.
type ServiceError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("foundry: %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("foundry: %d: %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsNotFound reports whether err represents a 404 from the service.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the request that produced err may succeed on
// a later attempt. Throttling, request timeouts, and server-side failures
// qualify; everything else does not.
func IsRetryable(err error) bool {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return false
	}
	switch {
	case svcErr.StatusCode == http.StatusTooManyRequests:
		return true
	case svcErr.StatusCode == http.StatusRequestTimeout:
		return true
	case svcErr.StatusCode >= 500:
		return true
	}
	return false
}

func sentinelFor(status int, code string) error {
	switch {
	case code == "content_filter":
		return ErrInvalidRequest
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status >= 400 && status < 500:
		return ErrInvalidRequest
	default:
		return ErrService
	}
}
