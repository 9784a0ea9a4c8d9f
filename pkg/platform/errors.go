package platform

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
)

// StatusError is a non-2xx controller response.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: controller responded %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: controller responded %d: %s", e.Operation, e.StatusCode, e.Body)
}

// ErrNotFound marks lookups of entities that do not exist.
var ErrNotFound = errors.New("not found")

// classify wraps a controller response error into the engine taxonomy. The
// StatusError stays reachable with errors.As.
func classify(operation string, status int, body string) error {
	se := &StatusError{Operation: operation, StatusCode: status, Body: body}
	msg := fmt.Sprintf("controller operation %q failed", operation)

	switch {
	case status == http.StatusNotFound:
		return engine.NewPermanentError(msg, errors.Join(ErrNotFound, se)).WithCode(engine.ErrCodeNotFound)
	case status == http.StatusTooManyRequests:
		return engine.NewThrottledError(msg, se)
	case status == http.StatusConflict:
		return engine.NewConflictError(msg, se)
	case status == http.StatusNotImplemented:
		return engine.NewUnsupportedError(msg, se)
	case status >= 500:
		return engine.NewTransientError(msg, se).WithCode(engine.ErrCodeInternal)
	default:
		return engine.NewPermanentError(msg, se)
	}
}

// IsNotFound reports whether err is a not-found response.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnsupported reports whether err means the controller lacks a capability.
// Older controllers answer 400 rather than 501 when binding parameters cannot
// be retrieved, so both count.
func IsUnsupported(err error) bool {
	if engine.IsUnsupported(err) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotImplemented || se.StatusCode == http.StatusBadRequest
	}
	return false
}

// StatusCode returns the HTTP status of err, or 0 if err is not a response error.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
