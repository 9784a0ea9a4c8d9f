package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary platform failure that may succeed on retry.
	// Examples: network timeouts, 5xx responses from the controller.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting by the controller.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates the platform rejected a request because of
	// a competing operation on the same entity.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassAuthentication indicates a missing or unusable credential.
	ErrorClassAuthentication ErrorClass = "authentication"

	// ErrorClassTimeout indicates a step exceeded its time budget.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassConcurrentModification indicates live state changed between
	// reads, e.g. a binding vanished while its parameters were being fetched.
	ErrorClassConcurrentModification ErrorClass = "concurrent_modification"

	// ErrorClassUnsupported indicates the platform does not offer a capability.
	ErrorClassUnsupported ErrorClass = "unsupported"

	// ErrorClassOptionalResource indicates a failure on a resource marked optional.
	ErrorClassOptionalResource ErrorClass = "optional_resource"

	// ErrorClassPolicy indicates an action was denied by a policy.
	ErrorClassPolicy ErrorClass = "policy"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the name of the step that observed the error.
	Step string `json:"step,omitempty"`

	// Application is the application the failing action targeted.
	Application string `json:"application,omitempty"`

	// Service is the service instance the failing action targeted.
	Service string `json:"service,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	var ctx []string
	if e.Step != "" {
		ctx = append(ctx, "step="+e.Step)
	}
	if e.Application != "" {
		ctx = append(ctx, "app="+e.Application)
	}
	if e.Service != "" {
		ctx = append(ctx, "service="+e.Service)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, "", message, err)
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return newError(ErrorClassThrottled, ErrCodeRateLimited, message, err)
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return newError(ErrorClassConflict, ErrCodeConflict, message, err)
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, "", message, err)
}

// NewAuthenticationError creates an error for a missing or expired credential.
func NewAuthenticationError(message string, err error) *EngineError {
	return newError(ErrorClassAuthentication, ErrCodeAuthentication, message, err)
}

// NewTimeoutError creates the error reported when a step exhausts its budget.
func NewTimeoutError(step string) *EngineError {
	e := newError(ErrorClassTimeout, ErrCodeTimeout,
		fmt.Sprintf("execution of step %q has timed out", step), nil)
	e.Step = step
	return e
}

// NewConcurrentModificationError creates the error reported when the binding
// between app and service disappears while it is being inspected.
func NewConcurrentModificationError(app, service string) *EngineError {
	e := newError(ErrorClassConcurrentModification, ErrCodeConcurrentModification,
		fmt.Sprintf("application %q was unbound from service %q in parallel", app, service), nil)
	e.Application = app
	e.Service = service
	return e
}

// NewUnsupportedError creates an error for a capability the platform lacks.
func NewUnsupportedError(message string, err error) *EngineError {
	return newError(ErrorClassUnsupported, ErrCodeUnsupported, message, err)
}

// NewOptionalResourceError wraps a failure on an optional service.
func NewOptionalResourceError(message string, err error) *EngineError {
	return newError(ErrorClassOptionalResource, "", message, err)
}

// NewPolicyError creates an error for an action denied by policy.
func NewPolicyError(message string) *EngineError {
	return newError(ErrorClassPolicy, ErrCodePolicyViolation, message, nil)
}

// Wrap adds a message to err while keeping its classification. Errors that
// carry no class are treated as permanent.
func Wrap(err error, message string) *EngineError {
	class := ClassOf(err)
	if class == "" {
		class = ErrorClassPermanent
	}
	return newError(class, "", message, err)
}

// WithStep adds step context to an error. An existing step is kept, so the
// identity is attached once even when the error crosses several boundaries.
func (e *EngineError) WithStep(step string) *EngineError {
	if e.Step == "" {
		e.Step = step
	}
	return e
}

// WithApplication adds application context to an error.
func (e *EngineError) WithApplication(app string) *EngineError {
	e.Application = app
	return e
}

// WithService adds service context to an error.
func (e *EngineError) WithService(service string) *EngineError {
	e.Service = service
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first EngineError in the chain, or the
// empty class when err carries none.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return ClassOf(err) == ErrorClassTransient
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	return ClassOf(err) == ErrorClassThrottled
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return ClassOf(err) == ErrorClassConflict
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return ClassOf(err) == ErrorClassPermanent
}

// IsAuthentication returns true for missing or expired credentials.
func IsAuthentication(err error) bool {
	return ClassOf(err) == ErrorClassAuthentication
}

// IsTimeout returns true if a step ran out of time.
func IsTimeout(err error) bool {
	return ClassOf(err) == ErrorClassTimeout
}

// IsConcurrentModification returns true if live state changed underneath a read.
func IsConcurrentModification(err error) bool {
	return ClassOf(err) == ErrorClassConcurrentModification
}

// IsUnsupported returns true if the platform lacks the requested capability.
func IsUnsupported(err error) bool {
	return ClassOf(err) == ErrorClassUnsupported
}

// IsPolicyViolation returns true if a policy denied the action.
func IsPolicyViolation(err error) bool {
	return ClassOf(err) == ErrorClassPolicy
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ErrorClassTransient, ErrorClassThrottled, ErrorClassConflict:
		return true
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeTimeout                = "TIMEOUT"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodeConflict               = "CONFLICT"
	ErrCodeInternal               = "INTERNAL_ERROR"
	ErrCodeAuthentication         = "NO_VALID_TOKEN"
	ErrCodeTokenExpired           = "TOKEN_EXPIRED"
	ErrCodeConcurrentModification = "UNBOUND_IN_PARALLEL"
	ErrCodeUnsupported            = "UNSUPPORTED"
	ErrCodePolicyViolation        = "POLICY_VIOLATION"
	ErrCodeClientCreation         = "CLIENT_CREATION_FAILED"
)
