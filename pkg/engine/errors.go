// Package engine implements the reconciliation core: diff computation
// between desired and observed state, ordered change application against
// the driver collaborators, and the run orchestrator that ties diffing,
// checkpointing, and applying together.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a reconciliation error for propagation policy.
type ErrorClass string

const (
	// ErrorClassValidation indicates malformed desired-state input.
	// Validation errors are pre-run and fatal: the run never starts.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConflict indicates two consumers on one volume disagree
	// on access level. Conflicts are local to the offending declaration.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassSafety indicates an attempted operation matched a
	// forbidden destructive pattern. Always fatal, never suppressed.
	ErrorClassSafety ErrorClass = "safety"

	// ErrorClassDriver indicates a collaborator call failed. Driver
	// failures are isolated to the resource that failed.
	ErrorClassDriver ErrorClass = "driver"

	// ErrorClassRollback indicates checkpoint restoration itself failed,
	// leaving the system in an unknown intermediate state.
	ErrorClassRollback ErrorClass = "rollback"

	// ErrorClassTransient indicates a temporary failure worth retrying,
	// such as a template download timing out.
	ErrorClassTransient ErrorClass = "transient"
)

// Error is a classified reconciliation error with resource context.
type Error struct {
	// Class is the error classification for propagation logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource path or identity that caused the error.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s): %s",
			e.Class, e.Message, e.Resource, e.unwrapMessage())
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewConflictError creates a permission-conflict error.
func NewConflictError(message string, err error) *Error {
	return &Error{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewSafetyError creates a safety-violation error.
func NewSafetyError(message string, err error) *Error {
	return &Error{Class: ErrorClassSafety, Message: message, Err: err}
}

// NewDriverError creates a driver-failure error.
func NewDriverError(message string, err error) *Error {
	return &Error{Class: ErrorClassDriver, Message: message, Err: err}
}

// NewRollbackError creates a rollback-failure error.
func NewRollbackError(message string, err error) *Error {
	return &Error{Class: ErrorClassRollback, Message: message, Err: err}
}

// NewTransientError creates a transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool {
	return hasClass(err, ErrorClassValidation)
}

// IsConflict returns true if the error is a permission conflict.
func IsConflict(err error) bool {
	return hasClass(err, ErrorClassConflict)
}

// IsSafety returns true if the error is a safety violation.
func IsSafety(err error) bool {
	return hasClass(err, ErrorClassSafety)
}

// IsDriver returns true if the error is a driver failure.
func IsDriver(err error) bool {
	return hasClass(err, ErrorClassDriver)
}

// IsRollback returns true if the error is a rollback failure.
func IsRollback(err error) bool {
	return hasClass(err, ErrorClassRollback)
}

// IsRetryable returns true if the error may succeed on retry. Only
// transient failures are retried; everything else surfaces immediately.
func IsRetryable(err error) bool {
	return hasClass(err, ErrorClassTransient)
}

// ClassOf returns the classification of an error. An error chain with
// no classified error in it is treated as a driver failure.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassDriver
}

func hasClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "PERMISSION_CONFLICT"
	ErrCodeSafetyViolation = "SAFETY_VIOLATION"
	ErrCodeDriverFailed    = "DRIVER_FAILED"
	ErrCodeRollbackFailed  = "ROLLBACK_FAILED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeNoCheckpoint    = "NO_CHECKPOINT"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
