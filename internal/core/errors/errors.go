package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error represents a structured error with additional context
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code, so the predefined
// errors below work with errors.Is regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of the error carrying additional context
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithError returns a copy of the error wrapping an underlying error
func (e *Error) WithError(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WriteHTTP writes the error to an HTTP response
func (e *Error) WriteHTTP(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")

	statusCode := e.HTTPStatusCode()
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   e.Code,
		"message": e.Message,
		"details": e.Details,
	})
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidAddress, CodeInvalidConfig, CodeValidationFailed, CodeInvalidArguments:
		return http.StatusBadRequest
	case CodeAlreadyWhitelisted:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodePersistenceFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const (
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyWhitelisted = "ALREADY_WHITELISTED"
	CodePersistenceFailed  = "PERSISTENCE_FAILED"
	CodeConfig             = "CONFIG_ERROR"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeUnknownCommand     = "UNKNOWN_COMMAND"
	CodeInvalidArguments   = "INVALID_ARGUMENTS"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
)

// Predefined errors
var (
	ErrInvalidAddress = &Error{
		Code:    CodeInvalidAddress,
		Message: "Invalid IP address",
	}

	ErrNotFound = &Error{
		Code:    CodeNotFound,
		Message: "IP not found in whitelist",
	}

	ErrAlreadyWhitelisted = &Error{
		Code:    CodeAlreadyWhitelisted,
		Message: "IP already in whitelist",
	}

	ErrPersistenceFailed = &Error{
		Code:    CodePersistenceFailed,
		Message: "Failed to persist whitelist",
	}

	ErrInvalidConfig = &Error{
		Code:    CodeInvalidConfig,
		Message: "Invalid configuration format",
	}

	ErrUnknownCommand = &Error{
		Code:    CodeUnknownCommand,
		Message: "No such command",
	}

	ErrForbidden = &Error{
		Code:    CodeForbidden,
		Message: "Your IP is not allowed",
	}

	ErrRateLimitExceeded = &Error{
		Code:    CodeRateLimitExceeded,
		Message: "Rate limit exceeded",
	}
)

// Helper functions for creating errors with context
func NewConfigError(message string, err error) *Error {
	return &Error{
		Code:    CodeConfig,
		Message: message,
		Err:     err,
	}
}

func NewAddressError(input string, err error) *Error {
	return &Error{
		Code:    CodeInvalidAddress,
		Message: fmt.Sprintf("Invalid IP address '%s'", input),
		Details: map[string]interface{}{
			"address": input,
		},
		Err: err,
	}
}

func NewPersistenceError(op, name string, err error) *Error {
	return &Error{
		Code:    CodePersistenceFailed,
		Message: fmt.Sprintf("Failed to %s %s", op, name),
		Details: map[string]interface{}{
			"op":   op,
			"name": name,
		},
		Err: err,
	}
}

func NewArgumentsError(command, message string) *Error {
	return &Error{
		Code:    CodeInvalidArguments,
		Message: fmt.Sprintf("Command '%s': %s", command, message),
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

func NewValidationError(field, message string) *Error {
	return &Error{
		Code:    CodeValidationFailed,
		Message: fmt.Sprintf("Validation failed for field '%s': %s", field, message),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}
