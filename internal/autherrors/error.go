package autherrors

import (
	"errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryTimeout     Category = "timeout"
	CategoryCORS        Category = "cors"
	CategoryRateLimit   Category = "rate_limit"
	CategoryUnavailable Category = "unavailable"
	CategoryCredentials Category = "credentials"
	CategoryComponent   Category = "component"
	CategoryConfig      Category = "config"
)

// AuthError is a structured error with a machine-readable code, a recovery
// hint, and a documentation link. It is the single error shape used across
// the resolver, proxy, sync bus, and boundary layers.
type AuthError struct {
	// Code is a stable machine-readable identifier (e.g. "NETWORK_ERROR").
	Code string

	// Category is the error type (network, timeout, etc.).
	Category Category

	// Message is a short human-readable description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Steps are ordered troubleshooting steps for the caller.
	Steps []string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *AuthError) Unwrap() error {
	return e.Wrapped
}

// WithDetail adds a detailed explanation to the error.
func (e *AuthError) WithDetail(d string) *AuthError {
	e.Detail = d
	return e
}

// WithSteps replaces the troubleshooting steps.
func (e *AuthError) WithSteps(steps ...string) *AuthError {
	e.Steps = steps
	return e
}

// Wrap wraps another error.
func (e *AuthError) Wrap(err error) *AuthError {
	e.Wrapped = err
	return e
}

// New creates an AuthError from a registered error code.
func New(code string) *AuthError {
	template, ok := registry[code]
	if !ok {
		return &AuthError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &AuthError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		Steps:    append([]string(nil), template.Steps...),
		DocURL:   template.DocURL,
	}
}

// Newf creates a new AuthError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *AuthError {
	return &AuthError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in an AuthError.
func FromError(err error, code string) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return New(code).Wrap(err)
}

// CodeOf returns the code of err if it is (or wraps) an AuthError.
func CodeOf(err error) (string, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}

// Is reports whether err carries the given error code.
func Is(err error, code string) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}
