// Error types and handling
package llm

import (
	"errors"
	"fmt"
)

// Error type identifiers used in Error.Type
const (
	ErrorTypeCapability     = "capability_error"
	ErrorTypeValidation     = "validation_error"
	ErrorTypeRateLimit      = "rate_limit_error"
	ErrorTypeTimeout        = "timeout_error"
	ErrorTypeServer         = "server_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypeAPI            = "api_error"
	ErrorTypeInternal       = "internal_error"
)

// Error represents a standardized LLM error
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	StatusCode int    `json:"status_code,omitempty"`

	// Err is the underlying provider error, if any
	Err error `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying provider error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so the
// sentinel errors below can be matched with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of the error with detail appended to its message
func (e *Error) WithDetail(format string, args ...any) *Error {
	cp := *e
	cp.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of the error carrying err as its cause
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	if err != nil {
		cp.Message = e.Message + ": " + err.Error()
	}
	return &cp
}

// Sentinel errors. Capability errors are raised before any backend call
// and are never retried.
var (
	ErrStreamingOutputParser = &Error{
		Code:    "streaming_output_parser",
		Message: "output parser is not supported for streaming",
		Type:    ErrorTypeCapability,
	}
	ErrUnsupportedToolChoice = &Error{
		Code:    "unsupported_tool_choice",
		Message: "tool choice is not supported by this provider",
		Type:    ErrorTypeCapability,
	}
	ErrToolConflict = &Error{
		Code:    "tool_conflict",
		Message: "built-in tools cannot be mixed with custom tools",
		Type:    ErrorTypeCapability,
	}
	ErrNotSupported = &Error{
		Code:    "not_supported",
		Message: "operation is not supported by this model",
		Type:    ErrorTypeCapability,
	}
	ErrStructuredOutputMismatch = &Error{
		Code:    "structured_output_mismatch",
		Message: "response does not match the requested output type",
		Type:    ErrorTypeValidation,
	}
	ErrNoToolCalls = &Error{
		Code:    "no_tool_calls",
		Message: "expected at least one tool call",
		Type:    ErrorTypeValidation,
	}
	ErrToolNotFound = &Error{
		Code:    "tool_not_found",
		Message: "tool not found",
		Type:    ErrorTypeValidation,
	}
	ErrEmptyMessages = &Error{
		Code:       "invalid_request",
		Message:    "no valid messages provided",
		Type:       ErrorTypeValidation,
		StatusCode: 400,
	}
)

// IsCapabilityError reports whether err is a capability violation
func IsCapabilityError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrorTypeCapability
}

// ValidationError is returned when model output cannot be parsed into the
// requested shape.
type ValidationError struct {
	// Output is the raw text that failed to validate
	Output string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("output validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
