package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeDependency        = "DEPENDENCY_ERROR"
	ErrCodeDecomposition     = "DECOMPOSITION_ERROR"
	ErrCodeToolUnavailable   = "TOOL_UNAVAILABLE"
	ErrCodeToolExecution     = "TOOL_EXECUTION_FAILURE"
	ErrCodeUnknownAction     = "UNKNOWN_ACTION_TYPE"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
)

// StrideError is the structured error type for all engine operations.
type StrideError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  int            `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *StrideError) Error() string {
	if e.StepID != 0 {
		return fmt.Sprintf("[%s] step %d: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *StrideError) Unwrap() error {
	return e.Cause
}

// NewError creates a new StrideError.
func NewError(code, message string) *StrideError {
	return &StrideError{Code: code, Message: message}
}

// NewErrorf creates a new StrideError with a formatted message.
func NewErrorf(code, format string, args ...any) *StrideError {
	return &StrideError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *StrideError) WithStep(stepID int) *StrideError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *StrideError) WithCause(err error) *StrideError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *StrideError) WithDetails(details map[string]any) *StrideError {
	e.Details = details
	return e
}

// CodeOf returns the stride error code of err, or "" if err is not a StrideError.
func CodeOf(err error) string {
	if se, ok := err.(*StrideError); ok {
		return se.Code
	}
	return ""
}
