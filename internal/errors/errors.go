package errors

import (
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Error codes. The three engine codes are the recoverable conditions the
// caller is expected to translate into user-facing messages; each carries
// the metric, variant, or numeric constraint that was violated.
const (
	CodeParameterError   = "PARAMETER_ERROR"
	CodeDataError        = "DATA_ERROR"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Parameter reports an invalid numeric input (out-of-range probability,
// non-positive count, zero effect and the like).
func Parameter(format string, args ...interface{}) *AppError {
	return New(CodeParameterError, fmt.Sprintf(format, args...))
}

// Data reports malformed or inconsistent input records.
func Data(format string, args ...interface{}) *AppError {
	return New(CodeDataError, fmt.Sprintf(format, args...))
}

// InsufficientData reports statistically degenerate input: too few
// observations, or zero variance where the test statistic needs variance.
func InsufficientData(format string, args ...interface{}) *AppError {
	return New(CodeInsufficientData, fmt.Sprintf(format, args...))
}

// ConfigInvalid reports a bad configuration value.
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

// InvalidInput reports a malformed request at the transport boundary.
func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// IsParameter reports whether err is a parameter error.
func IsParameter(err error) bool { return GetCode(err) == CodeParameterError }

// IsData reports whether err is a data error.
func IsData(err error) bool { return GetCode(err) == CodeDataError }

// IsInsufficientData reports whether err is an insufficient-data error.
func IsInsufficientData(err error) bool { return GetCode(err) == CodeInsufficientData }
