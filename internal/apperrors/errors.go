package apperrors

import (
	"errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation = "E100"
	CodeConflict   = "E150"
	CodeExternal   = "E300"
	CodeInvariant  = "E900"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: fmt.Sprintf("invalid input: %s", msg),
		Severity:    SeverityLow,
	}
}

// NewConflictError covers expected races such as duplicate keys and serialization retries.
func NewConflictError(msg string, cause error) *AppError {
	return &AppError{
		Code:        CodeConflict,
		Message:     msg,
		UserMessage: "concurrent update, try again",
		Severity:    SeverityLow,
		Retryable:   true,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:        CodeExternal,
		Message:     fmt.Sprintf("external api error: %s", apiName),
		UserMessage: "service temporarily unavailable",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

// NewInvariantError marks a broken ledger invariant. These abort the operation and page someone.
func NewInvariantError(msg string) *AppError {
	return &AppError{
		Code:        CodeInvariant,
		Message:     fmt.Sprintf("invariant violated: %s", msg),
		UserMessage: "internal consistency error",
		Severity:    SeverityCritical,
	}
}

func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func IsInvariant(err error) bool {
	return HasCode(err, CodeInvariant)
}

func IsExternal(err error) bool {
	return HasCode(err, CodeExternal)
}
