// Package errors provides structured error codes for the collaboration core.
// Codes classify failures so HTTP handlers and logs can surface them uniformly.
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Authentication errors
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeTokenExpired    ErrorCode = "TOKEN_EXPIRED"
	ErrCodeTokenRevoked    ErrorCode = "TOKEN_REVOKED"
	ErrCodeNoCredential    ErrorCode = "NO_CREDENTIAL"

	// Session store errors
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// File tree errors
	ErrCodePathConflict ErrorCode = "PATH_CONFLICT"
	ErrCodeInvalidPath  ErrorCode = "INVALID_PATH"
	ErrCodeFileNotFound ErrorCode = "FILE_NOT_FOUND"

	// Channel errors
	ErrCodeMalformedAIPayload ErrorCode = "MALFORMED_AI_PAYLOAD"
	ErrCodeChannelClosed      ErrorCode = "CHANNEL_CLOSED"

	// Sandbox errors
	ErrCodeSandboxUnavailable ErrorCode = "SANDBOX_UNAVAILABLE"
	ErrCodeRunFailed          ErrorCode = "RUN_FAILED"

	// Storage errors
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured devmate error
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	UserMessage string
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap wraps an existing error with devmate error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the human-friendly message returned to users.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	devErr, ok := err.(*Error)
	if !ok {
		return false
	}

	return devErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	devErr, ok := err.(*Error)
	if !ok {
		return ErrCodeInternal
	}

	return devErr.Code
}
