// internal/agent/errors.go
package agent

import (
	"errors"
	"fmt"
)

// ErrorCode is a string type used for structured error reporting in step records.
type ErrorCode string

const (
	ErrCodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
	ErrCodeUnknownTool      ErrorCode = "UNKNOWN_TOOL"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeCancelled        ErrorCode = "CANCELLED"

	// -- Internal System Errors --
	ErrCodeExecutorPanic ErrorCode = "EXECUTOR_PANIC"
)

// ToolError lets a tool attach an ErrorCode to a failure.
type ToolError struct {
	Code ErrorCode
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError wraps err with a code.
func NewToolError(code ErrorCode, err error) error {
	return &ToolError{Code: code, Err: err}
}

// codeOf extracts the ErrorCode carried by err, defaulting to EXECUTION_FAILURE.
func codeOf(err error) ErrorCode {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrCodeExecutionFailure
}
