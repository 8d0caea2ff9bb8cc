// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling for the hive gateway.
//
// Every failure that crosses a package boundary is a *HiveError carrying an
// ErrorCode, so callers can branch on the failure class (configuration,
// transport, protocol, auth, handover) without string matching.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies hive errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeConfig indicates invalid configuration detected at construction or spawn time.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeTransport indicates a network or HTTP-level failure talking to a tool server.
	CodeTransport ErrorCode = "TRANSPORT_ERROR"

	// CodeProtocol indicates a JSON-RPC error object or an unparseable response.
	CodeProtocol ErrorCode = "PROTOCOL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeToolFailure indicates a tool execution failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnauthorized indicates a credential was required but missing.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeHandover indicates a handover could not be resolved to a known agent.
	CodeHandover ErrorCode = "HANDOVER_ERROR"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"
)

// HiveError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type HiveError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *HiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *HiveError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *HiveError) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
	})
}

// New creates a new HiveError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *HiveError {
	return &HiveError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// Errorf creates a HiveError without a cause using a format string.
func Errorf(code ErrorCode, format string, args ...any) *HiveError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *HiveError) WithContext(key string, value interface{}) *HiveError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *HiveError) WithRecoverable(recoverable bool) *HiveError {
	e.Recoverable = recoverable
	return e
}

// AsHiveError attempts to convert an error to a HiveError.
// Returns the error as HiveError if one is in the chain, or wraps it otherwise.
func AsHiveError(err error) *HiveError {
	if err == nil {
		return nil
	}
	var he *HiveError
	if stderrors.As(err, &he) {
		return he
	}
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether any HiveError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var he *HiveError
		if !stderrors.As(err, &he) {
			return false
		}
		if he.Code == code {
			return true
		}
		err = he.Err
	}
	return false
}

// CodeOf returns the code of the outermost HiveError in err's chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var he *HiveError
	if stderrors.As(err, &he) {
		return he.Code
	}
	return CodeInternal
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *HiveError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeInvalidInput, CodeConfig:
		return 400
	case CodeTimeout:
		return 408
	case CodeTransport, CodeProtocol:
		return 502
	default:
		return 500
	}
}
