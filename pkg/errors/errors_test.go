// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("connection refused")
	he := New(CodeTransport, "health check failed", cause)

	if he.Code != CodeTransport {
		t.Errorf("expected CodeTransport, got %v", he.Code)
	}
	if he.Message != "health check failed" {
		t.Errorf("expected message 'health check failed', got %q", he.Message)
	}
	if !errors.Is(he, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	he := New(CodeToolFailure, "tool failed", nil)
	he.WithContext("tool", "calendar_list_events").
		WithContext("server", "calendar")

	if he.Context["tool"] != "calendar_list_events" {
		t.Errorf("expected context tool to be set")
	}
	if he.Context["server"] != "calendar" {
		t.Errorf("expected context server to be set")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		he       *HiveError
		expected string
	}{
		{
			name:     "with cause",
			he:       New(CodeTimeout, "operation timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] operation timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			he:       New(CodeNotFound, "tool not found", nil),
			expected: "[NOT_FOUND] tool not found",
		},
		{
			name:     "formatted",
			he:       Errorf(CodeHandover, "unknown agent %q", "billing"),
			expected: `[HANDOVER_ERROR] unknown agent "billing"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.he.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAsHiveError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "already HiveError", err: New(CodeUnauthorized, "no token", nil), expected: CodeUnauthorized},
		{name: "wrapped HiveError", err: fmt.Errorf("call: %w", New(CodeProtocol, "bad", nil)), expected: CodeProtocol},
		{name: "generic error", err: errors.New("generic"), expected: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := AsHiveError(tt.err)
			if tt.expected == "" {
				if he != nil {
					t.Errorf("expected nil for nil error")
				}
				return
			}
			if he == nil || he.Code != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, he)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	inner := New(CodeTimeout, "slow", nil)
	outer := New(CodeToolFailure, "tool failed", inner)

	if !IsCode(outer, CodeToolFailure) {
		t.Errorf("expected outer code to match")
	}
	if !IsCode(outer, CodeTimeout) {
		t.Errorf("expected nested code to match")
	}
	if IsCode(outer, CodeUnauthorized) {
		t.Errorf("did not expect CodeUnauthorized")
	}
	if IsCode(errors.New("plain"), CodeInternal) {
		t.Errorf("plain errors carry no code")
	}
	if CodeOf(fmt.Errorf("x: %w", outer)) != CodeToolFailure {
		t.Errorf("expected CodeOf to return outermost code")
	}
}

func TestMarshalJSON(t *testing.T) {
	he := New(CodeToolFailure, "tool failed", errors.New("network error"))
	he.WithContext("tool", "search_web").WithRecoverable(true)

	data, err := json.Marshal(he)
	if err != nil {
		t.Fatalf("unexpected error marshaling: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}

	if result["code"] != "TOOL_FAILURE" {
		t.Errorf("expected code 'TOOL_FAILURE', got %v", result["code"])
	}
	if result["recoverable"] != true {
		t.Errorf("expected recoverable true")
	}
	if result["error"] != "network error" {
		t.Errorf("expected cause text, got %v", result["error"])
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{CodeNotFound, 404},
		{CodeUnauthorized, 401},
		{CodeConfig, 400},
		{CodeTimeout, 408},
		{CodeTransport, 502},
		{CodeHandover, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if he := New(tt.code, "test", nil); he.StatusCode != tt.expected {
				t.Errorf("expected status %d, got %d", tt.expected, he.StatusCode)
			}
		})
	}
}
