package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyToolError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ToolErrorType
	}{
		{"nil", nil, ToolErrorUnknown},
		{"not found sentinel", fmt.Errorf("lookup: %w", ErrToolNotFound), ToolErrorNotFound},
		{"timeout sentinel", ErrToolTimeout, ToolErrorTimeout},
		{"panic sentinel", fmt.Errorf("%w: nil deref", ErrToolPanic), ToolErrorPanic},
		{"permission sentinel", ErrPermissionDenied, ToolErrorPermission},
		{"context cancelled", context.Canceled, ToolErrorCancelled},
		{"deadline text", errors.New("context deadline exceeded"), ToolErrorTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), ToolErrorNetwork},
		{"rate limited", errors.New("429 too many requests"), ToolErrorRateLimit},
		{"forbidden", errors.New("403 forbidden"), ToolErrorPermission},
		{"validation", errors.New("missing required field path"), ToolErrorInvalidInput},
		{"generic", errors.New("something broke"), ToolErrorExecution},
	}
	for _, tt := range tests {
		if got := ClassifyToolError(tt.err); got != tt.want {
			t.Errorf("%s: ClassifyToolError() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestToolErrorTypeRetryable(t *testing.T) {
	retryable := []ToolErrorType{ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit}
	for _, typ := range retryable {
		if !typ.IsRetryable() {
			t.Errorf("%s should be retryable", typ)
		}
	}
	terminal := []ToolErrorType{ToolErrorNotFound, ToolErrorInvalidInput, ToolErrorPermission, ToolErrorPanic, ToolErrorExecution, ToolErrorCancelled}
	for _, typ := range terminal {
		if typ.IsRetryable() {
			t.Errorf("%s should not be retryable", typ)
		}
	}
}

func TestToolErrorFormatting(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewToolError("web_fetch", cause).WithToolCallID("c9").WithAttempts(3)

	msg := err.Error()
	if !strings.Contains(msg, "[tool:network]") {
		t.Errorf("message missing type: %q", msg)
	}
	if !strings.Contains(msg, "web_fetch") {
		t.Errorf("message missing tool name: %q", msg)
	}
	if !strings.Contains(msg, "attempts=3") {
		t.Errorf("message missing attempts: %q", msg)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap chain broken")
	}
	if !err.Retryable {
		t.Error("network error should be retryable")
	}
}

func TestGetToolError(t *testing.T) {
	inner := NewToolError("shell", errors.New("boom"))
	wrapped := fmt.Errorf("batch item 2: %w", inner)

	got, ok := GetToolError(wrapped)
	if !ok || got.ToolName != "shell" {
		t.Errorf("GetToolError = %+v, %v", got, ok)
	}
	if _, ok := GetToolError(errors.New("plain")); ok {
		t.Error("plain error misidentified as ToolError")
	}
}

func TestTurnErrorFormatting(t *testing.T) {
	err := &TurnError{Phase: PhaseExecuteTools, Round: 2, Cause: ErrMaxRounds}
	if !strings.Contains(err.Error(), "execute_tools") || !strings.Contains(err.Error(), "round 2") {
		t.Errorf("message = %q", err.Error())
	}
	if !errors.Is(err, ErrMaxRounds) {
		t.Error("Unwrap chain broken")
	}
}
