package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for engine operations
var (
	// ErrMaxRounds indicates the turn exceeded its round-trip limit
	ErrMaxRounds = errors.New("max round trips exceeded")

	// ErrTokenBudget indicates the turn exceeded its token budget
	ErrTokenBudget = errors.New("token budget exceeded")

	// ErrNoProvider indicates no model provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrPermissionDenied indicates the permission gate rejected a tool call
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotSuspended indicates Resume was called with no suspended batch
	ErrNotSuspended = errors.New("no suspended tool batch")

	// ErrTurnActive indicates Advance was called while a turn is suspended
	ErrTurnActive = errors.New("turn suspended awaiting approval")
)

// ToolErrorType categorizes tool execution errors for recovery decisions.
type ToolErrorType string

const (
	// ToolErrorNotFound indicates the tool doesn't exist
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidInput indicates parameters failed schema validation
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorTimeout indicates the tool timed out
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorNetwork indicates a network error
	ToolErrorNetwork ToolErrorType = "network"

	// ToolErrorPermission indicates the permission gate denied the call
	ToolErrorPermission ToolErrorType = "permission"

	// ToolErrorRateLimit indicates the tool was rate limited
	ToolErrorRateLimit ToolErrorType = "rate_limit"

	// ToolErrorExecution indicates a runtime error during execution
	ToolErrorExecution ToolErrorType = "execution"

	// ToolErrorPanic indicates the tool panicked
	ToolErrorPanic ToolErrorType = "panic"

	// ToolErrorCancelled indicates the call was cancelled
	ToolErrorCancelled ToolErrorType = "cancelled"

	// ToolErrorUnknown indicates an unclassified error
	ToolErrorUnknown ToolErrorType = "unknown"
)

// IsRetryable returns true if this error type suggests retrying may succeed.
// Timeout, network, and rate limit errors are considered retryable.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError represents a structured error from tool execution with
// categorization for recovery decisions and context about the failure.
type ToolError struct {
	// Type categorizes the error
	Type ToolErrorType

	// ToolName is the name of the tool that failed
	ToolName string

	// ToolCallID is the ID of the tool call that failed
	ToolCallID string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error

	// Retryable indicates if this error should be retried
	Retryable bool

	// Attempts is the number of attempts made
	Attempts int
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))

	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a new ToolError with automatic classification.
// The error type is inferred from the cause's error message.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorUnknown,
		Attempts: 1,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Type = ClassifyToolError(cause)
		err.Retryable = err.Type.IsRetryable()
	}

	return err
}

// WithType sets the error type and updates retryable status accordingly.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	e.Retryable = t.IsRetryable()
	return e
}

// WithToolCallID sets the tool call ID for correlating errors with specific calls.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithAttempts sets the number of execution attempts that were made.
func (e *ToolError) WithAttempts(n int) *ToolError {
	e.Attempts = n
	return e
}

// ClassifyToolError determines the error type from the error content.
func ClassifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}

	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}
	if errors.Is(err, ErrPermissionDenied) {
		return ToolErrorPermission
	}
	if errors.Is(err, context.Canceled) {
		return ToolErrorCancelled
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return ToolErrorTimeout
	}

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "refused") ||
		strings.Contains(errStr, "unreachable") {
		return ToolErrorNetwork
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return ToolErrorRateLimit
	}

	if strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "access denied") {
		return ToolErrorPermission
	}

	if strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "validation") ||
		strings.Contains(errStr, "required") ||
		strings.Contains(errStr, "missing") {
		return ToolErrorInvalidInput
	}

	return ToolErrorExecution
}

// GetToolError extracts a ToolError from an error chain using errors.As.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// IsToolRetryable checks if a tool error should be retried based on its type.
func IsToolRetryable(err error) bool {
	if toolErr, ok := GetToolError(err); ok {
		return toolErr.Retryable
	}
	return ClassifyToolError(err).IsRetryable()
}

// TurnError represents an error during a conversation turn with context
// about which phase and round trip it occurred in.
type TurnError struct {
	// Phase is the turn phase where the error occurred
	Phase TurnPhase

	// Round is the round trip where the error occurred
	Round int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("turn error at %s (round %d): %s", e.Phase, e.Round, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("turn error at %s (round %d): %v", e.Phase, e.Round, e.Cause)
	}
	return fmt.Sprintf("turn error at %s (round %d)", e.Phase, e.Round)
}

// Unwrap returns the underlying error.
func (e *TurnError) Unwrap() error {
	return e.Cause
}

// TurnPhase represents a distinct phase of a conversation turn.
type TurnPhase string

const (
	// PhaseInit is the initialization phase
	PhaseInit TurnPhase = "init"

	// PhaseComplete is the provider completion phase
	PhaseComplete TurnPhase = "complete"

	// PhaseExecuteTools is the tool execution phase
	PhaseExecuteTools TurnPhase = "execute_tools"

	// PhaseResume is the post-approval resume phase
	PhaseResume TurnPhase = "resume"
)
