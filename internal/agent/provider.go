package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/tinker/pkg/models"
)

// Provider abstracts a model backend. Implementations translate between the
// engine's message types and the provider wire format.
type Provider interface {
	// Name returns the provider identifier, e.g. "anthropic" or "openai".
	Name() string

	// Complete performs a single model round trip. The returned completion
	// carries assistant text, any requested tool calls, and token usage.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// CompletionRequest is a provider-agnostic model request.
type CompletionRequest struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// System is the system prompt.
	System string

	// Messages is the conversation history, oldest first.
	Messages []models.Message

	// Tools are the tool definitions advertised to the model.
	Tools []ToolDefinition

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Completion is the provider-agnostic result of a model round trip.
type Completion struct {
	// Text is the assistant's text content, possibly empty when the model
	// only requests tools.
	Text string

	// ToolCalls are the tool invocations the model requested, in the order
	// the model emitted them.
	ToolCalls []models.ToolCall

	// StopReason describes why the model stopped, e.g. "end_turn" or
	// "tool_use".
	StopReason string

	// Usage reports token consumption for this round trip.
	Usage models.TokenUsage
}

// ToolDefinition is the provider-facing description of a registered tool.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Tool is the execution interface implemented by every tool.
type Tool interface {
	// Name returns the tool's unique name.
	Name() string

	// Description returns a model-facing description of the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with JSON parameters. A failed run returns a
	// result with IsError set rather than an error when the failure should
	// be surfaced to the model; errors are reserved for infrastructure
	// failures eligible for retry.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the raw output of a single tool execution.
type ToolResult struct {
	// Content is the tool output to return to the model.
	Content string

	// IsError marks the content as an error message.
	IsError bool
}

// HistorySink receives messages as the loop appends them. The loop is the
// only writer; sinks observe but never mutate history.
type HistorySink interface {
	Append(ctx context.Context, msg models.Message) error
}

// Confirmer resolves approval requests for tool calls the permission gate
// could not decide. A nil confirmer makes the engine suspend instead.
type Confirmer interface {
	// Confirm blocks until the user approves or rejects the call.
	// remember requests a session-wide grant for the tool.
	Confirm(ctx context.Context, req ApprovalRequest) (approved bool, remember bool, err error)
}

// ApprovalRequest describes a tool call awaiting user approval.
type ApprovalRequest struct {
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	Risk       models.RiskLevel
	Reason     string
}
