package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// RiskLevel classifies a tool's potential for harmful side effects.
// Levels are ordered: Low < Medium < High.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

// String returns the lowercase name of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseRiskLevel converts a config string into a RiskLevel.
// Unknown values map to RiskHigh so a typo never silently auto-approves.
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	default:
		return RiskHigh
	}
}

// Message is a single entry in conversation history. Messages are immutable
// once appended; history is an append-only ordered sequence owned by the loop.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id,omitempty"`
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Ordinal     int          `json:"ordinal"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ToolCall represents the model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	// DependsOn names other call ids in the same batch that must complete
	// before this call may start.
	DependsOn []string `json:"depends_on,omitempty"`
}

// ResultStatus describes how a tool call concluded.
type ResultStatus string

const (
	StatusOK               ResultStatus = "ok"
	StatusError            ResultStatus = "error"
	StatusDenied           ResultStatus = "denied"
	StatusAwaitingApproval ResultStatus = "awaiting_approval"
	StatusCached           ResultStatus = "cached"
	StatusCancelled        ResultStatus = "cancelled"
)

// ToolResult represents the outcome of a single tool call. Results are
// immutable and appended to history as part of a tool-role Message.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Status     ResultStatus  `json:"status"`
	Content    string        `json:"content"`
	Truncated  bool          `json:"truncated,omitempty"`
	FromCache  bool          `json:"from_cache,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
}

// IsError reports whether the result represents a failure the model should
// see as an error (denied and cancelled calls included).
func (r ToolResult) IsError() bool {
	switch r.Status {
	case StatusOK, StatusCached:
		return false
	default:
		return true
	}
}

// Session represents one conversation thread.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Workspace string         `json:"workspace,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TokenUsage reports tokens consumed by a single provider round-trip.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int { return u.Prompt + u.Completion }
