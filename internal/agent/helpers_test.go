package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/haasonsaas/tinker/pkg/models"
)

// fakeTool is a scriptable tool for scheduler and loop tests.
type fakeTool struct {
	name   string
	schema json.RawMessage
	exec   func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool " + f.name }

func (f *fakeTool) Schema() json.RawMessage {
	if f.schema != nil {
		return f.schema
	}
	return json.RawMessage(`{"type":"object"}`)
}

func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if f.exec == nil {
		return &ToolResult{Content: "ok"}, nil
	}
	return f.exec(ctx, params)
}

// fakeProvider returns scripted completions in order, then repeats the last.
type fakeProvider struct {
	mu          sync.Mutex
	completions []func() (*Completion, error)
	calls       int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	if idx >= len(f.completions) {
		idx = len(f.completions) - 1
	}
	fn := f.completions[idx]
	f.mu.Unlock()
	return fn()
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func textCompletion(text string) func() (*Completion, error) {
	return func() (*Completion, error) {
		return &Completion{
			Text:       text,
			StopReason: "end_turn",
			Usage:      models.TokenUsage{Prompt: 10, Completion: 5},
		}, nil
	}
}

func toolCompletion(calls ...models.ToolCall) func() (*Completion, error) {
	return func() (*Completion, error) {
		return &Completion{
			ToolCalls:  calls,
			StopReason: "tool_use",
			Usage:      models.TokenUsage{Prompt: 20, Completion: 10},
		}, nil
	}
}

// fakeConfirmer answers every approval request the same way.
type fakeConfirmer struct {
	approve  bool
	remember bool
	asked    []ApprovalRequest
	mu       sync.Mutex
}

func (f *fakeConfirmer) Confirm(ctx context.Context, req ApprovalRequest) (bool, bool, error) {
	f.mu.Lock()
	f.asked = append(f.asked, req)
	f.mu.Unlock()
	return f.approve, f.remember, nil
}

// openPolicy auto-approves everything.
func openPolicy() GatePolicy {
	return GatePolicy{AutoApproveBelow: models.RiskHigh, AllowSessionGrants: true}
}

// guardedPolicy auto-approves only low risk.
func guardedPolicy() GatePolicy {
	return GatePolicy{AutoApproveBelow: models.RiskLow, AllowSessionGrants: true}
}

func call(id, name, input string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}
}
