package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/tinker/internal/agent"
)

const defaultMaxReadBytes = 256 * 1024

// ReadTool reads files inside the workspace, line-addressed so the
// model can page through large files.
type ReadTool struct {
	resolver Resolver
	maxBytes int
}

func NewReadTool(cfg Config) *ReadTool {
	max := cfg.MaxReadBytes
	if max <= 0 {
		max = defaultMaxReadBytes
	}
	return &ReadTool{resolver: Resolver{Root: cfg.Workspace}, maxBytes: max}
}

func (t *ReadTool) Name() string { return "read_file" }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace. Supports line offset and limit for large files."
}

func (t *ReadTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, relative to the workspace root.",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "First line to return, 1-based (default: 1).",
				"minimum":     1,
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to return (default: all).",
				"minimum":     1,
			},
		},
		"required":             []string{"path"},
		"additionalProperties": false,
	})
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return fail("invalid parameters: %v", err), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return fail("%v", err), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return fail("stat %s: %v", input.Path, err), nil
	}
	if info.IsDir() {
		return fail("%s is a directory, use list_dir", input.Path), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fail("read %s: %v", input.Path, err), nil
	}

	lines := strings.Split(string(data), "\n")
	start := input.Offset
	if start < 1 {
		start = 1
	}
	if start > len(lines) {
		return fail("offset %d past end of file (%d lines)", start, len(lines)), nil
	}
	end := len(lines)
	if input.Limit > 0 && start-1+input.Limit < end {
		end = start - 1 + input.Limit
	}

	var b strings.Builder
	truncated := false
	for i := start - 1; i < end; i++ {
		line := lines[i]
		if b.Len()+len(line)+16 > t.maxBytes {
			truncated = true
			break
		}
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	if truncated || end < len(lines) {
		fmt.Fprintf(&b, "... truncated, file has %d lines\n", len(lines))
	}
	return &agent.ToolResult{Content: b.String()}, nil
}
