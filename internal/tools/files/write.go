package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/tinker/internal/agent"
)

// WriteTool creates or overwrites files inside the workspace.
type WriteTool struct {
	resolver Resolver
}

func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *WriteTool) Name() string { return "write_file" }

func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace, creating parent directories as needed."
}

func (t *WriteTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, relative to the workspace root.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full file contents to write.",
			},
			"append": map[string]any{
				"type":        "boolean",
				"description": "Append to the file instead of overwriting (default: false).",
			},
		},
		"required":             []string{"path", "content"},
		"additionalProperties": false,
	})
}

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return fail("invalid parameters: %v", err), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return fail("%v", err), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fail("create parent directory: %v", err), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if input.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return fail("open %s: %v", input.Path, err), nil
	}
	defer f.Close()

	n, err := f.WriteString(input.Content)
	if err != nil {
		return fail("write %s: %v", input.Path, err), nil
	}

	verb := "wrote"
	if input.Append {
		verb = "appended"
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("%s %d bytes to %s", verb, n, input.Path),
	}, nil
}
