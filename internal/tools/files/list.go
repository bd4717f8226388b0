package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/haasonsaas/tinker/internal/agent"
)

const maxListEntries = 500

// ListTool lists directory entries inside the workspace.
type ListTool struct {
	resolver Resolver
}

func NewListTool(cfg Config) *ListTool {
	return &ListTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *ListTool) Name() string { return "list_dir" }

func (t *ListTool) Description() string {
	return "List the entries of a workspace directory. Directories are suffixed with a slash."
}

func (t *ListTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path, relative to the workspace root (default: workspace root).",
			},
		},
		"additionalProperties": false,
	})
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return fail("invalid parameters: %v", err), nil
		}
	}
	if input.Path == "" {
		input.Path = "."
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return fail("%v", err), nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return fail("list %s: %v", input.Path, err), nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	shown := 0
	for _, entry := range entries {
		if shown >= maxListEntries {
			fmt.Fprintf(&b, "... %d more entries\n", len(entries)-shown)
			break
		}
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		b.WriteString(name)
		b.WriteByte('\n')
		shown++
	}
	if shown == 0 {
		return &agent.ToolResult{Content: "(empty directory)"}, nil
	}
	return &agent.ToolResult{Content: b.String()}, nil
}
