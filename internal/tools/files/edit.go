package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/tinker/internal/agent"
)

// EditTool applies exact-string replacements to a file. A non-unique
// old_text is rejected unless replace_all is set, so an edit never
// lands somewhere the model did not intend.
type EditTool struct {
	resolver Resolver
}

func NewEditTool(cfg Config) *EditTool {
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *EditTool) Name() string { return "edit_file" }

func (t *EditTool) Description() string {
	return "Replace an exact text snippet in a workspace file. old_text must match exactly once unless replace_all is set."
}

func (t *EditTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, relative to the workspace root.",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "Exact text to replace.",
				"minLength":   1,
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "Replacement text.",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "Replace every occurrence (default: false, old_text must be unique).",
			},
		},
		"required":             []string{"path", "old_text", "new_text"},
		"additionalProperties": false,
	})
}

func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path       string `json:"path"`
		OldText    string `json:"old_text"`
		NewText    string `json:"new_text"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return fail("invalid parameters: %v", err), nil
	}
	if input.OldText == "" {
		return fail("old_text is required"), nil
	}
	if input.OldText == input.NewText {
		return fail("old_text and new_text are identical"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return fail("%v", err), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fail("read %s: %v", input.Path, err), nil
	}
	content := string(data)

	count := strings.Count(content, input.OldText)
	switch {
	case count == 0:
		return fail("old_text not found in %s", input.Path), nil
	case count > 1 && !input.ReplaceAll:
		return fail("old_text matches %d times in %s, pass replace_all or a longer snippet", count, input.Path), nil
	}

	replaced := count
	if input.ReplaceAll {
		content = strings.ReplaceAll(content, input.OldText, input.NewText)
	} else {
		content = strings.Replace(content, input.OldText, input.NewText, 1)
		replaced = 1
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fail("write %s: %v", input.Path, err), nil
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("replaced %d occurrence(s) in %s", replaced, input.Path),
	}, nil
}
