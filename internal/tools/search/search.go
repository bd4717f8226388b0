// Package search provides a workspace text search tool backed by Go
// regular expressions.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haasonsaas/tinker/internal/agent"
	"github.com/haasonsaas/tinker/pkg/models"
)

const (
	defaultMaxMatches  = 100
	maxScanFileBytes   = 1 << 20 // files larger than 1MiB are skipped
	maxMatchLineLength = 500
)

// Tool searches workspace files line by line for a regular expression.
type Tool struct {
	root string
}

// New creates a search tool scoped to the workspace root.
func New(workspace string) *Tool {
	if workspace == "" {
		workspace = "."
	}
	return &Tool{root: workspace}
}

// Register adds the search tool to the registry.
func Register(reg *agent.Registry, workspace string) error {
	return reg.Register(New(workspace), agent.Descriptor{
		Risk:     models.RiskLow,
		ReadOnly: true,
	})
}

func (t *Tool) Name() string { return "search" }

func (t *Tool) Description() string {
	return "Search workspace files for a regular expression. Returns matching lines as path:line:text."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Go regular expression to search for.",
				"minLength":   1,
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Only search files whose base name matches this glob (e.g. *.go).",
			},
			"max_matches": map[string]any{
				"type":        "integer",
				"description": "Stop after this many matches (default: 100).",
				"minimum":     1,
			},
		},
		"required":             []string{"pattern"},
		"additionalProperties": false,
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal search schema: %v", err))
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern    string `json:"pattern"`
		Glob       string `json:"glob"`
		MaxMatches int    `json:"max_matches"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}

	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return errorResult("invalid pattern: %v", err), nil
	}
	if input.Glob != "" {
		if _, err := filepath.Match(input.Glob, "probe"); err != nil {
			return errorResult("invalid glob: %v", err), nil
		}
	}
	limit := input.MaxMatches
	if limit <= 0 {
		limit = defaultMaxMatches
	}

	root, err := filepath.Abs(t.root)
	if err != nil {
		return errorResult("resolve workspace: %v", err), nil
	}

	var b strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if input.Glob != "" {
			if ok, _ := filepath.Match(input.Glob, name); !ok {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxScanFileBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || isBinary(data) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		for i, line := range strings.Split(string(data), "\n") {
			if !re.MatchString(line) {
				continue
			}
			if len(line) > maxMatchLineLength {
				line = line[:maxMatchLineLength] + "..."
			}
			fmt.Fprintf(&b, "%s:%d:%s\n", rel, i+1, line)
			matches++
			if matches >= limit {
				return fs.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if matches == 0 {
		return &agent.ToolResult{Content: "no matches"}, nil
	}
	if matches >= limit {
		fmt.Fprintf(&b, "... stopped after %d matches\n", limit)
	}
	return &agent.ToolResult{Content: b.String()}, nil
}

// isBinary reports whether data looks like a binary file. A NUL byte in
// the first KiB is the heuristic git uses.
func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	for _, c := range probe {
		if c == 0 {
			return true
		}
	}
	return false
}

func errorResult(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}
