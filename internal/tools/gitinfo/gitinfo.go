// Package gitinfo exposes read-only git queries about the workspace:
// current status, branch, and recent history.
package gitinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/haasonsaas/tinker/internal/agent"
	"github.com/haasonsaas/tinker/pkg/models"
)

const (
	defaultLogCount = 10
	maxLogCount     = 100
)

// Tool answers git queries without mutating the repository.
type Tool struct {
	workspace string
}

func New(workspace string) *Tool {
	if workspace == "" {
		workspace = "."
	}
	return &Tool{workspace: workspace}
}

// Register adds the git tool to the registry.
func Register(reg *agent.Registry, workspace string) error {
	return reg.Register(New(workspace), agent.Descriptor{
		Risk:     models.RiskLow,
		ReadOnly: true,
	})
}

func (t *Tool) Name() string { return "git_info" }

func (t *Tool) Description() string {
	return "Inspect the workspace git repository: status, current branch, recent log, pending diff, or a single commit."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"enum":        []string{"status", "branch", "log", "diff", "show"},
				"description": "Which repository view to return.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of commits for the log query (default: 10).",
				"minimum":     1,
				"maximum":     maxLogCount,
			},
			"ref": map[string]any{
				"type":        "string",
				"description": "Commit hash or ref for the diff and show queries (default: HEAD for show, worktree for diff).",
			},
		},
		"required":             []string{"query"},
		"additionalProperties": false,
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal git_info schema: %v", err))
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query string `json:"query"`
		Count int    `json:"count"`
		Ref   string `json:"ref"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}

	switch input.Query {
	case "status":
		return t.git(ctx, "status", "--porcelain", "--branch")
	case "branch":
		return t.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	case "log":
		count := input.Count
		if count <= 0 {
			count = defaultLogCount
		}
		if count > maxLogCount {
			count = maxLogCount
		}
		return t.git(ctx, "log", "-n", strconv.Itoa(count), "--oneline", "--no-decorate")
	case "diff":
		if input.Ref != "" {
			if !validRef(input.Ref) {
				return errorResult("invalid ref %q", input.Ref), nil
			}
			return t.git(ctx, "diff", input.Ref)
		}
		return t.git(ctx, "diff")
	case "show":
		ref := input.Ref
		if ref == "" {
			ref = "HEAD"
		}
		if !validRef(ref) {
			return errorResult("invalid ref %q", ref), nil
		}
		return t.git(ctx, "show", "--stat", "--format=medium", ref)
	default:
		return errorResult("unknown query %q", input.Query), nil
	}
}

func (t *Tool) git(ctx context.Context, args ...string) (*agent.ToolResult, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = t.workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return errorResult("git %s: %s", args[0], msg), nil
	}

	out := strings.TrimRight(stdout.String(), "\n")
	if out == "" {
		out = "(no output)"
	}
	return &agent.ToolResult{Content: out}, nil
}

// validRef rejects refs that look like options or carry unsafe bytes.
func validRef(ref string) bool {
	if strings.HasPrefix(ref, "-") {
		return false
	}
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '/' || r == '.' || r == '_' || r == '-' || r == '~' || r == '^' || r == '@':
		default:
			return false
		}
	}
	return true
}

func errorResult(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}
