// Package shell provides the run_command tool. Commands execute
// argv-style without a shell so the permission gate sees exactly what
// will run.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	osexec "os/exec"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/tinker/internal/agent"
	cmdsafety "github.com/haasonsaas/tinker/internal/exec"
	"github.com/haasonsaas/tinker/internal/tools/files"
	"github.com/haasonsaas/tinker/pkg/models"
)

const (
	defaultMaxOutputBytes = 64 * 1024
	maxTimeout            = 10 * time.Minute
)

// Config controls run_command defaults.
type Config struct {
	// Workspace is the directory commands run in.
	Workspace string

	// MaxOutputBytes caps captured stdout plus stderr.
	MaxOutputBytes int
}

// Tool runs workspace commands.
type Tool struct {
	resolver  files.Resolver
	maxOutput int
}

func New(cfg Config) *Tool {
	max := cfg.MaxOutputBytes
	if max <= 0 {
		max = defaultMaxOutputBytes
	}
	return &Tool{
		resolver:  files.Resolver{Root: cfg.Workspace},
		maxOutput: max,
	}
}

// Register adds run_command to the registry. The tool is high risk and
// never retried: a command may have side effects even when it fails.
func Register(reg *agent.Registry, cfg Config) error {
	return reg.Register(New(cfg), agent.Descriptor{Risk: models.RiskHigh})
}

func (t *Tool) Name() string { return "run_command" }

func (t *Tool) Description() string {
	return "Run a command in the workspace. Pass the command as an argv array; no shell interpretation is applied."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"minItems":    1,
				"description": "Command and arguments, e.g. [\"go\", \"test\", \"./...\"].",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory relative to the workspace root (default: workspace root).",
			},
			"env": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
				"description":          "Extra environment variables for the command.",
			},
			"stdin": map[string]any{
				"type":        "string",
				"description": "Content piped to the command's standard input.",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Kill the command after this many seconds (default: scheduler timeout).",
				"minimum":     1,
			},
		},
		"required":             []string{"command"},
		"additionalProperties": false,
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal run_command schema: %v", err))
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Command        []string          `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Stdin          string            `json:"stdin"`
		TimeoutSeconds int               `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}

	argv, err := cmdsafety.SanitizeCommand(input.Command)
	if err != nil {
		return errorResult("unsafe command: %v", err), nil
	}

	dir := input.Cwd
	if dir == "" {
		dir = "."
	}
	workdir, err := t.resolver.Resolve(dir)
	if err != nil {
		return errorResult("%v", err), nil
	}

	if input.TimeoutSeconds > 0 {
		timeout := time.Duration(input.TimeoutSeconds) * time.Second
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := osexec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.Env = mergedEnv(input.Env)
	if input.Stdin != "" {
		cmd.Stdin = strings.NewReader(input.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Round(time.Millisecond)

	if ctx.Err() == context.DeadlineExceeded {
		return errorResult("command timed out after %s", elapsed), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exitCode := 0
	if runErr != nil {
		exitErr, ok := runErr.(*osexec.ExitError)
		if !ok {
			return errorResult("start command: %v", runErr), nil
		}
		exitCode = exitErr.ExitCode()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d (%s)\n", exitCode, elapsed)
	if out := t.clip(stdout.String()); out != "" {
		b.WriteString("stdout:\n")
		b.WriteString(out)
		if !strings.HasSuffix(out, "\n") {
			b.WriteByte('\n')
		}
	}
	if errOut := t.clip(stderr.String()); errOut != "" {
		b.WriteString("stderr:\n")
		b.WriteString(errOut)
		if !strings.HasSuffix(errOut, "\n") {
			b.WriteByte('\n')
		}
	}
	return &agent.ToolResult{Content: b.String(), IsError: exitCode != 0}, nil
}

func (t *Tool) clip(s string) string {
	if len(s) <= t.maxOutput {
		return s
	}
	return s[:t.maxOutput] + "\n... output truncated"
}

// mergedEnv layers overrides on top of the parent environment with
// stable ordering.
func mergedEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return os.Environ()
	}
	env := os.Environ()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

func errorResult(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}
