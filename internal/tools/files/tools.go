package files

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/tinker/internal/agent"
	"github.com/haasonsaas/tinker/pkg/models"
)

// Config controls filesystem tool defaults.
type Config struct {
	// Workspace is the root directory all tools operate in.
	Workspace string

	// MaxReadBytes caps a single read_file response.
	MaxReadBytes int
}

// Register adds the filesystem tools to the registry with their
// standard risk descriptors.
func Register(reg *agent.Registry, cfg Config) error {
	entries := []struct {
		tool agent.Tool
		desc agent.Descriptor
	}{
		{NewReadTool(cfg), agent.Descriptor{Risk: models.RiskLow, ReadOnly: true}},
		{NewListTool(cfg), agent.Descriptor{Risk: models.RiskLow, ReadOnly: true}},
		{NewWriteTool(cfg), agent.Descriptor{Risk: models.RiskMedium, Idempotent: true}},
		{NewEditTool(cfg), agent.Descriptor{Risk: models.RiskMedium}},
	}
	for _, e := range entries {
		if err := reg.Register(e.tool, e.desc); err != nil {
			return err
		}
	}
	return nil
}

// mustSchema marshals a schema literal. Schemas are static maps, so a
// marshal failure is a programming error.
func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal tool schema: %v", err))
	}
	return payload
}

func fail(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}
