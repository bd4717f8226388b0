package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/tinker/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Descriptor carries the scheduling and permission metadata for a registered
// tool. The registry is the single source of truth for this metadata; the
// scheduler and permission gate never ask the tool itself.
type Descriptor struct {
	// Risk is the tool's risk level, overridable per deployment.
	Risk models.RiskLevel

	// ReadOnly marks tools that never mutate workspace or external state.
	// Only read-only tools are eligible for parallel execution and caching.
	ReadOnly bool

	// Idempotent marks tools safe to retry after a transient failure.
	// Read-only tools are always idempotent; mutating tools opt in.
	Idempotent bool
}

type registeredTool struct {
	tool   Tool
	desc   Descriptor
	schema *jsonschema.Schema
}

// Registry manages available tools with thread-safe registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool with its descriptor. The tool's schema is compiled
// once at registration so per-call validation is cheap. An existing tool
// with the same name is replaced.
func (r *Registry) Register(tool Tool, desc Descriptor) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	if desc.ReadOnly {
		desc.Idempotent = true
	}

	var compiled *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name+".json", bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("tool %s: add schema: %w", name, err)
		}
		schema, err := c.Compile(name + ".json")
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &registeredTool{tool: tool, desc: desc, schema: compiled}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Describe returns the descriptor for a named tool.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return rt.desc, true
}

// SetRisk overrides the risk level for a registered tool. Unknown names are
// ignored so config overrides for optional tools don't fail startup.
func (r *Registry) SetRisk(name string, risk models.RiskLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.tools[name]; ok {
		rt.desc.Risk = risk
	}
}

// Validate checks params against the tool's compiled schema. Tools without a
// schema accept any JSON object.
func (r *Registry) Validate(name string, params json.RawMessage) error {
	if len(params) > MaxToolParamsSize {
		return &ToolError{
			Type:     ToolErrorInvalidInput,
			ToolName: name,
			Message:  fmt.Sprintf("parameters exceed maximum size of %d bytes", MaxToolParamsSize),
		}
	}

	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if rt.schema == nil {
		return nil
	}

	var doc any
	input := params
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, &doc); err != nil {
		return &ToolError{
			Type:     ToolErrorInvalidInput,
			ToolName: name,
			Message:  "parameters are not valid JSON",
			Cause:    err,
		}
	}
	if err := rt.schema.Validate(doc); err != nil {
		return &ToolError{
			Type:     ToolErrorInvalidInput,
			ToolName: name,
			Message:  err.Error(),
			Cause:    err,
		}
	}
	return nil
}

// Execute runs a tool by name with the given JSON parameters.
// Returns an error result if the tool is not found.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}
	return rt.tool.Execute(ctx, params)
}

// Definitions returns all registered tools as provider-facing definitions,
// sorted by name so the advertised tool list is stable across rounds.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for name, rt := range r.tools {
		defs = append(defs, ToolDefinition{
			Name:        name,
			Description: rt.tool.Description(),
			Schema:      rt.tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
