package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/beaconhq/beacon/internal/tools/policy"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolDescriptor is everything the engine needs to expose a tool to the LLM
// and dispatch it once called: its LLM-facing definition plus the ToolKind
// that governs how the executor schedules it within a turn.
type ToolDescriptor struct {
	Tool Tool
	Kind policy.ToolKind
}

// ToolRegistry manages available tools with thread-safe registration and
// lookup, validating call arguments against each tool's declared JSON Schema
// before dispatch.
type ToolRegistry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	kinds     map[string]policy.ToolKind
	schemas   map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry ready for registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		kinds:   make(map[string]policy.ToolKind),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry, compiling its schema up front so
// validation failures at call time are never due to a malformed schema.
// If a tool with the same name already exists, it is replaced. Unknown tool
// names default to policy.ToolKindMutate via policy.Classify.
func (r *ToolRegistry) Register(tool Tool) error {
	compiled, err := compileSchema(tool.Name(), tool.Schema())
	if err != nil {
		return fmt.Errorf("tool registry: register %q: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.kinds[tool.Name()] = policy.Classify(tool.Name())
	r.schemas[tool.Name()] = compiled
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("mem://tools/%s.json", name)
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.kinds, name)
	delete(r.schemas, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Kind returns the ToolKind for a registered tool, defaulting to Mutate for
// names the registry does not know about.
func (r *ToolRegistry) Kind(name string) policy.ToolKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind, ok := r.kinds[name]; ok {
		return kind
	}
	return policy.ToolKindMutate
}

// Validate checks call arguments against the tool's compiled input schema.
// Tools with no schema (or a nil one) always validate. Validation failures
// are reported as plain errors, which callers surface as Tool errors (§7)
// rather than panicking the turn loop.
func (r *ToolRegistry) Validate(name string, arguments json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok || schema == nil {
		return nil
	}

	var v any
	if err := json.Unmarshal(arguments, &v); err != nil {
		return fmt.Errorf("invalid arguments JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("arguments failed schema validation: %w", err)
	}
	return nil
}

// Execute runs a tool by name with the given JSON parameters, validating
// both size limits and schema conformance before dispatch. Returns a
// ToolResult with IsError=true (rather than an error) for any failure the
// Loop Detector should be able to observe as a tool-level error.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{Content: "tool not found: " + name, IsError: true}, nil
	}

	if err := r.Validate(name, params); err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}

	return tool.Execute(ctx, params)
}

// AsLLMTools returns all registered tools as a slice for passing to LLM
// providers.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}
