package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool defines an agent capability with one or more tool functions. Tools
// receive the owning session so they can append artifacts, mutate the task
// list, and emit events.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, sess *Session, name string, args json.RawMessage) (ToolResult, error)
}

// ToolRegistry holds all registered tools and dispatches execution.
// Registration happens at startup; the registry is read-only afterwards.
//
// Arguments are validated against the tool's advertised JSON schema before
// dispatch. A schema violation is not a dispatch failure: it is rendered
// into the tool result so the LLM can see the mistake and recover.
type ToolRegistry struct {
	tools   []Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// Add registers a tool and compiles its parameter schemas. A schema that
// fails to compile panics: tool definitions are program constants and a bad
// one is a bug, not an input error.
func (r *ToolRegistry) Add(t Tool) {
	r.tools = append(r.tools, t)
	for _, d := range t.Definitions() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(d.Name+".json", bytes.NewReader(d.Parameters)); err != nil {
			panic(fmt.Sprintf("tool %s: bad parameter schema: %v", d.Name, err))
		}
		schema, err := compiler.Compile(d.Name + ".json")
		if err != nil {
			panic(fmt.Sprintf("tool %s: bad parameter schema: %v", d.Name, err))
		}
		r.schemas[d.Name] = schema
	}
}

// Definitions returns tool definitions from all registered tools, in
// registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Execute validates args against the tool's schema and dispatches by name.
// Unknown tools and invalid arguments come back as LLM-observable tool
// errors; only infrastructure failures are returned as Go errors.
func (r *ToolRegistry) Execute(ctx context.Context, sess *Session, name string, args json.RawMessage) (ToolResult, error) {
	schema, ok := r.schemas[name]
	if !ok {
		return ToolResult{Error: "unknown tool: " + name}, nil
	}

	if err := validateArgs(schema, args); err != nil {
		return ToolResult{Error: (&ErrInvalidInput{Reason: err.Error()}).Error()}, nil
	}

	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t.Execute(ctx, sess, name, args)
			}
		}
	}
	return ToolResult{Error: "unknown tool: " + name}, nil
}

// validateArgs checks args against schema. Empty args are treated as an
// empty object (models omit the arguments field for nullary tools).
func validateArgs(schema *jsonschema.Schema, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %v", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("arguments do not match schema: %v", err)
	}
	return nil
}
