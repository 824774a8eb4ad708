package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/classpilot/classpilot/pkg/models"
)

// Handler executes one tool call. Implementations return a ToolResult even
// on domain failures; a non-nil error is reserved for infrastructure
// faults the runtime converts into a synthetic error return.
type Handler func(ctx context.Context, tc *TurnContext, args json.RawMessage) (*models.ToolResult, error)

// Definition declares one tool: its catalogue identity, the Go struct its
// arguments decode into, and the handler.
type Definition struct {
	Name        string
	Description string

	// Toolset is the selection group this tool belongs to.
	Toolset Toolset

	// Args is a zero-value prototype of the argument struct. Its JSON
	// schema is derived by reflection and sent to the model; incoming
	// arguments are validated against it before the handler runs.
	Args any

	Handler Handler
}

// MaxToolArgsSize bounds incoming tool argument payloads.
const MaxToolArgsSize = 1 << 20

// Registry holds the immutable tool catalogue. Registration happens at
// startup; lookups afterwards are lock-free.
type Registry struct {
	byName  map[string]*registeredTool
	ordered []*registeredTool
}

type registeredTool struct {
	def       Definition
	schema    json.RawMessage
	validator *santhosh.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*registeredTool)}
}

// Register adds a tool definition. It panics on duplicate names or
// unreflectable argument types; both are programmer errors caught at
// startup.
func (r *Registry) Register(def Definition) {
	if def.Name == "" || def.Handler == nil {
		panic("agent: tool definition missing name or handler")
	}
	if _, exists := r.byName[def.Name]; exists {
		panic("agent: duplicate tool registration: " + def.Name)
	}

	schema, validator := reflectSchema(def.Name, def.Args)
	rt := &registeredTool{def: def, schema: schema, validator: validator}
	r.byName[def.Name] = rt
	r.ordered = append(r.ordered, rt)
}

// RegisterAll registers a batch of definitions.
func (r *Registry) RegisterAll(defs []Definition) {
	for _, def := range defs {
		r.Register(def)
	}
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	rt, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return &rt.def, true
}

// SchemasFor returns provider tool schemas for the selected toolsets, in
// registration order.
func (r *Registry) SchemasFor(selected []Toolset) []ToolSchema {
	want := make(map[Toolset]bool, len(selected))
	for _, ts := range selected {
		want[ts] = true
	}
	var out []ToolSchema
	for _, rt := range r.ordered {
		if !want[rt.def.Toolset] {
			continue
		}
		out = append(out, ToolSchema{
			Name:        rt.def.Name,
			Description: rt.def.Description,
			InputSchema: rt.schema,
		})
	}
	return out
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, rt := range r.ordered {
		names = append(names, rt.def.Name)
	}
	sort.Strings(names)
	return names
}

// IsGeneration reports whether the named tool belongs to the generation
// toolset. Truncation protection and artifact detection key off this.
func (r *Registry) IsGeneration(name string) bool {
	rt, ok := r.byName[name]
	return ok && rt.def.Toolset == ToolsetGeneration
}

// ValidateArgs checks raw arguments against the tool's schema. A nil
// error means the handler may decode them.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	rt, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if len(args) > MaxToolArgsSize {
		return fmt.Errorf("tool %q arguments exceed %d bytes", name, MaxToolArgsSize)
	}
	if rt.validator == nil {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("tool %q arguments are not valid JSON: %w", name, err)
	}
	if err := rt.validator.Validate(decoded); err != nil {
		return fmt.Errorf("tool %q argument validation: %w", name, err)
	}
	return nil
}

// reflectSchema derives a JSON schema from the argument prototype and
// compiles the matching validator. A nil prototype yields a permissive
// empty-object schema.
func reflectSchema(name string, prototype any) (json.RawMessage, *santhosh.Schema) {
	if prototype == nil {
		schema := json.RawMessage(`{"type":"object","properties":{}}`)
		return schema, nil
	}

	reflector := invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	raw, err := json.Marshal(reflector.Reflect(prototype))
	if err != nil {
		panic(fmt.Sprintf("agent: reflect schema for tool %s: %v", name, err))
	}

	// invopop emits a $schema draft marker the model payload does not
	// need; strip it so both vendors accept the schema verbatim.
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err == nil {
		delete(doc, "$schema")
		delete(doc, "$id")
		if cleaned, err := json.Marshal(doc); err == nil {
			raw = cleaned
		}
	}

	compiler := santhosh.NewCompiler()
	resource := strings.ReplaceAll(name, " ", "_") + ".schema.json"
	if err := compiler.AddResource(resource, strings.NewReader(string(raw))); err != nil {
		panic(fmt.Sprintf("agent: add schema resource for tool %s: %v", name, err))
	}
	validator, err := compiler.Compile(resource)
	if err != nil {
		panic(fmt.Sprintf("agent: compile schema for tool %s: %v", name, err))
	}
	return raw, validator
}
