package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/okapilabs/steer/pkg/models"
)

// registeredTool pairs a tool with its schema projection and compiled
// validator, both fixed at registration time.
type registeredTool struct {
	tool     Tool
	schema   ToolSchema
	compiled *jsonschema.Schema
}

// ToolRegistry manages the fixed, named set of tools a controller may
// invoke. Registration happens during setup; Freeze closes the set before a
// run starts, after which the registry is read-only.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]*registeredTool
	frozen bool

	tracer trace.Tracer
}

// NewToolRegistry creates a new empty tool registry ready for registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:  make(map[string]*registeredTool),
		tracer: otel.Tracer("steer/engine"),
	}
}

// Register adds a tool to the registry by its name. It rejects duplicate
// names, the reserved finish capability, and registration after Freeze.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("cannot register tool with empty name")
	}
	if name == FinishToolName {
		return fmt.Errorf("tool name %q is reserved", FinishToolName)
	}

	schema, err := Describe(tool)
	if err != nil {
		return err
	}
	compiled, err := compileSchema(name, schema.Parameters)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = &registeredTool{
		tool:     tool,
		schema:   schema,
		compiled: compiled,
	}
	return nil
}

// Freeze closes the registry to further registration. Called by the
// controller when a run starts; idempotent.
func (r *ToolRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns a tool by name and whether it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the schema projections of all registered tools, sorted by
// name, for handing to the decision policy.
func (r *ToolRegistry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]ToolSchema, 0, len(r.tools))
	for _, rt := range r.tools {
		schemas = append(schemas, rt.schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Invoke validates and executes a tool call. Validation failures fail fast
// with an unsuccessful Outcome and never reach the tool. Panics are
// recovered into a ToolError so nothing escapes the controller loop.
//
// The returned error carries infrastructure failures (panic, execution
// error) for the controller's retry classification; domain failures arrive
// as Outcome.Success=false with a nil error.
func (r *ToolRegistry) Invoke(ctx context.Context, call *models.ToolCall) (outcome *Outcome, err error) {
	r.mu.RLock()
	rt, ok := r.tools[call.ToolName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.ToolName)
	}

	ctx, span := r.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(
		attribute.String("tool.name", call.ToolName),
		attribute.String("tool.call_id", call.CallID),
	))
	defer span.End()

	input := applyDefaults(rt.tool.Params(), call.Input)
	if verr := validateInput(call.ToolName, rt.compiled, input); verr != nil {
		span.SetAttributes(attribute.Bool("tool.invalid_input", true))
		return &Outcome{Success: false, Error: verr.Error()}, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			outcome = nil
			err = NewToolError(call.ToolName, fmt.Errorf("%w: %v\n%s", ErrToolPanic, rec, debug.Stack())).
				WithType(ToolErrorPanic).
				WithCallID(call.CallID)
		}
	}()

	out, execErr := rt.tool.Execute(ctx, input)
	if execErr != nil {
		return nil, NewToolError(call.ToolName, execErr).WithCallID(call.CallID)
	}
	if out == nil {
		out = &Outcome{Success: false, Error: "tool returned no outcome"}
	}
	return out, nil
}
