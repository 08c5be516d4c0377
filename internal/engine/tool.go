package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParamType is the coarse type of a tool parameter. Object-typed values are
// checked as containers only; array-typed values additionally get a coarse
// element type check when the parameter declares one. Deeper shapes are the
// tool's own concern.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
)

// ParamSpec declares one parameter of a tool.
type ParamSpec struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required"`
	Default  any       `json:"default,omitempty"`
	Enum     []any     `json:"enum,omitempty"`
	ItemType ParamType `json:"item_type,omitempty"`

	// Description feeds the schema handed to the decision policy.
	Description string `json:"description,omitempty"`
}

// Outcome is the uniform result of a tool execution. Tools report domain
// failures through Success=false rather than Go errors; returned errors are
// reserved for infrastructure failures the controller may retry.
type Outcome struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Reserved Outcome.Result keys forming the back-channel from a tool to the
// controller's continuation policy.
const (
	// PauseExecutionKey set to true requests that the loop suspend and
	// await external input.
	PauseExecutionKey = "pauseExecution"

	// Clarification detail keys read when a tool pauses execution.
	ClarifyQuestionsKey    = "questions"
	ClarifyReasonKey       = "reason"
	ClarifyAssumptionsKey  = "assumptions"
	ClarifyAlternativesKey = "alternatives"
)

// FinishToolName is the synthetic capability the controller reports Finish
// actions against. It is never registered; the registry rejects the name.
const FinishToolName = "finish"

// Tool is a named capability the decision policy may invoke.
//
// Tools are stateless with respect to the session: any internal state (a
// cached connection, an index) is owned by the implementation, which must
// serialize its own concurrent access. Execute must honor ctx cancellation.
type Tool interface {
	// Name returns the tool name used for registry lookup.
	Name() string

	// Description returns a natural language description of what the tool
	// does, surfaced to the decision policy.
	Description() string

	// Params declares the tool's parameters in schema order.
	Params() []ParamSpec

	// Execute runs the tool. Input has already passed Validate and had
	// defaults applied.
	Execute(ctx context.Context, input map[string]any) (*Outcome, error)
}

// ToolSchema is the machine-consumable projection of a tool's contract,
// shaped as a JSON Schema object so policy adapters can pass it through to
// model APIs unchanged.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Describe projects a tool's parameters into its ToolSchema. The projection
// is pure: two calls with no intervening state change yield identical bytes
// (properties are emitted in sorted key order by json.Marshal).
func Describe(t Tool) (ToolSchema, error) {
	params, err := parameterSchema(t.Params())
	if err != nil {
		return ToolSchema{}, fmt.Errorf("describe tool %s: %w", t.Name(), err)
	}
	return ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  params,
	}, nil
}

// parameterSchema builds the JSON Schema document for a parameter list.
// Unknown extra keys are tolerated (no additionalProperties constraint).
// Object parameters carry no nested shape; an array parameter constrains
// only its element type, and only when one is declared. Both stay within
// the engine's coarse validation contract.
func parameterSchema(params []ParamSpec) (json.RawMessage, error) {
	properties := make(map[string]any, len(params))
	var required []string

	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter with empty name")
		}
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == ParamArray && p.ItemType != "" {
			prop["items"] = map[string]any{"type": string(p.ItemType)}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

// compileSchema compiles a tool's parameter schema once at registration so
// Invoke validates without re-parsing.
func compileSchema(name string, params json.RawMessage) (*jsonschema.Schema, error) {
	sch, err := jsonschema.CompileString(name+".json", string(params))
	if err != nil {
		return nil, fmt.Errorf("compile schema for tool %s: %w", name, err)
	}
	return sch, nil
}

// applyDefaults returns a copy of input with declared defaults filled in
// for absent keys. The caller's map is never mutated.
func applyDefaults(params []ParamSpec, input map[string]any) map[string]any {
	out := make(map[string]any, len(input)+2)
	for k, v := range input {
		out[k] = v
	}
	for _, p := range params {
		if p.Default == nil {
			continue
		}
		if _, ok := out[p.Name]; !ok {
			out[p.Name] = p.Default
		}
	}
	return out
}

// validateInput checks the input against the compiled schema: required
// parameters present, present keys matching their coarse types. The input
// is normalized through a JSON round trip so Go-native values (ints,
// typed slices) validate the same as decoded JSON.
func validateInput(toolName string, sch *jsonschema.Schema, input map[string]any) error {
	if input == nil {
		input = map[string]any{}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return &ValidationError{ToolName: toolName, Problems: []string{"input is not JSON-encodable: " + err.Error()}}
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return &ValidationError{ToolName: toolName, Problems: []string{"input is not JSON-decodable: " + err.Error()}}
	}

	if err := sch.Validate(normalized); err != nil {
		ve := &ValidationError{ToolName: toolName}
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			for _, cause := range verr.BasicOutput().Errors {
				if cause.Error == "" {
					continue
				}
				ve.Problems = append(ve.Problems, cause.Error)
			}
		}
		if len(ve.Problems) == 0 {
			ve.Problems = []string{err.Error()}
		}
		return ve
	}
	return nil
}
