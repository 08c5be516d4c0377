package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// staticTool is a minimal Tool for contract tests.
type staticTool struct {
	name    string
	params  []ParamSpec
	execute func(ctx context.Context, input map[string]any) (*Outcome, error)
}

func (t *staticTool) Name() string        { return t.name }
func (t *staticTool) Description() string { return "test tool " + t.name }
func (t *staticTool) Params() []ParamSpec { return t.params }
func (t *staticTool) Execute(ctx context.Context, input map[string]any) (*Outcome, error) {
	if t.execute == nil {
		return &Outcome{Success: true, Result: map[string]any{"echo": true}}, nil
	}
	return t.execute(ctx, input)
}

func TestDescribeIsPure(t *testing.T) {
	tool := &staticTool{
		name: "lookup",
		params: []ParamSpec{
			{Name: "query", Type: ParamString, Required: true, Description: "what to find"},
			{Name: "limit", Type: ParamNumber, Default: 10},
			{Name: "deep", Type: ParamBoolean},
		},
	}

	first, err := Describe(tool)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	second, err := Describe(tool)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !bytes.Equal(first.Parameters, second.Parameters) {
		t.Errorf("schema projection not deterministic:\n%s\n%s", first.Parameters, second.Parameters)
	}
	if first.Name != "lookup" {
		t.Errorf("schema name = %q, want lookup", first.Name)
	}
}

func TestDescribeArrayItemType(t *testing.T) {
	tool := &staticTool{
		name: "batch",
		params: []ParamSpec{
			{Name: "ids", Type: ParamArray, ItemType: ParamNumber},
			{Name: "tags", Type: ParamArray},
		},
	}
	schema, err := Describe(tool)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	var doc struct {
		Properties map[string]struct {
			Items *struct {
				Type string `json:"type"`
			} `json:"items"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema.Parameters, &doc); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	ids := doc.Properties["ids"]
	if ids.Items == nil || ids.Items.Type != "number" {
		t.Errorf("ids items = %+v, want number constraint", ids.Items)
	}
	if doc.Properties["tags"].Items != nil {
		t.Error("tags should carry no items constraint without a declared element type")
	}
}

func TestDescribeRejectsUnnamedParam(t *testing.T) {
	tool := &staticTool{name: "bad", params: []ParamSpec{{Type: ParamString}}}
	if _, err := Describe(tool); err == nil {
		t.Fatal("expected error for parameter with empty name")
	}
}

func TestApplyDefaultsDoesNotMutateCaller(t *testing.T) {
	params := []ParamSpec{
		{Name: "limit", Type: ParamNumber, Default: 10},
		{Name: "query", Type: ParamString, Required: true},
	}
	input := map[string]any{"query": "hello"}

	out := applyDefaults(params, input)

	if _, ok := input["limit"]; ok {
		t.Error("caller map was mutated with a default")
	}
	if out["limit"] != 10 {
		t.Errorf("default not applied: limit = %v", out["limit"])
	}
	if out["query"] != "hello" {
		t.Errorf("existing value lost: query = %v", out["query"])
	}
}

func TestApplyDefaultsDoesNotOverrideProvided(t *testing.T) {
	params := []ParamSpec{{Name: "limit", Type: ParamNumber, Default: 10}}
	out := applyDefaults(params, map[string]any{"limit": 3})
	if out["limit"] != 3 {
		t.Errorf("provided value overridden: limit = %v", out["limit"])
	}
}

func compileFor(t *testing.T, params []ParamSpec) *jsonschema.Schema {
	t.Helper()
	raw, err := parameterSchema(params)
	if err != nil {
		t.Fatalf("parameterSchema: %v", err)
	}
	sch, err := compileSchema("fixture", raw)
	if err != nil {
		t.Fatalf("compileSchema: %v", err)
	}
	return sch
}

func TestValidateInput(t *testing.T) {
	sch := compileFor(t, []ParamSpec{
		{Name: "query", Type: ParamString, Required: true},
		{Name: "limit", Type: ParamNumber},
		{Name: "tags", Type: ParamArray},
		{Name: "ids", Type: ParamArray, ItemType: ParamNumber},
		{Name: "mode", Type: ParamString, Enum: []any{"fast", "slow"}},
	})

	tests := []struct {
		name    string
		input   map[string]any
		wantErr bool
	}{
		{"valid minimal", map[string]any{"query": "x"}, false},
		{"missing required", map[string]any{"limit": 5}, true},
		{"wrong type", map[string]any{"query": 42}, true},
		{"go int validates as number", map[string]any{"query": "x", "limit": 5}, false},
		{"unknown keys tolerated", map[string]any{"query": "x", "extra": true}, false},
		{"array container accepted", map[string]any{"query": "x", "tags": []string{"a", "b"}}, false},
		{"array elements not deep checked", map[string]any{"query": "x", "tags": []any{1, "b"}}, false},
		{"declared item type accepted", map[string]any{"query": "x", "ids": []int{1, 2}}, false},
		{"declared item type enforced", map[string]any{"query": "x", "ids": []any{1, "two"}}, true},
		{"enum enforced", map[string]any{"query": "x", "mode": "medium"}, true},
		{"enum accepted", map[string]any{"query": "x", "mode": "fast"}, false},
		{"nil input missing required", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateInput("fixture", sch, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateInput(%v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("error is %T, want *ValidationError", err)
				} else if len(verr.Problems) == 0 {
					t.Error("validation error has no problems listed")
				}
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{ToolName: "lookup", Problems: []string{"a", "b"}}
	msg := err.Error()
	if !strings.Contains(msg, "lookup") || !strings.Contains(msg, "a; b") {
		t.Errorf("unexpected message: %s", msg)
	}
}
