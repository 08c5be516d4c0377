package tools

import (
	"context"

	"github.com/okapilabs/steer/internal/engine"
)

// ClarifyTool lets the agent ask the user questions. It has no side effect
// of its own: its outcome carries the reserved pause keys, which the
// controller turns into a clarification record and a waiting_user pause.
type ClarifyTool struct{}

// NewClarifyTool creates the clarify tool.
func NewClarifyTool() *ClarifyTool {
	return &ClarifyTool{}
}

// Name implements engine.Tool.
func (t *ClarifyTool) Name() string { return "clarify" }

// Description implements engine.Tool.
func (t *ClarifyTool) Description() string {
	return "Pause and ask the user one or more questions before continuing. " +
		"Use when the task is ambiguous and guessing would be risky."
}

// Params implements engine.Tool.
func (t *ClarifyTool) Params() []engine.ParamSpec {
	return []engine.ParamSpec{
		{Name: "questions", Type: engine.ParamArray, Required: true, ItemType: engine.ParamString, Description: "Questions for the user."},
		{Name: "reason", Type: engine.ParamString, Description: "Why the clarification is needed."},
		{Name: "assumptions", Type: engine.ParamArray, ItemType: engine.ParamString, Description: "Assumptions that would be made without an answer."},
		{Name: "alternatives", Type: engine.ParamArray, ItemType: engine.ParamString, Description: "Alternative interpretations considered."},
	}
}

// Execute implements engine.Tool.
func (t *ClarifyTool) Execute(ctx context.Context, input map[string]any) (*engine.Outcome, error) {
	questions := stringArgs(input["questions"])
	if len(questions) == 0 {
		return &engine.Outcome{Success: false, Error: "at least one question is required"}, nil
	}

	result := map[string]any{
		engine.PauseExecutionKey:   true,
		engine.ClarifyQuestionsKey: questions,
	}
	if reason, ok := input["reason"].(string); ok && reason != "" {
		result[engine.ClarifyReasonKey] = reason
	}
	if assumptions := stringArgs(input["assumptions"]); len(assumptions) > 0 {
		result[engine.ClarifyAssumptionsKey] = assumptions
	}
	if alternatives := stringArgs(input["alternatives"]); len(alternatives) > 0 {
		result[engine.ClarifyAlternativesKey] = alternatives
	}

	return &engine.Outcome{Success: true, Result: result}, nil
}

// stringArgs coerces an array argument into its string elements, accepting
// both []string and the []any shape JSON decoding produces.
func stringArgs(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
