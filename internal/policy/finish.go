// Package policy implements decision policies for the steer engine: LLM
// providers (Anthropic, OpenAI) and a deterministic scripted policy for
// tests and replay.
//
// Providers expose the registered tools to the model plus one synthetic
// "finish" tool. A model call to finish becomes a Finish action; a call to
// any other tool becomes a ToolCall; plain text becomes an agent Message.
package policy

import (
	"encoding/json"
	"fmt"

	"github.com/okapilabs/steer/internal/engine"
	"github.com/okapilabs/steer/pkg/models"
)

// finishParameters is the JSON Schema for the synthetic finish tool offered
// to providers alongside the registered tools.
var finishParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"summary": {
			"type": "string",
			"description": "One paragraph describing what was accomplished."
		},
		"completed": {
			"type": "boolean",
			"description": "True when the task succeeded, false when giving up."
		},
		"outputs": {
			"type": "object",
			"description": "Structured task outputs, if any."
		}
	},
	"required": ["summary", "completed"]
}`)

// finishSchema returns the synthetic finish tool schema.
func finishSchema() engine.ToolSchema {
	return engine.ToolSchema{
		Name:        engine.FinishToolName,
		Description: "Declare the task complete (or abandoned) and stop the loop.",
		Parameters:  finishParameters,
	}
}

// finishAction builds a Finish action from the model's finish tool input.
func finishAction(input map[string]any) models.Action {
	summary, _ := input["summary"].(string)
	completed, ok := input["completed"].(bool)
	if !ok {
		completed = true
	}
	outputs, _ := input["outputs"].(map[string]any)
	return models.NewFinish(outputs, summary, completed)
}

// toolCallAction maps a provider tool call onto the engine's action space:
// the synthetic finish name terminates, anything else is a real tool call.
func toolCallAction(name, callID string, rawInput []byte) (models.Action, error) {
	input := map[string]any{}
	if len(rawInput) > 0 {
		if err := json.Unmarshal(rawInput, &input); err != nil {
			return nil, fmt.Errorf("tool %s: malformed input from model: %w", name, err)
		}
	}
	if name == engine.FinishToolName {
		return finishAction(input), nil
	}
	return models.NewToolCall(name, input, callID), nil
}

// clarificationContext renders resolved clarifications as extra user
// context so the model sees the answers it asked for.
func clarificationContext(records []models.ClarificationRecord) string {
	if len(records) == 0 {
		return ""
	}
	out := "Previously asked clarifications and their answers:\n"
	for _, rec := range records {
		for i, q := range rec.Questions {
			out += "Q: " + q + "\n"
			if i < len(rec.UserResponses) {
				out += "A: " + rec.UserResponses[i] + "\n"
			}
		}
		for i := len(rec.Questions); i < len(rec.UserResponses); i++ {
			out += "A: " + rec.UserResponses[i] + "\n"
		}
	}
	return out
}
