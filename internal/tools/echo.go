// Package tools provides the built-in tool implementations for the steer
// engine: echo, an in-memory search index, and the clarify tool that pauses
// a run for user input.
package tools

import (
	"context"
	"strings"

	"github.com/okapilabs/steer/internal/engine"
)

// EchoTool returns its input text, optionally repeated. Useful for smoke
// tests and demos of the full loop.
type EchoTool struct{}

// NewEchoTool creates the echo tool.
func NewEchoTool() *EchoTool {
	return &EchoTool{}
}

// Name implements engine.Tool.
func (t *EchoTool) Name() string { return "echo" }

// Description implements engine.Tool.
func (t *EchoTool) Description() string {
	return "Echo the given text back, optionally repeated."
}

// Params implements engine.Tool.
func (t *EchoTool) Params() []engine.ParamSpec {
	return []engine.ParamSpec{
		{Name: "text", Type: engine.ParamString, Required: true, Description: "Text to echo."},
		{Name: "repeat", Type: engine.ParamNumber, Default: 1, Description: "How many times to repeat the text."},
	}
}

// Execute implements engine.Tool.
func (t *EchoTool) Execute(ctx context.Context, input map[string]any) (*engine.Outcome, error) {
	text, _ := input["text"].(string)
	repeat := intArg(input["repeat"], 1)
	if repeat < 1 {
		return &engine.Outcome{Success: false, Error: "repeat must be at least 1"}, nil
	}

	parts := make([]string, repeat)
	for i := range parts {
		parts[i] = text
	}
	return &engine.Outcome{
		Success: true,
		Result:  map[string]any{"text": strings.Join(parts, " ")},
	}, nil
}

// intArg coerces a numeric argument that may arrive as an int (Go caller),
// float64 (JSON decode), or be absent.
func intArg(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
