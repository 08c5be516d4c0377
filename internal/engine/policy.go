package engine

import (
	"context"

	"github.com/okapilabs/steer/pkg/models"
)

// StepContext is the read-only view of the session handed to the decision
// policy each step: the full history, any resolved clarifications with
// their user responses, and the schemas of the tools it may call.
type StepContext struct {
	SessionID      string
	History        []models.Event
	Clarifications []models.ClarificationRecord
	Tools          []ToolSchema
}

// DecisionPolicy produces the next action given the session so far. The
// controller owns everything else: executing the action, recording the
// observation, and deciding whether to loop again.
//
// Implementations wrap an LLM provider or a deterministic script; they must
// honor ctx cancellation and return an error rather than blocking forever.
type DecisionPolicy interface {
	Decide(ctx context.Context, step StepContext) (models.Action, error)
}

// PolicyFunc adapts a function to the DecisionPolicy interface.
type PolicyFunc func(ctx context.Context, step StepContext) (models.Action, error)

// Decide calls the wrapped function.
func (f PolicyFunc) Decide(ctx context.Context, step StepContext) (models.Action, error) {
	return f(ctx, step)
}
