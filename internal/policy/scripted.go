package policy

import (
	"context"
	"sync"

	"github.com/okapilabs/steer/internal/engine"
	"github.com/okapilabs/steer/pkg/models"
)

// ScriptedPolicy replays a fixed action sequence. It backs deterministic
// runs (demos, replay, integration tests) where no model is available.
//
// Once the script runs out it returns a Finish action so a session driven
// by it always terminates.
type ScriptedPolicy struct {
	mu      sync.Mutex
	actions []models.Action
	next    int
}

// NewScriptedPolicy creates a policy that replays the given actions in order.
func NewScriptedPolicy(actions ...models.Action) *ScriptedPolicy {
	return &ScriptedPolicy{actions: actions}
}

// Decide implements engine.DecisionPolicy.
func (p *ScriptedPolicy) Decide(ctx context.Context, step engine.StepContext) (models.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.next >= len(p.actions) {
		return models.NewFinish(nil, "script exhausted", false), nil
	}
	action := p.actions[p.next]
	p.next++
	return action, nil
}

// Remaining reports how many scripted actions have not been consumed.
func (p *ScriptedPolicy) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.actions) - p.next
}
