package engine

import (
	"github.com/okapilabs/steer/pkg/models"
)

// Mode selects the controller's interaction style.
type Mode string

const (
	// ModeDefault runs until the agent finishes or a limit fires.
	ModeDefault Mode = "default"

	// ModePlan stops the loop whenever the agent produces a message, so
	// the user reviews each proposal before execution continues.
	ModePlan Mode = "plan"
)

// stepVerdict is the continuation decision made after each step.
type stepVerdict int

const (
	// verdictContinue means the loop proceeds to the next iteration.
	verdictContinue stepVerdict = iota

	// verdictFinished means the agent declared the task done.
	verdictFinished

	// verdictPaused means a tool requested suspension for user input.
	verdictPaused

	// verdictErrored means the consecutive failure limit was reached.
	verdictErrored

	// verdictPlanHalt means plan mode stopped on an agent message.
	verdictPlanHalt
)

// evaluateStep applies the ordered continuation rules to a completed step.
// Rule order matters and is fixed: finish beats pause beats the failure
// streak beats the plan mode message rule. The iteration cap is checked
// separately at the top of the loop, before the policy is consulted.
func evaluateStep(cfg ControllerConfig, sess *Session, action models.Action, obs models.Observation) stepVerdict {
	if _, ok := action.(*models.Finish); ok {
		return verdictFinished
	}

	if tr, ok := obs.(*models.ToolResult); ok && pauseRequested(tr) {
		return verdictPaused
	}

	if consecutiveFailures(sess.History()) >= cfg.MaxConsecutiveErrors {
		return verdictErrored
	}

	if cfg.Mode == ModePlan {
		if msg, ok := action.(*models.Message); ok && msg.Origin == models.OriginAgent {
			return verdictPlanHalt
		}
	}

	return verdictContinue
}

// pauseRequested reports whether a tool result carries the reserved
// back-channel key asking the loop to suspend.
func pauseRequested(tr *models.ToolResult) bool {
	payload, ok := tr.Payload.(map[string]any)
	if !ok {
		return false
	}
	v, ok := payload[PauseExecutionKey].(bool)
	return ok && v
}

// consecutiveFailures counts failure observations at the tail of the
// history. Actions between observations are skipped; the count resets at
// the first successful observation.
func consecutiveFailures(history []models.Event) int {
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		obs, ok := history[i].(models.Observation)
		if !ok {
			continue
		}
		if !models.IsFailure(obs) {
			break
		}
		count++
	}
	return count
}

// clarificationDetails extracts the reserved clarification keys from a
// pausing tool result's payload. Missing keys yield zero values; the pause
// still happens.
func clarificationDetails(tr *models.ToolResult) (questions []string, reason string, assumptions, alternatives []string) {
	payload, ok := tr.Payload.(map[string]any)
	if !ok {
		return nil, "", nil, nil
	}
	questions = stringSlice(payload[ClarifyQuestionsKey])
	reason, _ = payload[ClarifyReasonKey].(string)
	assumptions = stringSlice(payload[ClarifyAssumptionsKey])
	alternatives = stringSlice(payload[ClarifyAlternativesKey])
	return questions, reason, assumptions, alternatives
}

// stringSlice coerces a payload value into a string slice, accepting both
// []string and the []any shape JSON decoding produces.
func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return append([]string(nil), vv...)
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
