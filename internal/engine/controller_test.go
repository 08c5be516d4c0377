package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/okapilabs/steer/internal/backoff"
	"github.com/okapilabs/steer/pkg/models"
)

// scriptPolicy replays a fixed sequence of actions and counts how often it
// is consulted.
type scriptPolicy struct {
	actions []models.Action
	errs    []error
	calls   int
}

func (p *scriptPolicy) Decide(ctx context.Context, step StepContext) (models.Action, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.actions) {
		return nil, fmt.Errorf("script exhausted at call %d", i)
	}
	return p.actions[i], nil
}

func testRegistry(t *testing.T, tools ...Tool) *ToolRegistry {
	t.Helper()
	r := NewToolRegistry()
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register %s: %v", tool.Name(), err)
		}
	}
	return r
}

func fastConfig() ControllerConfig {
	cfg := DefaultControllerConfig()
	cfg.Backoff = backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1, Jitter: 0}
	return cfg
}

func TestRunFinishTerminates(t *testing.T) {
	echo := &staticTool{
		name:   "echo",
		params: []ParamSpec{{Name: "text", Type: ParamString, Required: true}},
	}
	policy := &scriptPolicy{actions: []models.Action{
		models.NewToolCall("echo", map[string]any{"text": "hi"}, ""),
		models.NewFinish(map[string]any{"answer": "hi"}, "done", true),
	}}
	c := NewController(policy, testRegistry(t, echo), WithConfig(fastConfig()))
	sess := NewSession("run-1")

	sum, err := c.Run(context.Background(), sess, "say hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != models.StatusFinished {
		t.Fatalf("status = %s, want finished", sum.Status)
	}
	if policy.calls != 2 {
		t.Errorf("policy consulted %d times, want 2", policy.calls)
	}

	// user message, tool call, tool result, finish, synthetic finish result
	h := sess.History()
	if len(h) != 5 {
		t.Fatalf("history len = %d, want 5: %v", len(h), kinds(h))
	}
	final, ok := h[len(h)-1].(*models.ToolResult)
	if !ok || final.ToolName != FinishToolName || !final.Success {
		t.Errorf("final event = %+v, want successful finish result", h[len(h)-1])
	}
	if sum.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", sum.Iterations)
	}
	if sum.ToolCalls != 1 {
		t.Errorf("tool calls = %d, want 1", sum.ToolCalls)
	}
}

func kinds(events []models.Event) []models.EventKind {
	out := make([]models.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind()
	}
	return out
}

func TestRunMessageToolFinishShape(t *testing.T) {
	status := &staticTool{
		name:   "status",
		params: []ParamSpec{{Name: "target", Type: ParamString}},
	}
	policy := &scriptPolicy{actions: []models.Action{
		models.NewMessage("checking", models.OriginAgent),
		models.NewToolCall("status", map[string]any{"target": "api"}, ""),
		models.NewFinish(nil, "all good", true),
	}}
	c := NewController(policy, testRegistry(t, status), WithConfig(fastConfig()))
	sess := NewSession("run-shape")

	sum, err := c.Run(context.Background(), sess, "status?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != models.StatusFinished {
		t.Fatalf("status = %s, want finished", sum.Status)
	}

	// The seeding user message is event one; each of the three decisions
	// then lands as an action/observation pair.
	want := []models.EventKind{
		models.KindMessage,
		models.KindMessage, models.KindSuccess,
		models.KindToolCall, models.KindToolResult,
		models.KindFinish, models.KindToolResult,
	}
	h := sess.History()
	got := kinds(h)
	if len(got) != len(want) {
		t.Fatalf("history kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history kinds = %v, want %v", got, want)
		}
	}
	first, ok := h[0].(*models.Message)
	if !ok || first.Origin != models.OriginUser {
		t.Errorf("first event = %+v, want the seeding user message", h[0])
	}
	if policy.calls != 3 {
		t.Errorf("policy consulted %d times, want 3", policy.calls)
	}
}

func TestRunPauseOnFirstIterationHalts(t *testing.T) {
	pauser := &staticTool{
		name: "clarify",
		execute: func(ctx context.Context, input map[string]any) (*Outcome, error) {
			return &Outcome{Success: true, Result: map[string]any{
				PauseExecutionKey:   true,
				ClarifyQuestionsKey: []string{"which region?"},
			}}, nil
		},
	}
	policy := &scriptPolicy{actions: []models.Action{
		models.NewToolCall("clarify", nil, ""),
		models.NewFinish(nil, "done", true),
	}}
	c := NewController(policy, testRegistry(t, pauser), WithConfig(fastConfig()))
	sess := NewSession("run-halt")

	sum, err := c.Run(context.Background(), sess, "deploy it")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != models.StatusWaitingUser {
		t.Fatalf("status = %s, want waiting_user", sum.Status)
	}
	if policy.calls != 1 {
		t.Errorf("policy consulted %d times before resume, want 1", policy.calls)
	}
	// Seed message plus the single action/observation pair, nothing after.
	if h := sess.History(); len(h) != 3 {
		t.Fatalf("history len = %d, want 3: %v", len(h), kinds(h))
	}

	if _, err := c.Resume(context.Background(), sess, []string{"us-east"}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if policy.calls != 2 {
		t.Errorf("policy consulted %d times after resume, want 2", policy.calls)
	}
}

func TestRunAfterResetOfTruncatedSession(t *testing.T) {
	policy := &scriptPolicy{}
	for i := 0; i < 5; i++ {
		policy.actions = append(policy.actions, models.NewThink("more"))
	}
	cfg := fastConfig()
	cfg.MaxIterations = 2
	c := NewController(policy, testRegistry(t), WithConfig(cfg))
	sess := NewSession("run-reset")

	if sum, err := c.Run(context.Background(), sess, "go"); err != nil {
		t.Fatalf("Run: %v", err)
	} else if sum.Status != models.StatusTruncated {
		t.Fatalf("status = %s, want truncated", sum.Status)
	}

	sess.Reset()
	policy.actions = []models.Action{models.NewFinish(nil, "done", true)}
	policy.calls = 0

	sum, err := c.Run(context.Background(), sess, "")
	if err != nil {
		t.Fatalf("Run after reset: %v", err)
	}
	if sum.Status != models.StatusFinished {
		t.Fatalf("status after reset run = %s, want finished", sum.Status)
	}
	if sum.Iterations != 1 {
		t.Errorf("iterations after reset = %d, want 1", sum.Iterations)
	}
}

func TestRunIterationCapTruncates(t *testing.T) {
	policy := &scriptPolicy{}
	for i := 0; i < 20; i++ {
		policy.actions = append(policy.actions, models.NewThink(fmt.Sprintf("pondering %d", i)))
	}
	cfg := fastConfig()
	cfg.MaxIterations = 4
	c := NewController(policy, testRegistry(t), WithConfig(cfg))
	sess := NewSession("run-cap")

	sum, err := c.Run(context.Background(), sess, "loop forever")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != models.StatusTruncated {
		t.Fatalf("status = %s, want truncated", sum.Status)
	}
	if policy.calls != 4 {
		t.Errorf("policy consulted %d times, want exactly 4", policy.calls)
	}
	if sum.Iterations != 4 {
		t.Errorf("iterations = %d, want 4", sum.Iterations)
	}
}

func TestRunConsecutiveFailuresAbort(t *testing.T) {
	failing := &staticTool{
		name: "broken",
		execute: func(ctx context.Context, input map[string]any) (*Outcome, error) {
			return &Outcome{Success: false, Error: "it broke"}, nil
		},
	}
	policy := &scriptPolicy{}
	for i := 0; i < 10; i++ {
		policy.actions = append(policy.actions, models.NewToolCall("broken", nil, ""))
	}
	c := NewController(policy, testRegistry(t, failing), WithConfig(fastConfig()))
	sess := NewSession("run-err")

	sum, err := c.Run(context.Background(), sess, "try")
	if err == nil {
		t.Fatal("expected error after consecutive failures")
	}
	if sum.Status != models.StatusError {
		t.Fatalf("status = %s, want error", sum.Status)
	}
	if policy.calls != 3 {
		t.Errorf("policy consulted %d times, want 3", policy.calls)
	}
}

func TestRunFailureStreakResetsOnSuccess(t *testing.T) {
	count := 0
	flaky := &staticTool{
		name: "flaky",
		execute: func(ctx context.Context, input map[string]any) (*Outcome, error) {
			count++
			// Fail twice, succeed, fail twice, then the script finishes.
			if count == 3 {
				return &Outcome{Success: true}, nil
			}
			return &Outcome{Success: false, Error: "nope"}, nil
		},
	}
	policy := &scriptPolicy{actions: []models.Action{
		models.NewToolCall("flaky", nil, ""),
		models.NewToolCall("flaky", nil, ""),
		models.NewToolCall("flaky", nil, ""),
		models.NewToolCall("flaky", nil, ""),
		models.NewToolCall("flaky", nil, ""),
		models.NewFinish(nil, "done", true),
	}}
	c := NewController(policy, testRegistry(t, flaky), WithConfig(fastConfig()))
	sess := NewSession("run-streak")

	sum, err := c.Run(context.Background(), sess, "go")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != models.StatusFinished {
		t.Errorf("status = %s, want finished (streak broken by success)", sum.Status)
	}
}

func TestRunPauseAndResume(t *testing.T) {
	clarify := &staticTool{
		name: "clarify",
		execute: func(ctx context.Context, input map[string]any) (*Outcome, error) {
			return &Outcome{Success: true, Result: map[string]any{
				PauseExecutionKey:   true,
				ClarifyQuestionsKey: []string{"deploy where?"},
				ClarifyReasonKey:    "target unclear",
			}}, nil
		},
	}
	policy := &scriptPolicy{actions: []models.Action{
		models.NewToolCall("clarify", nil, ""),
		models.NewFinish(nil, "deployed", true),
	}}
	c := NewController(policy, testRegistry(t, clarify), WithConfig(fastConfig()))
	sess := NewSession("run-pause")

	sum, err := c.Run(context.Background(), sess, "deploy")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != models.StatusWaitingUser {
		t.Fatalf("status = %s, want waiting_user", sum.Status)
	}
	pending, ok := sess.PendingClarification()
	if !ok {
		t.Fatal("expected pending clarification")
	}
	if len(pending.Questions) != 1 || pending.Questions[0] != "deploy where?" {
		t.Errorf("questions = %v", pending.Questions)
	}
	if pending.Reason != "target unclear" {
		t.Errorf("reason = %q", pending.Reason)
	}

	sum, err = c.Resume(context.Background(), sess, []string{"staging"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if sum.Status != models.StatusFinished {
		t.Fatalf("status after resume = %s, want finished", sum.Status)
	}
	resolved := sess.ResolvedClarifications()
	if len(resolved) != 1 || resolved[0].UserResponses[0] != "staging" {
		t.Errorf("resolved clarifications = %+v", resolved)
	}
}

func TestResumeNotWaiting(t *testing.T) {
	policy := &scriptPolicy{}
	c := NewController(policy, testRegistry(t), WithConfig(fastConfig()))
	sess := NewSession("run-nowait")

	if _, err := c.Resume(context.Background(), sess, nil); err == nil {
		t.Fatal("expected error resuming an idle session")
	}
}

func TestRunPlanModeHaltsOnAgentMessage(t *testing.T) {
	policy := &scriptPolicy{actions: []models.Action{
		models.NewMessage("here is my plan", models.OriginAgent),
	}}
	cfg := fastConfig()
	cfg.Mode = ModePlan
	c := NewController(policy, testRegistry(t), WithConfig(cfg))
	sess := NewSession("run-plan")

	sum, err := c.Run(context.Background(), sess, "plan something")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != models.StatusWaitingUser {
		t.Fatalf("status = %s, want waiting_user", sum.Status)
	}
	if policy.calls != 1 {
		t.Errorf("policy consulted %d times, want 1", policy.calls)
	}
}

func TestRunDefaultModeContinuesPastAgentMessage(t *testing.T) {
	policy := &scriptPolicy{actions: []models.Action{
		models.NewMessage("working on it", models.OriginAgent),
		models.NewFinish(nil, "done", true),
	}}
	c := NewController(policy, testRegistry(t), WithConfig(fastConfig()))
	sess := NewSession("run-default")

	sum, err := c.Run(context.Background(), sess, "go")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != models.StatusFinished {
		t.Fatalf("status = %s, want finished", sum.Status)
	}
}

func TestRunCancellation(t *testing.T) {
	policy := &scriptPolicy{actions: []models.Action{models.NewThink("hmm")}}
	c := NewController(policy, testRegistry(t), WithConfig(fastConfig()))
	sess := NewSession("run-cancel")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := c.Run(ctx, sess, "go")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if sum.Status != models.StatusError {
		t.Fatalf("status = %s, want error", sum.Status)
	}
	h := sess.History()
	last, ok := h[len(h)-1].(*models.ErrorObservation)
	if !ok {
		t.Fatalf("last event = %T, want ErrorObservation", h[len(h)-1])
	}
	if last.Message == "" {
		t.Error("cancellation observation should carry a message")
	}
}

func TestRunRetriesRetryableToolFailure(t *testing.T) {
	attempts := 0
	flaky := &staticTool{
		name: "net",
		execute: func(ctx context.Context, input map[string]any) (*Outcome, error) {
			attempts++
			if attempts < 3 {
				return nil, fmt.Errorf("connection refused")
			}
			return &Outcome{Success: true, Result: map[string]any{"ok": true}}, nil
		},
	}
	call := models.NewToolCall("net", nil, "net-call-1")
	policy := &scriptPolicy{actions: []models.Action{
		call,
		models.NewFinish(nil, "done", true),
	}}
	c := NewController(policy, testRegistry(t, flaky), WithConfig(fastConfig()))
	sess := NewSession("run-retry")

	sum, err := c.Run(context.Background(), sess, "fetch")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != models.StatusFinished {
		t.Fatalf("status = %s, want finished", sum.Status)
	}
	if attempts != 3 {
		t.Errorf("tool executed %d times, want 3", attempts)
	}
	if rc, ok := sess.RetryContext("net-call-1"); !ok || rc.Attempts != 2 {
		t.Errorf("retry context = %+v, ok=%v, want 2 recorded failures", rc, ok)
	}
	// The retries happened inside one iteration.
	if sum.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", sum.Iterations)
	}
}

func TestRunDoesNotRetryNonRetryableFailure(t *testing.T) {
	attempts := 0
	broken := &staticTool{
		name: "broken",
		execute: func(ctx context.Context, input map[string]any) (*Outcome, error) {
			attempts++
			return nil, fmt.Errorf("segmentation violation")
		},
	}
	policy := &scriptPolicy{actions: []models.Action{
		models.NewToolCall("broken", nil, ""),
		models.NewFinish(nil, "gave up", false),
	}}
	c := NewController(policy, testRegistry(t, broken), WithConfig(fastConfig()))
	sess := NewSession("run-noretry")

	if _, err := c.Run(context.Background(), sess, "try"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 1 {
		t.Errorf("non-retryable failure executed %d times, want 1", attempts)
	}
}

func TestRunPolicyErrorsCountTowardStreak(t *testing.T) {
	policy := &scriptPolicy{errs: []error{
		fmt.Errorf("model unavailable"),
		fmt.Errorf("model unavailable"),
		fmt.Errorf("model unavailable"),
	}}
	c := NewController(policy, testRegistry(t), WithConfig(fastConfig()))
	sess := NewSession("run-polerr")

	sum, err := c.Run(context.Background(), sess, "go")
	if err == nil {
		t.Fatal("expected abort after repeated policy failures")
	}
	if sum.Status != models.StatusError {
		t.Fatalf("status = %s, want error", sum.Status)
	}
	if policy.calls != 3 {
		t.Errorf("policy consulted %d times, want 3", policy.calls)
	}
}

func TestRunNoPolicy(t *testing.T) {
	c := NewController(nil, testRegistry(t))
	if _, err := c.Run(context.Background(), NewSession("t"), "go"); err != ErrNoPolicy {
		t.Errorf("Run without policy = %v, want ErrNoPolicy", err)
	}
}

func TestRunNotifiesObservers(t *testing.T) {
	policy := &scriptPolicy{actions: []models.Action{
		models.NewThink("step one"),
		models.NewFinish(nil, "done", true),
	}}
	var records []models.StepRecord
	obs := NewCallbackObserver(func(ctx context.Context, rec models.StepRecord) {
		records = append(records, rec)
	})
	c := NewController(policy, testRegistry(t), WithConfig(fastConfig()), WithObserver(obs))
	sess := NewSession("run-obs")

	if _, err := c.Run(context.Background(), sess, "go"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("observer got %d records, want 2", len(records))
	}
	if records[0].IsComplete {
		t.Error("first step should not be marked complete")
	}
	if !records[1].IsComplete {
		t.Error("final step should be marked complete")
	}
	if records[1].Iteration != 2 {
		t.Errorf("final record iteration = %d, want 2", records[1].Iteration)
	}
}

func TestRunFreezesRegistry(t *testing.T) {
	policy := &scriptPolicy{actions: []models.Action{models.NewFinish(nil, "done", true)}}
	reg := testRegistry(t)
	c := NewController(policy, reg, WithConfig(fastConfig()))

	if _, err := c.Run(context.Background(), NewSession("t"), "go"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := reg.Register(&staticTool{name: "late"}); err == nil {
		t.Error("registry should be frozen after a run starts")
	}
}
