package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/okapilabs/steer/internal/backoff"
	"github.com/okapilabs/steer/pkg/models"
)

// Defaults for ControllerConfig fields left at their zero value.
const (
	DefaultMaxIterations        = 10
	DefaultMaxConsecutiveErrors = 3
)

// ControllerConfig bounds and shapes a controller's loop.
type ControllerConfig struct {
	// MaxIterations is the safety valve: the loop truncates rather than
	// start iteration MaxIterations+1.
	MaxIterations int

	// MaxConsecutiveErrors aborts the run once that many failure
	// observations land in a row.
	MaxConsecutiveErrors int

	// Mode selects default or plan interaction style.
	Mode Mode

	// MaxToolAttempts bounds in-iteration retries of a retryable tool
	// failure. Zero means DefaultMaxAttempts.
	MaxToolAttempts int

	// Backoff paces those retries.
	Backoff backoff.Policy
}

// DefaultControllerConfig returns the standard loop bounds.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxIterations:        DefaultMaxIterations,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		Mode:                 ModeDefault,
		MaxToolAttempts:      DefaultMaxAttempts,
		Backoff:              backoff.Default(),
	}
}

// normalize fills zero-valued fields with defaults.
func (c ControllerConfig) normalize() ControllerConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.Mode == "" {
		c.Mode = ModeDefault
	}
	if c.MaxToolAttempts <= 0 {
		c.MaxToolAttempts = DefaultMaxAttempts
	}
	if c.Backoff == (backoff.Policy{}) {
		c.Backoff = backoff.Default()
	}
	return c
}

// Controller drives the agent loop for a session: ask the decision policy
// for an action, execute it, record the observation, and apply the
// continuation rules until a terminal state or pause.
type Controller struct {
	policy   DecisionPolicy
	registry *ToolRegistry
	cfg      ControllerConfig
	observer StepObserver
	logger   *slog.Logger
	tracer   trace.Tracer
}

// ControllerOption customizes controller construction.
type ControllerOption func(*Controller)

// WithConfig replaces the default loop bounds.
func WithConfig(cfg ControllerConfig) ControllerOption {
	return func(c *Controller) { c.cfg = cfg.normalize() }
}

// WithObserver attaches a step observer. Compose several with
// NewMultiObserver.
func WithObserver(obs StepObserver) ControllerOption {
	return func(c *Controller) {
		if obs != nil {
			c.observer = obs
		}
	}
}

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController creates a controller around a decision policy and a tool
// registry.
func NewController(policy DecisionPolicy, registry *ToolRegistry, opts ...ControllerOption) *Controller {
	c := &Controller{
		policy:   policy,
		registry: registry,
		cfg:      DefaultControllerConfig(),
		observer: NopObserver{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("steer/engine"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run starts or continues the loop for a session, optionally seeding it
// with a user message. It returns when the session reaches a terminal
// status or pauses for user input; the summary reports which.
//
// The returned error covers loop failures (cancellation, the consecutive
// failure limit, invalid session state). Truncation at the iteration cap is
// not an error: the session lands in the truncated status and the summary
// carries the detail.
func (c *Controller) Run(ctx context.Context, sess *Session, userMessage string) (models.Summary, error) {
	if c.policy == nil {
		return sess.Summary(), ErrNoPolicy
	}
	c.registry.Freeze()

	if userMessage != "" {
		sess.AddEvent(models.NewMessage(userMessage, models.OriginUser))
	}

	err := c.runLoop(ctx, sess)
	return sess.Summary(), err
}

// Resume continues a session paused for user input. Responses, when
// supplied, resolve the pending clarification and are appended to the
// history as a user message so the decision policy sees them.
func (c *Controller) Resume(ctx context.Context, sess *Session, responses []string) (models.Summary, error) {
	if c.policy == nil {
		return sess.Summary(), ErrNoPolicy
	}

	if pending, ok := sess.PendingClarification(); ok && len(responses) > 0 {
		if err := sess.AddClarificationResponses(pending.ID, responses); err != nil {
			return sess.Summary(), err
		}
	}
	if err := sess.ResumeExecution(); err != nil {
		return sess.Summary(), err
	}
	if len(responses) > 0 {
		sess.AddEvent(models.NewMessage(strings.Join(responses, "\n"), models.OriginUser))
	}

	err := c.runLoop(ctx, sess)
	return sess.Summary(), err
}

// runLoop is the iteration engine shared by Run and Resume.
func (c *Controller) runLoop(ctx context.Context, sess *Session) error {
	log := c.logger.With("session_id", sess.ID())

	for {
		if ctx.Err() != nil {
			return c.abortCancelled(sess, log, ctx.Err())
		}

		if sess.Metrics().Iterations >= c.cfg.MaxIterations {
			log.Warn("iteration limit reached, truncating session",
				"max_iterations", c.cfg.MaxIterations)
			sessionsEndedTotal.WithLabelValues(string(models.StatusTruncated)).Inc()
			return sess.Truncate()
		}

		if err := sess.StartIteration(); err != nil {
			return err
		}
		iterationsTotal.Inc()
		iteration := sess.Metrics().Iterations

		iterCtx, span := c.tracer.Start(ctx, "engine.iteration", trace.WithAttributes(
			attribute.String("session.id", sess.ID()),
			attribute.Int("session.iteration", iteration),
		))

		action, err := c.policy.Decide(iterCtx, StepContext{
			SessionID:      sess.ID(),
			History:        sess.History(),
			Clarifications: sess.ResolvedClarifications(),
			Tools:          c.registry.Schemas(),
		})
		if err != nil {
			span.End()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return c.abortCancelled(sess, log, err)
			}
			obs := models.NewErrorObservation("decision policy failed: "+err.Error(), nil)
			sess.AddEvent(obs)
			c.observer.OnStep(ctx, models.StepRecord{Observation: obs, Iteration: iteration})
			log.Error("decision policy failed", "error", err, "iteration", iteration)

			if streak := consecutiveFailures(sess.History()); streak >= c.cfg.MaxConsecutiveErrors {
				return c.abortErrored(sess, log, streak)
			}
			continue
		}

		sess.AddEvent(action)
		log.Debug("executing action", "kind", string(action.Kind()), "iteration", iteration)

		obs := c.executeAction(iterCtx, sess, action)
		sess.AddEvent(obs)
		span.End()

		verdict := evaluateStep(c.cfg, sess, action, obs)
		c.observer.OnStep(ctx, models.StepRecord{
			Action:      action,
			Observation: obs,
			IsComplete:  verdict != verdictContinue,
			Iteration:   iteration,
		})

		switch verdict {
		case verdictFinished:
			log.Info("session finished", "iterations", iteration)
			sessionsEndedTotal.WithLabelValues(string(models.StatusFinished)).Inc()
			return sess.Finish()

		case verdictPaused:
			if tr, ok := obs.(*models.ToolResult); ok {
				questions, reason, assumptions, alternatives := clarificationDetails(tr)
				if _, cerr := sess.RecordClarification("", questions, reason, assumptions, alternatives); cerr != nil {
					log.Warn("pause request ignored", "error", cerr)
				}
			}
			log.Info("session paused for user input", "iterations", iteration)
			return sess.WaitForUser()

		case verdictErrored:
			return c.abortErrored(sess, log, consecutiveFailures(sess.History()))

		case verdictPlanHalt:
			log.Info("plan mode halted on agent message", "iterations", iteration)
			return sess.WaitForUser()
		}
	}
}

// abortCancelled records cancellation in the history and moves the session
// to the error terminal state.
func (c *Controller) abortCancelled(sess *Session, log *slog.Logger, cause error) error {
	sess.AddEvent(models.NewErrorObservation("cancelled: "+cause.Error(), nil))
	log.Warn("run cancelled", "error", cause)
	sessionsEndedTotal.WithLabelValues(string(models.StatusError)).Inc()
	if serr := sess.SetError(cause); serr != nil {
		return serr
	}
	return cause
}

// abortErrored ends the run after the consecutive failure limit fires.
func (c *Controller) abortErrored(sess *Session, log *slog.Logger, streak int) error {
	err := fmt.Errorf("aborted after %d consecutive failures", streak)
	log.Error("session aborted", "consecutive_failures", streak)
	sessionsEndedTotal.WithLabelValues(string(models.StatusError)).Inc()
	if serr := sess.SetError(err); serr != nil {
		return serr
	}
	return err
}

// executeAction turns an action into its observation. Messages and thoughts
// have no side effect to observe and get a success acknowledgment; a finish
// is reported as a synthetic tool result against the reserved finish
// capability.
func (c *Controller) executeAction(ctx context.Context, sess *Session, action models.Action) models.Observation {
	switch a := action.(type) {
	case *models.ToolCall:
		return c.invokeTool(ctx, sess, a)

	case *models.Finish:
		payload := map[string]any{
			"summary":   a.Summary,
			"completed": a.Completed,
		}
		if len(a.Outputs) > 0 {
			payload["outputs"] = a.Outputs
		}
		return models.NewToolResult(FinishToolName, "", payload, true)

	case *models.Message:
		return models.NewSuccessObservation("message recorded")

	case *models.Think:
		return models.NewSuccessObservation("thought recorded")

	default:
		return models.NewErrorObservation("unsupported action kind: "+string(action.Kind()), nil)
	}
}

// invokeTool executes a tool call, retrying retryable infrastructure
// failures with backoff until the attempt budget runs out. Domain failures
// (unsuccessful outcomes, invalid input) are never retried.
func (c *Controller) invokeTool(ctx context.Context, sess *Session, call *models.ToolCall) models.Observation {
	log := c.logger.With("session_id", sess.ID(), "tool", call.ToolName, "call_id", call.CallID)

	for {
		start := time.Now()
		outcome, err := c.registry.Invoke(ctx, call)
		toolDurationSeconds.WithLabelValues(call.ToolName).Observe(time.Since(start).Seconds())

		if err == nil {
			if outcome.Success {
				toolInvocationsTotal.WithLabelValues(call.ToolName, outcomeSuccess).Inc()
				return models.NewToolResult(call.ToolName, call.CallID, outcomePayload(outcome), true)
			}
			toolInvocationsTotal.WithLabelValues(call.ToolName, outcomeFailure).Inc()
			log.Debug("tool reported failure", "error", outcome.Error)
			return models.NewToolResult(call.ToolName, call.CallID, outcomePayload(outcome), false)
		}

		rc := sess.RecordAttempt(call.CallID, err)
		if IsToolRetryable(err) && sess.ShouldRetry(call.CallID, c.cfg.MaxToolAttempts) && ctx.Err() == nil {
			toolRetriesTotal.WithLabelValues(call.ToolName).Inc()
			log.Warn("retrying tool call", "attempt", rc.Attempts, "error", err)
			if serr := backoff.Sleep(ctx, c.cfg.Backoff, rc.Attempts); serr == nil {
				continue
			}
		}

		toolInvocationsTotal.WithLabelValues(call.ToolName, outcomeError).Inc()
		log.Error("tool call failed", "attempts", rc.Attempts, "error", err)
		return models.NewErrorObservation(err.Error(), map[string]any{
			"tool":     call.ToolName,
			"call_id":  call.CallID,
			"attempts": rc.Attempts,
		})
	}
}

// outcomePayload shapes an outcome into a tool result payload. The result
// map is copied so the tool's map is never aliased into the history; the
// error string of a failed outcome rides along under "error".
func outcomePayload(outcome *Outcome) map[string]any {
	payload := make(map[string]any, len(outcome.Result)+1)
	for k, v := range outcome.Result {
		payload[k] = v
	}
	if outcome.Error != "" {
		payload["error"] = outcome.Error
	}
	return payload
}
