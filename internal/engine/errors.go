package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the engine.
var (
	// ErrMaxIterations means the loop hit its iteration safety valve.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoPolicy means the controller was built without a decision policy.
	ErrNoPolicy = errors.New("no decision policy configured")

	// ErrUnknownTool means a tool call named a capability the registry
	// does not hold.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolPanic means a tool panicked and the registry recovered it.
	ErrToolPanic = errors.New("tool panicked")

	// ErrRegistryFrozen means Register was called after a run started.
	ErrRegistryFrozen = errors.New("tool registry is frozen")

	// ErrInvalidTransition means a session status change broke the state
	// machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotWaiting means Resume was called on a session that is not
	// paused for user input.
	ErrNotWaiting = errors.New("session is not waiting for user input")

	// ErrUnknownClarification means responses named a clarification ID the
	// session never issued.
	ErrUnknownClarification = errors.New("unknown clarification id")
)

// ToolErrorType buckets tool failures so the retry path can tell transient
// trouble from permanent.
type ToolErrorType string

const (
	// ToolErrorNotFound: the named tool is not registered.
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidInput: the input failed schema validation.
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorTimeout: the call ran out of time.
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorNetwork: the call failed to reach its backend.
	ToolErrorNetwork ToolErrorType = "network"

	// ToolErrorRateLimit: the backend pushed back on request volume.
	ToolErrorRateLimit ToolErrorType = "rate_limit"

	// ToolErrorExecution: the tool ran and failed.
	ToolErrorExecution ToolErrorType = "execution"

	// ToolErrorPanic: the tool panicked.
	ToolErrorPanic ToolErrorType = "panic"

	// ToolErrorUnknown: nothing matched.
	ToolErrorUnknown ToolErrorType = "unknown"
)

// IsRetryable reports whether another attempt could plausibly succeed.
// Only timeouts, network trouble, and rate limiting qualify.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError is a classified tool execution failure. The controller consults
// Retryable for its in-iteration retry decision; ToolName, CallID, and
// Attempts correlate the failure back to the originating call.
type ToolError struct {
	Type      ToolErrorType
	ToolName  string
	CallID    string
	Message   string
	Cause     error
	Retryable bool
	Attempts  int
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))

	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError wraps a cause, inferring the type and retryability from its
// content.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorUnknown,
		Attempts: 1,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
		err.Retryable = err.Type.IsRetryable()
	}

	return err
}

// WithType overrides the inferred classification, recomputing retryability.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	e.Retryable = t.IsRetryable()
	return e
}

// WithCallID attaches the originating tool call's ID.
func (e *ToolError) WithCallID(id string) *ToolError {
	e.CallID = id
	return e
}

// WithAttempts records how many executions were tried.
func (e *ToolError) WithAttempts(n int) *ToolError {
	e.Attempts = n
	return e
}

// classifyToolError infers a type from the error's content: known sentinels
// first, then substring matching on the message.
func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}

	if errors.Is(err, ErrUnknownTool) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return ToolErrorTimeout
	}

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "refused") ||
		strings.Contains(errStr, "unreachable") {
		return ToolErrorNetwork
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return ToolErrorRateLimit
	}

	if strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "validation") ||
		strings.Contains(errStr, "required") ||
		strings.Contains(errStr, "missing") {
		return ToolErrorInvalidInput
	}

	return ToolErrorExecution
}

// IsToolRetryable reports whether err, classified if necessary, is worth
// another attempt.
func IsToolRetryable(err error) bool {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Retryable
	}
	return classifyToolError(err).IsRetryable()
}

// ValidationError reports which parameters failed the tool contract check.
type ValidationError struct {
	ToolName string
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input for tool %s: %s", e.ToolName, strings.Join(e.Problems, "; "))
}
