// Package models provides the domain types for the steer execution engine:
// the action/observation event union, session status machine, and the
// bookkeeping records the engine maintains per session.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the concrete variant of an Event.
type EventKind string

const (
	// Action kinds, produced by the decision policy.
	KindMessage  EventKind = "message"
	KindToolCall EventKind = "tool_call"
	KindThink    EventKind = "think"
	KindFinish   EventKind = "finish"

	// Observation kinds, produced by the controller.
	KindToolResult EventKind = "tool_result"
	KindError      EventKind = "error"
	KindSuccess    EventKind = "success"
)

// Origin identifies who authored a Message action.
type Origin string

const (
	OriginUser  Origin = "user"
	OriginAgent Origin = "agent"
)

// Event is one entry in a session's append-only history. Events are
// immutable once appended; timestamps are stamped at construction and never
// supplied by callers, so append order and timestamp order agree.
//
// Event is a sealed union: the only implementations are the Action and
// Observation variants in this package. Consumers dispatch with a type
// switch; a new variant is a compile-visible change to that switch.
type Event interface {
	Kind() EventKind
	Timestamp() time.Time

	sealedEvent()
}

// Action is an engine-recorded intent produced by the decision policy.
type Action interface {
	Event
	sealedAction()
}

// Observation is the engine-recorded result of executing an Action.
type Observation interface {
	Event
	sealedObservation()
}

// base carries the fields shared by every variant.
type base struct {
	kind EventKind
	ts   time.Time
}

func newBase(kind EventKind) base     { return base{kind: kind, ts: time.Now()} }
func (b base) Kind() EventKind        { return b.kind }
func (b base) Timestamp() time.Time   { return b.ts }
func (base) sealedEvent()             {}

type actionBase struct{ base }

func (actionBase) sealedAction() {}

type observationBase struct{ base }

func (observationBase) sealedObservation() {}

// Message is a conversational turn from the user or the agent.
type Message struct {
	actionBase
	Content string
	Origin  Origin
}

// NewMessage creates a Message action stamped with the current time.
func NewMessage(content string, origin Origin) *Message {
	return &Message{actionBase: actionBase{newBase(KindMessage)}, Content: content, Origin: origin}
}

// ToolCall is a request to invoke a named capability with structured input.
type ToolCall struct {
	actionBase
	ToolName string
	Input    map[string]any
	CallID   string
}

// NewToolCall creates a ToolCall action. A call ID is generated when the
// caller passes an empty one.
func NewToolCall(toolName string, input map[string]any, callID string) *ToolCall {
	if callID == "" {
		callID = uuid.NewString()
	}
	return &ToolCall{
		actionBase: actionBase{newBase(KindToolCall)},
		ToolName:   toolName,
		Input:      input,
		CallID:     callID,
	}
}

// Think records internal reasoning. It is never surfaced to external
// consumers; observers receive it only so traces stay complete.
type Think struct {
	actionBase
	Thought string
}

// NewThink creates a Think action stamped with the current time.
func NewThink(thought string) *Think {
	return &Think{actionBase: actionBase{newBase(KindThink)}, Thought: thought}
}

// Finish signals that the agent considers the task done (or has given up
// when Completed is false).
type Finish struct {
	actionBase
	Outputs   map[string]any
	Summary   string
	Completed bool
}

// NewFinish creates a Finish action stamped with the current time.
func NewFinish(outputs map[string]any, summary string, completed bool) *Finish {
	return &Finish{
		actionBase: actionBase{newBase(KindFinish)},
		Outputs:    outputs,
		Summary:    summary,
		Completed:  completed,
	}
}

// ToolResult is the outcome of a tool invocation. Payload holds either the
// tool's textual output or its structured result map.
type ToolResult struct {
	observationBase
	ToolName string
	CallID   string
	Payload  any
	Success  bool
}

// NewToolResult creates a ToolResult observation stamped with the current time.
func NewToolResult(toolName, callID string, payload any, success bool) *ToolResult {
	return &ToolResult{
		observationBase: observationBase{newBase(KindToolResult)},
		ToolName:        toolName,
		CallID:          callID,
		Payload:         payload,
		Success:         success,
	}
}

// ErrorObservation records a recoverable failure: unknown tool, tool
// execution error, decision policy error, or cancellation.
type ErrorObservation struct {
	observationBase
	Message string
	Details map[string]any
}

// NewErrorObservation creates an ErrorObservation stamped with the current time.
func NewErrorObservation(message string, details map[string]any) *ErrorObservation {
	return &ErrorObservation{
		observationBase: observationBase{newBase(KindError)},
		Message:         message,
		Details:         details,
	}
}

// SuccessObservation acknowledges actions that have no side effect to
// observe (messages and internal thoughts).
type SuccessObservation struct {
	observationBase
	Message string
}

// NewSuccessObservation creates a SuccessObservation stamped with the current time.
func NewSuccessObservation(message string) *SuccessObservation {
	return &SuccessObservation{
		observationBase: observationBase{newBase(KindSuccess)},
		Message:         message,
	}
}

// IsFailure reports whether the observation represents a failed step:
// either an ErrorObservation or an unsuccessful ToolResult. The controller's
// error-streak rule counts these.
func IsFailure(obs Observation) bool {
	switch o := obs.(type) {
	case *ErrorObservation:
		return true
	case *ToolResult:
		return !o.Success
	case *SuccessObservation:
		return false
	default:
		return false
	}
}
