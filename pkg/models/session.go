package models

import (
	"encoding/json"
	"time"
)

// Status is the session lifecycle state. Transitions are validated by the
// engine; no other writer sets a session's status directly.
type Status string

const (
	// StatusIdle is the initial state before the first iteration.
	StatusIdle Status = "idle"

	// StatusRunning means the controller loop is advancing iterations.
	StatusRunning Status = "running"

	// StatusWaitingUser means a tool paused the loop pending human input.
	StatusWaitingUser Status = "waiting_user"

	// StatusError is the terminal state for failed runs and cancellation.
	StatusError Status = "error"

	// StatusFinished is the terminal state for completed runs.
	StatusFinished Status = "finished"

	// StatusTruncated is the terminal state when the iteration safety
	// valve fires. Kept distinct from both error and finished so callers
	// can tell "agent decided it was done" from "engine cut it off".
	StatusTruncated Status = "truncated"
)

// Terminal reports whether the status ends the current run.
// waiting_user is not terminal: a resume re-enters the loop.
func (s Status) Terminal() bool {
	switch s {
	case StatusError, StatusFinished, StatusTruncated:
		return true
	default:
		return false
	}
}

// Metrics are derived counters a session updates as events are appended.
type Metrics struct {
	Iterations     int       `json:"iterations"`
	ToolCalls      int       `json:"tool_calls"`
	RetrievalCalls int       `json:"retrieval_calls"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
}

// RetryContext tracks attempts for one action across re-executions.
type RetryContext struct {
	ActionID  string    `json:"action_id"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// ClarificationRecord captures a paused question to the user and, once
// resolved, the responses supplied on resume.
type ClarificationRecord struct {
	ID            string    `json:"id"`
	Questions     []string  `json:"questions"`
	Reason        string    `json:"reason,omitempty"`
	Assumptions   []string  `json:"assumptions,omitempty"`
	Alternatives  []string  `json:"alternatives,omitempty"`
	UserResponses []string  `json:"user_responses,omitempty"`
	Resolved      bool      `json:"resolved"`
	Timestamp     time.Time `json:"timestamp"`
}

// Summary is a caller-facing projection of a session's outcome, useful for
// diagnostics after error or truncation without walking the history.
type Summary struct {
	SessionID      string        `json:"session_id"`
	Status         Status        `json:"status"`
	Iterations     int           `json:"iterations"`
	ToolCalls      int           `json:"tool_calls"`
	RetrievalCalls int           `json:"retrieval_calls"`
	Events         int           `json:"events"`
	Duration       time.Duration `json:"duration"`
	LastError      string        `json:"last_error,omitempty"`
	PendingID      string        `json:"pending_clarification_id,omitempty"`
}

// StepRecord is what the controller pushes to streaming observers after
// each step. This is a push interface with no backpressure contract.
type StepRecord struct {
	Action      Action
	Observation Observation
	IsComplete  bool
	Iteration   int
}

// SessionSnapshot is the serializable form of a session for the persistence
// boundary: history, metrics, status, and bookkeeping. The engine does not
// persist snapshots itself; stores do.
type SessionSnapshot struct {
	SessionID      string                  `json:"session_id"`
	Status         Status                  `json:"status"`
	RetrievalTool  string                  `json:"retrieval_tool,omitempty"`
	History        json.RawMessage         `json:"history"`
	Metrics        Metrics                 `json:"metrics"`
	RetryContexts  map[string]RetryContext `json:"retry_contexts,omitempty"`
	Clarifications []ClarificationRecord   `json:"clarifications,omitempty"`
	Metadata       map[string]any          `json:"metadata,omitempty"`
	SavedAt        time.Time               `json:"saved_at"`
}
