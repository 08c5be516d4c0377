package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okapilabs/steer/pkg/models"
)

// DefaultRetrievalTool is the capability name counted as a retrieval call
// in session metrics unless the session is configured otherwise.
const DefaultRetrievalTool = "search"

// DefaultMaxAttempts bounds per-action retries recorded through the
// session's retry contexts.
const DefaultMaxAttempts = 3

// validTransitions is the session status state machine. Absent entries are
// rejected; terminal states allow no outgoing transitions within a run
// (Reset starts a new run from idle).
var validTransitions = map[models.Status][]models.Status{
	models.StatusIdle:        {models.StatusRunning, models.StatusError},
	models.StatusRunning:     {models.StatusRunning, models.StatusWaitingUser, models.StatusError, models.StatusFinished, models.StatusTruncated},
	models.StatusWaitingUser: {models.StatusRunning, models.StatusError},
}

// Session is the mutable state of one conversation: its append-only event
// history, lifecycle status, derived metrics, and retry/clarification
// bookkeeping. One controller loop drives a session at a time; the mutex
// exists so callers can inspect state (summary, history, snapshot) while a
// run is in flight.
type Session struct {
	mu sync.RWMutex

	id            string
	history       []models.Event
	status        models.Status
	metrics       models.Metrics
	retrievalTool string

	retryContexts  map[string]models.RetryContext
	clarifications []models.ClarificationRecord
	metadata       map[string]any

	lastError string
}

// SessionOption customizes session construction.
type SessionOption func(*Session)

// WithRetrievalTool overrides the capability name counted as a retrieval
// call in metrics.
func WithRetrievalTool(name string) SessionOption {
	return func(s *Session) {
		if name != "" {
			s.retrievalTool = name
		}
	}
}

// NewSession creates an idle session. An ID is generated when the caller
// passes an empty one.
func NewSession(id string, opts ...SessionOption) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		id:            id,
		status:        models.StatusIdle,
		retrievalTool: DefaultRetrievalTool,
		retryContexts: make(map[string]models.RetryContext),
		metadata:      make(map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the immutable session identifier.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current lifecycle status.
func (s *Session) Status() models.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Metrics returns a copy of the derived counters.
func (s *Session) Metrics() models.Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// History returns a copy of the event slice. The events themselves are
// immutable, so sharing the elements is safe.
func (s *Session) History() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Event, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of events in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// AddEvent appends an event to the history and updates the derived
// counters. Events are never removed or edited after append.
func (s *Session) AddEvent(e models.Event) {
	if e == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, e)
	if tc, ok := e.(*models.ToolCall); ok {
		s.metrics.ToolCalls++
		if tc.ToolName == s.retrievalTool {
			s.metrics.RetrievalCalls++
		}
	}
}

// transitionLocked validates and applies a status change. Callers hold the
// write lock.
func (s *Session) transitionLocked(to models.Status) error {
	for _, allowed := range validTransitions[s.status] {
		if allowed == to {
			s.status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, to)
}

// StartIteration bumps the iteration counter and moves the session to
// running. Idempotent with respect to status when already running; the
// first call stamps the metrics start time.
func (s *Session) StartIteration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StatusRunning {
		if err := s.transitionLocked(models.StatusRunning); err != nil {
			return err
		}
	}
	if s.metrics.StartTime.IsZero() {
		s.metrics.StartTime = time.Now()
	}
	s.metrics.Iterations++
	return nil
}

// Finish moves the session to the finished terminal state and stamps the
// metrics end time.
func (s *Session) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(models.StatusFinished); err != nil {
		return err
	}
	s.metrics.EndTime = time.Now()
	return nil
}

// Truncate moves the session to the truncated terminal state, used when the
// iteration safety valve fires.
func (s *Session) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(models.StatusTruncated); err != nil {
		return err
	}
	s.metrics.EndTime = time.Now()
	s.lastError = ErrMaxIterations.Error()
	return nil
}

// WaitForUser pauses the session pending external input.
func (s *Session) WaitForUser() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(models.StatusWaitingUser)
}

// ResumeExecution moves a paused session back to running. It is a no-op
// error unless the session is currently waiting for the user.
func (s *Session) ResumeExecution() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != models.StatusWaitingUser {
		return ErrNotWaiting
	}
	return s.transitionLocked(models.StatusRunning)
}

// SetError moves the session to the error terminal state and records the
// failure for the summary projection.
func (s *Session) SetError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if terr := s.transitionLocked(models.StatusError); terr != nil {
		return terr
	}
	s.metrics.EndTime = time.Now()
	if err != nil {
		s.lastError = err.Error()
	}
	return nil
}

// RecordAttempt creates or increments the retry context for an action and
// returns a copy of its current state.
func (s *Session) RecordAttempt(actionID string, attemptErr error) models.RetryContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.retryContexts[actionID]
	if !ok {
		rc = models.RetryContext{ActionID: actionID, StartTime: time.Now()}
	}
	rc.Attempts++
	if attemptErr != nil {
		rc.LastError = attemptErr.Error()
	}
	s.retryContexts[actionID] = rc
	return rc
}

// ShouldRetry reports whether the action has attempts remaining.
func (s *Session) ShouldRetry(actionID string, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.retryContexts[actionID]
	if !ok {
		return true
	}
	return rc.Attempts < maxAttempts
}

// RetryContext returns the retry context for an action, if any.
func (s *Session) RetryContext(actionID string) (models.RetryContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.retryContexts[actionID]
	return rc, ok
}

// RecordClarification registers a new pending clarification. At most one
// clarification is unresolved at a time; a second is rejected until the
// first is answered.
func (s *Session) RecordClarification(id string, questions []string, reason string, assumptions, alternatives []string) (models.ClarificationRecord, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.clarifications {
		if !s.clarifications[i].Resolved {
			return models.ClarificationRecord{}, fmt.Errorf("clarification %s is still pending", s.clarifications[i].ID)
		}
	}

	rec := models.ClarificationRecord{
		ID:           id,
		Questions:    append([]string(nil), questions...),
		Reason:       reason,
		Assumptions:  append([]string(nil), assumptions...),
		Alternatives: append([]string(nil), alternatives...),
		Timestamp:    time.Now(),
	}
	s.clarifications = append(s.clarifications, rec)
	return rec, nil
}

// AddClarificationResponses records the user's answers to a pending
// clarification, marking it resolved. Returns ErrUnknownClarification when
// the ID has never been issued.
func (s *Session) AddClarificationResponses(id string, responses []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.clarifications {
		if s.clarifications[i].ID == id {
			s.clarifications[i].UserResponses = append([]string(nil), responses...)
			s.clarifications[i].Resolved = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownClarification, id)
}

// PendingClarification returns the unresolved clarification, if any.
func (s *Session) PendingClarification() (models.ClarificationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.clarifications {
		if !s.clarifications[i].Resolved {
			return s.clarifications[i], true
		}
	}
	return models.ClarificationRecord{}, false
}

// IsWaitingForClarification reports whether the session is paused with an
// unresolved clarification on file.
func (s *Session) IsWaitingForClarification() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != models.StatusWaitingUser {
		return false
	}
	for i := range s.clarifications {
		if !s.clarifications[i].Resolved {
			return true
		}
	}
	return false
}

// Clarifications returns a copy of the clarification history in issue order.
func (s *Session) Clarifications() []models.ClarificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ClarificationRecord, len(s.clarifications))
	copy(out, s.clarifications)
	return out
}

// ResolvedClarifications returns the resolved records, oldest first, for
// surfacing to the decision policy as context on resume.
func (s *Session) ResolvedClarifications() []models.ClarificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ClarificationRecord
	for i := range s.clarifications {
		if s.clarifications[i].Resolved {
			out = append(out, s.clarifications[i])
		}
	}
	return out
}

// SetMeta stores a session-scoped key/value pair.
func (s *Session) SetMeta(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Meta returns a session-scoped value and whether it was present.
func (s *Session) Meta(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.metadata[key]
	return v, ok
}

// RetrievalTool returns the capability name counted as retrieval.
func (s *Session) RetrievalTool() string {
	return s.retrievalTool
}

// Summary returns the caller-facing projection of the session's outcome.
func (s *Session) Summary() models.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := models.Summary{
		SessionID:      s.id,
		Status:         s.status,
		Iterations:     s.metrics.Iterations,
		ToolCalls:      s.metrics.ToolCalls,
		RetrievalCalls: s.metrics.RetrievalCalls,
		Events:         len(s.history),
		LastError:      s.lastError,
	}
	if !s.metrics.StartTime.IsZero() {
		end := s.metrics.EndTime
		if end.IsZero() {
			end = time.Now()
		}
		sum.Duration = end.Sub(s.metrics.StartTime)
	}
	for i := range s.clarifications {
		if !s.clarifications[i].Resolved {
			sum.PendingID = s.clarifications[i].ID
			break
		}
	}
	return sum
}

// Snapshot serializes the session for the persistence boundary.
func (s *Session) Snapshot() (*models.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, err := models.MarshalEvents(s.history)
	if err != nil {
		return nil, fmt.Errorf("snapshot session %s: %w", s.id, err)
	}

	retries := make(map[string]models.RetryContext, len(s.retryContexts))
	for k, v := range s.retryContexts {
		retries[k] = v
	}
	clar := make([]models.ClarificationRecord, len(s.clarifications))
	copy(clar, s.clarifications)
	meta := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}

	return &models.SessionSnapshot{
		SessionID:      s.id,
		Status:         s.status,
		RetrievalTool:  s.retrievalTool,
		History:        history,
		Metrics:        s.metrics,
		RetryContexts:  retries,
		Clarifications: clar,
		Metadata:       meta,
		SavedAt:        time.Now(),
	}, nil
}

// RestoreSession rebuilds a session from a snapshot so a conversation can
// resume across process restarts.
func RestoreSession(snap *models.SessionSnapshot) (*Session, error) {
	if snap == nil {
		return nil, fmt.Errorf("cannot restore nil snapshot")
	}
	history, err := models.UnmarshalEvents(snap.History)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", snap.SessionID, err)
	}

	s := NewSession(snap.SessionID, WithRetrievalTool(snap.RetrievalTool))
	s.history = history
	s.status = snap.Status
	s.metrics = snap.Metrics
	for k, v := range snap.RetryContexts {
		s.retryContexts[k] = v
	}
	s.clarifications = append(s.clarifications, snap.Clarifications...)
	for k, v := range snap.Metadata {
		s.metadata[k] = v
	}
	return s, nil
}

// Reset returns the session to idle for a fresh run, preserving history,
// clarifications, and metadata but clearing per-run state: the error, the
// iteration counter, and the run timestamps. Tool call counters stay, since
// they are derived from the preserved history. Terminal statuses and
// waiting_user are all valid starting points.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.StatusIdle
	s.lastError = ""
	s.metrics.Iterations = 0
	s.metrics.StartTime = time.Time{}
	s.metrics.EndTime = time.Time{}
}
