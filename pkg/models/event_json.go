package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// eventEnvelope is the wire form of an Event: a kind discriminator, the
// construction timestamp, and the variant payload.
type eventEnvelope struct {
	Kind EventKind       `json:"kind"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

type messagePayload struct {
	Content string `json:"content"`
	Origin  Origin `json:"origin"`
}

type toolCallPayload struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input,omitempty"`
	CallID   string         `json:"call_id"`
}

type thinkPayload struct {
	Thought string `json:"thought"`
}

type finishPayload struct {
	Outputs   map[string]any `json:"outputs,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Completed bool           `json:"completed"`
}

type toolResultPayload struct {
	ToolName string `json:"tool_name"`
	CallID   string `json:"call_id"`
	Payload  any    `json:"payload,omitempty"`
	Success  bool   `json:"success"`
}

type errorPayload struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type successPayload struct {
	Message string `json:"message,omitempty"`
}

// MarshalEvent encodes an event into its JSON envelope.
func MarshalEvent(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot marshal nil event")
	}

	var payload any
	switch v := e.(type) {
	case *Message:
		payload = messagePayload{Content: v.Content, Origin: v.Origin}
	case *ToolCall:
		payload = toolCallPayload{ToolName: v.ToolName, Input: v.Input, CallID: v.CallID}
	case *Think:
		payload = thinkPayload{Thought: v.Thought}
	case *Finish:
		payload = finishPayload{Outputs: v.Outputs, Summary: v.Summary, Completed: v.Completed}
	case *ToolResult:
		payload = toolResultPayload{ToolName: v.ToolName, CallID: v.CallID, Payload: v.Payload, Success: v.Success}
	case *ErrorObservation:
		payload = errorPayload{Message: v.Message, Details: v.Details}
	case *SuccessObservation:
		payload = successPayload{Message: v.Message}
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(eventEnvelope{Kind: e.Kind(), TS: e.Timestamp(), Data: data})
}

// UnmarshalEvent decodes an event from its JSON envelope, restoring the
// original timestamp. Unknown kinds fail with an error rather than decoding
// into a default variant.
func UnmarshalEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	restored := base{kind: env.Kind, ts: env.TS}

	switch env.Kind {
	case KindMessage:
		var p messagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return &Message{actionBase: actionBase{restored}, Content: p.Content, Origin: p.Origin}, nil
	case KindToolCall:
		var p toolCallPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return &ToolCall{actionBase: actionBase{restored}, ToolName: p.ToolName, Input: p.Input, CallID: p.CallID}, nil
	case KindThink:
		var p thinkPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return &Think{actionBase: actionBase{restored}, Thought: p.Thought}, nil
	case KindFinish:
		var p finishPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return &Finish{actionBase: actionBase{restored}, Outputs: p.Outputs, Summary: p.Summary, Completed: p.Completed}, nil
	case KindToolResult:
		var p toolResultPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return &ToolResult{observationBase: observationBase{restored}, ToolName: p.ToolName, CallID: p.CallID, Payload: p.Payload, Success: p.Success}, nil
	case KindError:
		var p errorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return &ErrorObservation{observationBase: observationBase{restored}, Message: p.Message, Details: p.Details}, nil
	case KindSuccess:
		var p successPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return &SuccessObservation{observationBase: observationBase{restored}, Message: p.Message}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}

// MarshalEvents encodes a history slice as a JSON array of envelopes.
func MarshalEvents(events []Event) ([]byte, error) {
	raw := make([]json.RawMessage, len(events))
	for i, e := range events {
		data, err := MarshalEvent(e)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		raw[i] = data
	}
	return json.Marshal(raw)
}

// UnmarshalEvents decodes a JSON array of envelopes back into a history slice.
func UnmarshalEvents(data []byte) ([]Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode event list: %w", err)
	}
	events := make([]Event, len(raw))
	for i, r := range raw {
		e, err := UnmarshalEvent(r)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events[i] = e
	}
	return events, nil
}
