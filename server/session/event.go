// Package session owns the per-connection lifecycle: one processing task per
// session, ordered outbound dispatch, supersession of stale synthesis cycles,
// and admission control across sessions.
package session

import (
	"time"

	"github.com/attuneai/attune/server/synthesis"
)

// Inbound event types.
const (
	EventMessage = "message"
	EventPing    = "ping"
)

// Outbound event types.
const (
	EventSuggestions = "suggestions"
	EventStatus      = "status"
	EventError       = "error"
	EventPong        = "pong"
)

// StateNoSuggestions is the status state emitted when a cycle completes with
// nothing to say. The session stays ACTIVE.
const StateNoSuggestions = "NoSuggestions"

// InboundEvent is one decoded client frame.
type InboundEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Sequence  int64     `json:"sequence,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// OutboundEvent is one frame written to the client. Sequence on a
// suggestions event echoes the inbound message that triggered the cycle.
type OutboundEvent struct {
	Type     string                 `json:"type"`
	Sequence int64                  `json:"sequence,omitempty"`
	Items    []synthesis.Suggestion `json:"items,omitempty"`
	State    string                 `json:"state,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Code     string                 `json:"code,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

func suggestionsEvent(sequence int64, items []synthesis.Suggestion) *OutboundEvent {
	return &OutboundEvent{Type: EventSuggestions, Sequence: sequence, Items: items}
}

func statusEvent(state, reason string) *OutboundEvent {
	return &OutboundEvent{Type: EventStatus, State: state, Reason: reason}
}

func errorEvent(code, message string) *OutboundEvent {
	return &OutboundEvent{Type: EventError, Code: code, Message: message}
}

func pongEvent() *OutboundEvent {
	return &OutboundEvent{Type: EventPong}
}
