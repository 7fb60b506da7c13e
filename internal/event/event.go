// ABOUTME: OutboundEvent, the immutable wire unit sent to the collector's /events endpoint
// ABOUTME: The trace id travels nested inside data alongside the type-specific payload

package event

import (
	"encoding/json"
	"maps"
	"time"
)

// Type is the kind of telemetry event.
type Type string

const (
	TypeMessage  Type = "message"
	TypeToolCall Type = "tool_call"
	TypeUsage    Type = "usage"
)

// Event is one telemetry record. Construct with New; the With* methods
// return modified copies and never touch the receiver.
type Event struct {
	typ       Type
	agentID   string
	sessionID string
	traceID   string
	timestamp time.Time
	payload   map[string]any
}

// New constructs an event without an agent identity; the relay stamps it
// with WithAgent once registration has succeeded.
func New(typ Type, sessionID, traceID string, ts time.Time, payload map[string]any) Event {
	return Event{
		typ:       typ,
		sessionID: sessionID,
		traceID:   traceID,
		timestamp: ts.UTC(),
		payload:   maps.Clone(payload),
	}
}

// WithAgent returns a copy carrying agentID.
func (e Event) WithAgent(agentID string) Event {
	e.agentID = agentID
	e.payload = maps.Clone(e.payload)
	return e
}

// With returns a copy with one payload field set.
func (e Event) With(key string, v any) Event {
	e.payload = maps.Clone(e.payload)
	if e.payload == nil {
		e.payload = map[string]any{}
	}
	e.payload[key] = v
	return e
}

func (e Event) Type() Type           { return e.typ }
func (e Event) AgentID() string      { return e.agentID }
func (e Event) SessionID() string    { return e.sessionID }
func (e Event) TraceID() string      { return e.traceID }
func (e Event) Timestamp() time.Time { return e.timestamp }

// Payload returns a copy of the type-specific fields.
func (e Event) Payload() map[string]any {
	return maps.Clone(e.payload)
}

// Get reads one payload field.
func (e Event) Get(key string) (any, bool) {
	v, ok := e.payload[key]
	return v, ok
}

// Wire is the /events request body.
type Wire struct {
	AgentID   string         `json:"agent_id"`
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Wire builds the request body.
func (e Event) Wire() Wire {
	data := make(map[string]any, len(e.payload)+1)
	maps.Copy(data, e.payload)
	data["trace_id"] = e.traceID

	return Wire{
		AgentID:   e.agentID,
		Type:      e.typ,
		SessionID: e.sessionID,
		Timestamp: e.timestamp.Format(time.RFC3339Nano),
		Data:      data,
	}
}

// MarshalJSON encodes the wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Wire())
}
