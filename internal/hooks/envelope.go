// ABOUTME: Wire types for host hook callbacks delivered as JSON lines
// ABOUTME: Each line is an envelope naming the hook, the session key and a hook-specific data object

package hooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/2389/agentlens/internal/transcript"
	"github.com/2389/agentlens/internal/turn"
)

// Name identifies a host hook.
type Name string

const (
	GatewayStart    Name = "gateway_start"
	GatewayStop     Name = "gateway_stop"
	Heartbeat       Name = "heartbeat"
	MessageReceived Name = "message_received"
	MessageSent     Name = "message_sent"
	AfterToolCall   Name = "after_tool_call"
	AgentEnd        Name = "agent_end"
)

// Envelope is one line of host input.
type Envelope struct {
	Hook       Name            `json:"hook"`
	SessionKey string          `json:"session_key"`
	Timestamp  Timestamp       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Meta is the envelope context handed to handlers alongside the payload.
type Meta struct {
	SessionKey string
	Time       time.Time
}

// Meta returns the envelope's context. A missing timestamp becomes now.
func (e Envelope) Meta() Meta {
	ts := time.Time(e.Timestamp)
	if ts.IsZero() {
		ts = time.Now()
	}
	return Meta{SessionKey: e.SessionKey, Time: ts}
}

// Decode unmarshals the data object into v. Missing data leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(bytes.TrimSpace(e.Data)) == 0 || bytes.Equal(bytes.TrimSpace(e.Data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s data: %w", e.Hook, err)
	}
	return nil
}

// Timestamp accepts RFC 3339 strings or Unix milliseconds.
type Timestamp time.Time

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		*t = Timestamp{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
		*t = Timestamp(parsed)
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parsing timestamp %s: %w", data, err)
	}
	*t = Timestamp(time.UnixMilli(int64(ms)))
	return nil
}

// MessageReceivedData is an inbound user message.
type MessageReceivedData struct {
	From    string             `json:"from"`
	Content transcript.Content `json:"content"`
	Channel string             `json:"channel"`
}

// Text returns the message body.
func (m MessageReceivedData) Text() string {
	return transcript.Message{Role: transcript.RoleUser, Content: m.Content}.PlainText()
}

// MessageSentData is an outbound assistant message. Success defaults to true.
type MessageSentData struct {
	To      string
	Content string
	Success bool
	Error   string
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *MessageSentData) UnmarshalJSON(data []byte) error {
	var raw struct {
		To      string             `json:"to"`
		Content transcript.Content `json:"content"`
		Success *bool              `json:"success"`
		Error   any                `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MessageSentData{
		To:      raw.To,
		Content: transcript.Message{Role: transcript.RoleAssistant, Content: raw.Content}.PlainText(),
		Success: raw.Success == nil || *raw.Success,
		Error:   errorText(raw.Error),
	}
	return nil
}

// Candidate field names for tool call hooks, highest precedence first.
var (
	toolHookNameFields   = []string{"tool_name", "toolName", "name"}
	toolHookIDFields     = []string{"tool_call_id", "toolCallId", "id"}
	toolHookParamsFields = []string{"params", "arguments", "input"}
	toolHookResultFields = []string{"result", "output"}
	durationFields       = []string{"duration_ms", "durationMs"}
)

// ToolCallData is a finished tool invocation.
type ToolCallData struct {
	ToolName   string
	ToolCallID string
	Params     any
	Result     any
	Error      string
	DurationMs int64
}

// Failed reports whether the tool reported an error.
func (c ToolCallData) Failed() bool {
	return c.Error != ""
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ToolCallData) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	b := transcript.Block(obj)
	params, _ := b.Field(toolHookParamsFields...)
	result, _ := b.Field(toolHookResultFields...)
	*c = ToolCallData{
		ToolName:   b.String(toolHookNameFields...),
		ToolCallID: b.String(toolHookIDFields...),
		Params:     params,
		Result:     result,
		Error:      errorText(obj["error"]),
		DurationMs: durationFrom(b),
	}
	return nil
}

// AgentEndData is the turn-completion signal with the session's full history.
type AgentEndData struct {
	Messages   []transcript.Message
	Success    bool
	Error      string
	DurationMs int64
	Usage      *transcript.Usage
	Model      string
	Provider   string
	StopReason string
	// Dropped counts history entries that could not be decoded.
	Dropped int
}

// UnmarshalJSON implements json.Unmarshaler. A top-level cost fills in the
// usage cost when the usage object has none. History entries are decoded
// one at a time so a single malformed message does not lose the turn.
func (a *AgentEndData) UnmarshalJSON(data []byte) error {
	var raw struct {
		Messages   []json.RawMessage `json:"messages"`
		Success    *bool             `json:"success"`
		Error      any               `json:"error"`
		DurationMs *int64            `json:"duration_ms"`
		DurationCC *int64            `json:"durationMs"`
		Usage      *transcript.Usage `json:"usage"`
		Cost       any               `json:"cost"`
		Model      string            `json:"model"`
		Provider   string            `json:"provider"`
		StopReason string            `json:"stop_reason"`
		StopCC     string            `json:"stopReason"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := AgentEndData{
		Success:    raw.Success == nil || *raw.Success,
		Error:      errorText(raw.Error),
		Usage:      raw.Usage,
		Model:      raw.Model,
		Provider:   raw.Provider,
		StopReason: raw.StopReason,
	}
	for _, m := range raw.Messages {
		var msg transcript.Message
		if err := json.Unmarshal(m, &msg); err != nil {
			out.Dropped++
			continue
		}
		out.Messages = append(out.Messages, msg)
	}
	if out.StopReason == "" {
		out.StopReason = raw.StopCC
	}
	switch {
	case raw.DurationMs != nil:
		out.DurationMs = *raw.DurationMs
	case raw.DurationCC != nil:
		out.DurationMs = *raw.DurationCC
	}

	if cost := costFrom(raw.Cost); cost > 0 {
		if out.Usage == nil {
			out.Usage = &transcript.Usage{}
		}
		if out.Usage.CostUSD == 0 {
			out.Usage.CostUSD = cost
		}
	}

	*a = out
	return nil
}

// Snapshot converts the signal into reconstructor input.
func (a AgentEndData) Snapshot(meta Meta) turn.Snapshot {
	return turn.Snapshot{
		SessionKey: meta.SessionKey,
		Messages:   a.Messages,
		Success:    a.Success,
		Error:      a.Error,
		DurationMs: a.DurationMs,
		Usage:      a.Usage,
		Model:      a.Model,
		Provider:   a.Provider,
		StopReason: a.StopReason,
		Time:       meta.Time,
	}
}

// errorText flattens an error given as a string or as {message: ...}.
func errorText(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case map[string]any:
		if s, ok := e["message"].(string); ok {
			return s
		}
		raw, _ := json.Marshal(e)
		return string(raw)
	case nil, bool:
		return ""
	default:
		return fmt.Sprint(e)
	}
}

func costFrom(v any) float64 {
	switch c := v.(type) {
	case float64:
		return c
	case map[string]any:
		total, _ := c["total"].(float64)
		return total
	}
	return 0
}

func durationFrom(b transcript.Block) int64 {
	v, _ := b.Field(durationFields...)
	if f, ok := v.(float64); ok {
		return int64(f)
	}
	return 0
}
