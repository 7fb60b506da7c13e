// ABOUTME: Re-derives a finished turn's tool calls, final answer and reasoning from a history snapshot
// ABOUTME: Pure function: no network, no timers, the snapshot is never mutated

package turn

import (
	"strings"
	"time"

	"github.com/2389/agentlens/internal/event"
	"github.com/2389/agentlens/internal/transcript"
)

// Snapshot is the completion signal: the full session history as known when
// the turn ended, plus the signal's own outcome and usage fields.
type Snapshot struct {
	SessionKey string
	Messages   []transcript.Message
	Success    bool
	Error      string
	DurationMs int64
	Usage      *transcript.Usage
	Model      string
	Provider   string
	StopReason string
	Time       time.Time
}

// ToolCall is one tool invocation found inside the turn.
type ToolCall struct {
	ID        string
	Name      string
	Arguments any
	// MessageIndex is the history index of the assistant message holding the call.
	MessageIndex int
}

// Outcome is everything derived from one snapshot.
type Outcome struct {
	// Start is the index of the turn's opening user message, or -1 when the
	// whole history was treated as the turn.
	Start     int
	ToolCalls []ToolCall
	Text      string
	Thinking  string
	Model     string
	Provider  string
	Stop      string
	Usage     *transcript.Usage
	Events    []event.Event
	// TraceClosed is always true: the turn's trace ends with reconstruction,
	// whether or not anything was emitted.
	TraceClosed bool
}

// FindTurnStart scans backwards for the most recent real user input.
// It returns -1 when there is none.
func FindTurnStart(messages []transcript.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsRealUserInput() {
			return i
		}
	}
	return -1
}

// Reconstruct derives the turn's events. Every event carries traceID.
//
// Within the turn the last text block wins (earlier text before a tool call is
// intermediate) and thinking blocks concatenate in order, one per line.
func Reconstruct(snap Snapshot, traceID string) Outcome {
	out := Outcome{
		Start:       FindTurnStart(snap.Messages),
		TraceClosed: true,
	}

	var (
		text      string
		thinking  []string
		turnUsage transcript.Usage
		lastModel string
		lastProv  string
		lastStop  string
	)

	for i := out.Start + 1; i < len(snap.Messages); i++ {
		msg := snap.Messages[i]
		if msg.Role != transcript.RoleAssistant {
			continue
		}

		if msg.Content.Plain {
			text = msg.Content.Text
		}
		for _, block := range msg.Content.Blocks {
			switch block.Type() {
			case transcript.BlockToolCall:
				args, _ := block.Field(transcript.ToolArgsFields...)
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:           block.String(transcript.ToolCallIDFields...),
					Name:         block.String(transcript.ToolNameFields...),
					Arguments:    args,
					MessageIndex: i,
				})
			case transcript.BlockText:
				if s, ok := block["text"].(string); ok {
					text = s
				}
			case transcript.BlockThinking:
				if s := block.String(transcript.ThinkingFields...); s != "" {
					thinking = append(thinking, s)
				}
			}
		}

		if msg.Usage != nil {
			turnUsage = turnUsage.Add(*msg.Usage)
		}
		if msg.Model != "" {
			lastModel = msg.Model
		}
		if msg.Provider != "" {
			lastProv = msg.Provider
		}
		if msg.StopReason != "" {
			lastStop = msg.StopReason
		}
	}

	out.Text = strings.TrimSpace(text)
	out.Thinking = strings.Join(thinking, "\n")
	out.Model = firstNonEmpty(snap.Model, lastModel)
	out.Provider = firstNonEmpty(snap.Provider, lastProv)
	out.Stop = firstNonEmpty(snap.StopReason, lastStop)

	// A usage object on the signal is authoritative even when all zero.
	switch {
	case snap.Usage != nil:
		u := *snap.Usage
		out.Usage = &u
	case !turnUsage.IsZero():
		out.Usage = &turnUsage
	}

	out.Events = buildEvents(snap, traceID, out)
	return out
}

func buildEvents(snap Snapshot, traceID string, out Outcome) []event.Event {
	ts := snap.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	session := snap.SessionKey

	var events []event.Event
	for _, tc := range out.ToolCalls {
		events = append(events, event.New(event.TypeToolCall, session, traceID, ts, map[string]any{
			"tool_name":    tc.Name,
			"tool_call_id": tc.ID,
			"arguments":    tc.Arguments,
			"source":       "transcript",
		}))
	}

	// A thinking-only turn sends nothing rather than an empty message.
	if out.Text != "" {
		payload := map[string]any{
			"role":            transcript.RoleAssistant,
			"content":         out.Text,
			"model":           out.Model,
			"provider":        out.Provider,
			"stop_reason":     out.Stop,
			"success":         snap.Success,
			"tool_call_count": len(out.ToolCalls),
			"source":          "transcript",
		}
		if out.Thinking != "" {
			payload["thinking"] = out.Thinking
		}
		if snap.Error != "" {
			payload["error"] = snap.Error
		}
		if snap.DurationMs > 0 {
			payload["duration_ms"] = snap.DurationMs
		}
		events = append(events, event.New(event.TypeMessage, session, traceID, ts, payload))
	}

	if out.Usage != nil {
		events = append(events, event.New(event.TypeUsage, session, traceID, ts, map[string]any{
			"input_tokens":       out.Usage.Input,
			"output_tokens":      out.Usage.Output,
			"cache_read_tokens":  out.Usage.CacheRead,
			"cache_write_tokens": out.Usage.CacheWrite,
			"total_tokens":       out.Usage.Total,
			"cost_usd":           out.Usage.CostUSD,
			"model":              out.Model,
			"provider":           out.Provider,
		}))
	}

	return events
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
