// ABOUTME: Host hook handlers: lifecycle signals drive registration and sync, conversation signals become events
// ABOUTME: Correlation and dedupe bookkeeping happen synchronously in hook order; only network sends are deferred

package relay

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/2389/agentlens/internal/dedupe"
	"github.com/2389/agentlens/internal/event"
	"github.com/2389/agentlens/internal/hooks"
	"github.com/2389/agentlens/internal/metrics"
	"github.com/2389/agentlens/internal/trace"
	"github.com/2389/agentlens/internal/transcript"
	"github.com/2389/agentlens/internal/turn"
)

var _ hooks.Handler = (*Relay)(nil)

// GatewayStart is the fresh-start signal: counters reset, registration and
// an immediate sync run, and the periodic timer is (re)installed.
func (r *Relay) GatewayStart(context.Context) {
	r.logger.Info("gateway started")

	r.monitor.Restart()
	r.registrar.Reset()

	r.spawn(func(ctx context.Context) {
		if r.registrar.EnsureRegistered(ctx) {
			r.Sync(ctx, TriggerStart)
		}
	})
	r.scheduler.Start(r.ctx)
}

// GatewayStop tears down the periodic timer. Nothing is flushed.
func (r *Relay) GatewayStop(context.Context) {
	r.logger.Info("gateway stopped")
	r.scheduler.Stop()
}

// Heartbeat syncs opportunistically, which also nudges registration.
func (r *Relay) Heartbeat(context.Context) {
	r.goSync(TriggerHeartbeat)
}

// MessageReceived opens the session's trace and relays the user message.
func (r *Relay) MessageReceived(_ context.Context, meta hooks.Meta, msg hooks.MessageReceivedData) {
	key := trace.NormalizeKey(meta.SessionKey)
	traceID, _ := r.correlator.Open(key)

	text := msg.Text()
	if strings.TrimSpace(text) == "" {
		return
	}

	payload := map[string]any{
		"role":    transcript.RoleUser,
		"content": text,
	}
	if msg.From != "" {
		payload["from"] = msg.From
	}
	if msg.Channel != "" {
		payload["channel"] = msg.Channel
	}
	r.send(event.New(event.TypeMessage, key, traceID, meta.Time, payload))
}

// AfterToolCall relays a finished tool call. Autonomous jobs have no
// preceding user message, so the trace opens here if needed.
func (r *Relay) AfterToolCall(_ context.Context, meta hooks.Meta, call hooks.ToolCallData) {
	key := trace.NormalizeKey(meta.SessionKey)
	traceID, _ := r.correlator.Open(key)

	if call.Failed() {
		r.monitor.Errors().Record(call.ToolName, call.Error)
		metrics.ToolFailures.Inc()
		r.logger.Debug("tool call failed", "tool", call.ToolName, "error", call.Error)
	}
	r.correlator.AddEvent(key, "tool_call",
		attribute.String("tool.name", call.ToolName),
		attribute.Bool("tool.failed", call.Failed()),
	)

	// The signature key only stands in when the host gave no call id, so
	// identical calls with distinct ids stay distinct.
	r.sent.Remember(dedupe.ToolCallKey(traceID, call.ToolCallID, call.ToolName, call.Params))

	payload := map[string]any{
		"tool_name":    call.ToolName,
		"tool_call_id": call.ToolCallID,
		"arguments":    call.Params,
		"success":      !call.Failed(),
		"source":       "hook",
	}
	if call.Result != nil {
		payload["result"] = call.Result
	}
	if call.Failed() {
		payload["error"] = call.Error
	}
	if call.DurationMs > 0 {
		payload["duration_ms"] = call.DurationMs
	}
	r.send(event.New(event.TypeToolCall, key, traceID, meta.Time, payload))
}

// MessageSent relays an outbound assistant message when the host emits one.
func (r *Relay) MessageSent(_ context.Context, meta hooks.Meta, msg hooks.MessageSentData) {
	if strings.TrimSpace(msg.Content) == "" {
		return
	}
	key := trace.NormalizeKey(meta.SessionKey)
	traceID, _ := r.correlator.Open(key)

	r.sent.Remember(dedupe.TextKey(traceID, msg.Content))

	payload := map[string]any{
		"role":    transcript.RoleAssistant,
		"content": strings.TrimSpace(msg.Content),
		"success": msg.Success,
		"source":  "hook",
	}
	if msg.To != "" {
		payload["to"] = msg.To
	}
	if msg.Error != "" {
		payload["error"] = msg.Error
	}
	r.send(event.New(event.TypeMessage, key, traceID, meta.Time, payload))
}

// AgentEnd reconstructs the finished turn from the history snapshot, relays
// whatever was not already sent live, and closes the trace.
func (r *Relay) AgentEnd(_ context.Context, meta hooks.Meta, end hooks.AgentEndData) {
	key := trace.NormalizeKey(meta.SessionKey)
	traceID, _ := r.correlator.Open(key)

	meta.SessionKey = key
	out := turn.Reconstruct(end.Snapshot(meta), traceID)

	relayed := 0
	for _, ev := range out.Events {
		ev, dup := r.reconcile(ev)
		if dup {
			metrics.EventsSuppressed.WithLabelValues(string(ev.Type())).Inc()
			continue
		}
		r.send(ev)
		relayed++
	}

	r.logger.Debug("turn reconstructed",
		"session_key", key,
		"trace_id", traceID,
		"turn_start", out.Start,
		"tool_calls", len(out.ToolCalls),
		"events", relayed,
		"suppressed", len(out.Events)-relayed,
	)

	if out.TraceClosed {
		r.correlator.Close(key)
	}
}

// reconcile matches a reconstructed event against what was relayed live in
// the same trace. Tool calls already sent are dropped; each live call without
// an id absorbs at most one reconstructed call. The reconstructed reply always
// goes out because it carries thinking, model and stop reason the live
// message lacks; it is marked as superseding the live copy when one was sent.
func (r *Relay) reconcile(ev event.Event) (event.Event, bool) {
	switch ev.Type() {
	case event.TypeToolCall:
		name, _ := ev.Get("tool_name")
		id, _ := ev.Get("tool_call_id")
		args, _ := ev.Get("arguments")
		nameStr, _ := name.(string)
		idStr, _ := id.(string)

		if idStr != "" && r.sent.Claim(dedupe.ToolCallKey(ev.TraceID(), idStr, nameStr, args)) {
			return ev, true
		}
		sig := dedupe.ToolCallKey(ev.TraceID(), "", nameStr, args)
		if r.sent.Seen(sig) {
			r.sent.Forget(sig)
			return ev, true
		}
		return ev, false
	case event.TypeMessage:
		content, _ := ev.Get("content")
		text, _ := content.(string)
		if r.sent.Seen(dedupe.TextKey(ev.TraceID(), text)) {
			return ev.With("supersedes", "hook"), false
		}
		return ev, false
	default:
		return ev, false
	}
}
