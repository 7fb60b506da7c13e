// ABOUTME: Reads hook envelopes line by line and routes them to a Handler
// ABOUTME: Bad lines and unknown hooks are logged and skipped; the host is never blocked

package hooks

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
)

// Handler receives decoded host hooks. Implementations must not block the
// dispatcher for long; network I/O belongs in goroutines.
type Handler interface {
	GatewayStart(ctx context.Context)
	GatewayStop(ctx context.Context)
	Heartbeat(ctx context.Context)
	MessageReceived(ctx context.Context, meta Meta, msg MessageReceivedData)
	MessageSent(ctx context.Context, meta Meta, msg MessageSentData)
	AfterToolCall(ctx context.Context, meta Meta, call ToolCallData)
	AgentEnd(ctx context.Context, meta Meta, end AgentEndData)
}

// maxLineSize bounds one envelope; agent_end carries the full history.
const maxLineSize = 16 * 1024 * 1024

// Dispatcher decodes envelopes from a reader.
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher for handler.
func NewDispatcher(handler Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handler: handler,
		logger:  logger.With("component", "hooks"),
	}
}

// Run dispatches every line of r until EOF or ctx is cancelled. It returns
// nil at EOF and the read error otherwise.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			d.logger.Warn("skipping undecodable hook line", "error", err, "bytes", len(line))
			continue
		}
		d.Dispatch(ctx, env)
	}
	return scanner.Err()
}

// Dispatch routes one envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) {
	meta := env.Meta()

	switch env.Hook {
	case GatewayStart:
		d.handler.GatewayStart(ctx)
	case GatewayStop:
		d.handler.GatewayStop(ctx)
	case Heartbeat:
		d.handler.Heartbeat(ctx)
	case MessageReceived:
		var msg MessageReceivedData
		if d.decode(env, &msg) {
			d.handler.MessageReceived(ctx, meta, msg)
		}
	case MessageSent:
		msg := MessageSentData{Success: true}
		if d.decode(env, &msg) {
			d.handler.MessageSent(ctx, meta, msg)
		}
	case AfterToolCall:
		var call ToolCallData
		if d.decode(env, &call) {
			d.handler.AfterToolCall(ctx, meta, call)
		}
	case AgentEnd:
		// The turn's trace closes on agent_end whatever its data looks like.
		end := AgentEndData{Success: true}
		if err := env.Decode(&end); err != nil {
			d.logger.Warn("agent_end data malformed, closing turn without history", "session", meta.SessionKey, "error", err)
			end = AgentEndData{Success: false, Error: "malformed agent_end data"}
		} else if end.Dropped > 0 {
			d.logger.Warn("skipped malformed history entries", "session", meta.SessionKey, "dropped", end.Dropped)
		}
		d.handler.AgentEnd(ctx, meta, end)
	default:
		d.logger.Debug("ignoring unknown hook", "hook", env.Hook)
	}
}

func (d *Dispatcher) decode(env Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		d.logger.Warn("dropping hook with malformed data", "hook", env.Hook, "error", err)
		return false
	}
	return true
}
