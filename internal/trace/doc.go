// Package trace correlates scattered host callbacks into conversation turns.
//
// The host never hands out a turn id, so the Correlator keeps one open trace
// id per session key: the first event for a key opens it (a user message, or
// a tool call from an autonomous job), every later event reuses it, and the
// turn-completion signal closes it. The next event after a close opens a new
// id.
//
// Each open trace is also an OpenTelemetry span named "conversation.turn" on
// the global tracer provider, so a configured OTLP exporter sees turns as
// spans. With no provider installed the span is a no-op.
package trace
