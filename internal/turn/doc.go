// Package turn reconstructs a finished conversation turn from the history
// snapshot the host delivers at turn completion.
//
// The host does not reliably emit live per-chunk assistant or tool events, so
// the turn is re-derived after the fact:
//
//  1. Scan backwards for the latest real user input (plain text or at least
//     one text block). Tool-result-only user messages are skipped. No match
//     means the whole history is the turn.
//  2. Scan forward over the assistant messages after that point, collecting
//     tool calls, the last text block, and all thinking blocks.
//  3. Emit tool_call events, at most one assistant message event (only when
//     the final text is non-blank) and at most one usage event.
//
// Reconstruct is a pure function of (snapshot, trace id).
package turn
