// Package dedupe remembers which events have already been relayed.
//
// Live hooks (after_tool_call, message_sent) send events as they happen;
// the completion hook later re-derives the same tool calls and reply from
// the transcript. Fingerprints remembered here let the relay send each of
// them once.
package dedupe
