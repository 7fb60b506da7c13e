// Package hooks is the boundary with the host gateway.
//
// The host forwards its plugin hooks as newline-delimited JSON envelopes:
//
//	{"hook":"after_tool_call","session_key":"agent:main:main","timestamp":"2026-01-02T15:04:05Z","data":{...}}
//
// Dispatcher decodes each line into a typed payload and calls the matching
// Handler method. Payload decoding accepts the field-name variants different
// host versions emit (tool_name or toolName, params or arguments, and so on).
package hooks
