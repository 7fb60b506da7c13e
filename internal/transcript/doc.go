// Package transcript defines the conversation history the host hands over at
// turn completion: role-tagged messages whose content is either a plain
// string or an ordered list of typed blocks (text, thinking, toolCall, ...).
//
// Hosts have shipped several shapes for the same values (tool arguments under
// "arguments", "input" or "params"; tool-call ids under "id" or
// "toolCallId"). Blocks stay untyped maps and every such value is read
// through an ordered candidate list, first populated name wins.
package transcript
