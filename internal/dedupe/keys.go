// ABOUTME: Fingerprints for relayed events, scoped to one trace
// ABOUTME: A tool call is keyed by its id, or by name and arguments when the host omits the id

package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// ToolCallKey fingerprints a tool call within a trace.
func ToolCallKey(traceID, toolCallID, toolName string, args any) string {
	if toolCallID != "" {
		return "tool:" + traceID + ":id:" + toolCallID
	}
	raw, _ := json.Marshal(args)
	return "tool:" + traceID + ":sig:" + toolName + ":" + digest(string(raw))
}

// TextKey fingerprints an assistant reply within a trace. Surrounding
// whitespace is ignored.
func TextKey(traceID, text string) string {
	return "text:" + traceID + ":" + digest(strings.TrimSpace(text))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:12])
}
