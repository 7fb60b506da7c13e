// ABOUTME: Ordered candidate field names per logical value, for host event shapes that drift
// ABOUTME: The first populated candidate wins; tests pin the precedence

package transcript

// Candidate field names, highest precedence first.
var (
	TextFields       = []string{"text"}
	ThinkingFields   = []string{"thinking", "text"}
	ToolNameFields   = []string{"name", "toolName"}
	ToolCallIDFields = []string{"id", "toolCallId"}
	ToolArgsFields   = []string{"arguments", "input", "params"}
)

// Field returns the value of the first candidate that is populated: present,
// non-null and, for strings, non-empty.
func (b Block) Field(candidates ...string) (any, bool) {
	for _, name := range candidates {
		v, ok := b[name]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// String returns the first populated candidate that holds a string.
func (b Block) String(candidates ...string) string {
	for _, name := range candidates {
		if s, ok := b[name].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// FieldFrom applies the same precedence to a plain JSON object.
func FieldFrom(obj map[string]any, candidates ...string) (any, bool) {
	return Block(obj).Field(candidates...)
}
