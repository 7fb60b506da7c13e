// ABOUTME: Conversation history types delivered by the host at turn completion
// ABOUTME: Messages carry a role and either a plain text body or ordered typed content blocks

package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "toolResult"
)

// Content block types.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolCall   = "toolCall"
	BlockToolResult = "toolResult"
)

// Message is one entry of a session's history.
type Message struct {
	Role       string  `json:"role"`
	Content    Content `json:"content"`
	Model      string  `json:"model,omitempty"`
	Provider   string  `json:"provider,omitempty"`
	StopReason string  `json:"stopReason,omitempty"`
	Usage      *Usage  `json:"usage,omitempty"`
}

// Content is either a plain text body or a sequence of blocks.
type Content struct {
	Text   string
	Blocks []Block
	// Plain reports that the content was a JSON string.
	Plain bool
}

// TextContent builds plain string content.
func TextContent(s string) Content {
	return Content{Text: s, Plain: true}
}

// BlockContent builds structured content.
func BlockContent(blocks ...Block) Content {
	return Content{Blocks: blocks}
}

// UnmarshalJSON accepts a JSON string, an array of blocks, a single block
// object, or null. An untyped object with a text field is a text block.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	case data[0] == '[':
		var blocks []Block
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*c = BlockContent(blocks...)
		return nil
	case data[0] == '{':
		var block Block
		if err := json.Unmarshal(data, &block); err != nil {
			return err
		}
		if _, typed := block["type"]; !typed {
			if _, ok := block["text"].(string); ok {
				block["type"] = "text"
			}
		}
		*c = BlockContent(block)
		return nil
	default:
		return fmt.Errorf("content must be a string, an array or an object, got %.20s", data)
	}
}

// MarshalJSON mirrors UnmarshalJSON.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Plain {
		return json.Marshal(c.Text)
	}
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// Block is one typed content block. Blocks are kept as raw objects because
// hosts disagree on field names; see the candidate lists in fields.go.
type Block map[string]any

// Type returns the block's type tag with known aliases folded in.
func (b Block) Type() string {
	t, _ := b["type"].(string)
	switch t {
	case "tool_use", "toolUse", "tool_call":
		return BlockToolCall
	case "tool_result":
		return BlockToolResult
	}
	return t
}

// IsRealUserInput reports whether m is user-authored input: a plain text
// body, or structured content with at least one text block. A user message
// made only of tool results is appended mechanically and does not qualify.
func (m Message) IsRealUserInput() bool {
	if m.Role != RoleUser {
		return false
	}
	if m.Content.Plain {
		return true
	}
	for _, b := range m.Content.Blocks {
		if b.Type() == BlockText {
			return true
		}
	}
	return false
}

// PlainText joins a message's text: the plain body, or its text blocks.
func (m Message) PlainText() string {
	if m.Content.Plain {
		return m.Content.Text
	}
	var parts []string
	for _, b := range m.Content.Blocks {
		if b.Type() == BlockText {
			if s := b.String(TextFields...); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n")
}
