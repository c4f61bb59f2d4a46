// Package transcript holds the conversation log of one chat: an append-only
// list of messages plus the session settings, persisted as a single JSON
// document through a Backend.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the transcript. Content is either plain text or an
// ordered list of blocks.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// UserText builds a plain-text user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: Text(text)}
}

// AssistantText builds a plain-text assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: Text(text)}
}

// Content is a message body: plain text when Blocks is nil, a block list otherwise.
type Content struct {
	Text   string
	Blocks []Block
}

// Text returns plain-text content.
func Text(s string) Content {
	return Content{Text: s}
}

// Blocks returns block content. An empty list is still block content.
func Blocks(blocks ...Block) Content {
	if blocks == nil {
		blocks = []Block{}
	}
	return Content{Blocks: blocks}
}

// IsBlocks reports whether the content is a block list.
func (c Content) IsBlocks() bool {
	return c.Blocks != nil
}

// PlainText joins the text of the content, ignoring tool blocks.
func (c Content) PlainText() string {
	if !c.IsBlocks() {
		return c.Text
	}
	var buf bytes.Buffer
	for _, b := range c.Blocks {
		if tb, ok := b.(TextBlock); ok {
			buf.WriteString(tb.Text)
		}
	}
	return buf.String()
}

func (c Content) MarshalJSON() ([]byte, error) {
	if !c.IsBlocks() {
		return json.Marshal(c.Text)
	}
	wire := make([]wireBlock, len(c.Blocks))
	for i, b := range c.Blocks {
		w, err := toWire(b)
		if err != nil {
			return nil, err
		}
		wire[i] = w
	}
	return json.Marshal(wire)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("message content is missing")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Text(s)
		return nil
	}
	var wire []wireBlock
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	blocks := make([]Block, len(wire))
	for i, w := range wire {
		b, err := fromWire(w)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		blocks[i] = b
	}
	*c = Blocks(blocks...)
	return nil
}

// Block is one of TextBlock, ToolUseBlock or ToolResultBlock.
type Block interface {
	blockType() string
}

// TextBlock is a span of text.
type TextBlock struct {
	Text string
}

// ToolUseBlock is a tool invocation requested by the model. Input is the raw
// JSON argument object.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultBlock answers the ToolUseBlock with the same ID. Content is kept as
// the provider returned it.
type ToolResultBlock struct {
	ToolUseID string
	Content   json.RawMessage
	IsError   bool
}

func (TextBlock) blockType() string       { return "text" }
func (ToolUseBlock) blockType() string    { return "tool_use" }
func (ToolResultBlock) blockType() string { return "tool_result" }

type wireBlock struct {
	Type      string          `json:"type"`
	Text      *string         `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

func toWire(b Block) (wireBlock, error) {
	switch v := b.(type) {
	case TextBlock:
		text := v.Text
		return wireBlock{Type: "text", Text: &text}, nil
	case ToolUseBlock:
		return wireBlock{Type: "tool_use", ID: v.ID, Name: v.Name, Input: orEmptyObject(v.Input)}, nil
	case ToolResultBlock:
		return wireBlock{Type: "tool_result", ToolUseID: v.ToolUseID, Content: orNull(v.Content), IsError: v.IsError}, nil
	default:
		return wireBlock{}, fmt.Errorf("unsupported content block %T", b)
	}
}

func fromWire(w wireBlock) (Block, error) {
	switch w.Type {
	case "text":
		if w.Text == nil {
			return nil, fmt.Errorf("text block without text")
		}
		return TextBlock{Text: *w.Text}, nil
	case "tool_use":
		if w.ID == "" || w.Name == "" {
			return nil, fmt.Errorf("tool_use block without id or name")
		}
		return ToolUseBlock{ID: w.ID, Name: w.Name, Input: compactJSON(orEmptyObject(w.Input))}, nil
	case "tool_result":
		if w.ToolUseID == "" {
			return nil, fmt.Errorf("tool_result block without tool_use_id")
		}
		return ToolResultBlock{ToolUseID: w.ToolUseID, Content: compactJSON(orNull(w.Content)), IsError: w.IsError}, nil
	default:
		return nil, fmt.Errorf("unknown block type %q", w.Type)
	}
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`null`)
	}
	return raw
}

// compactJSON strips insignificant whitespace so that indented files read
// back byte-identical to what was appended.
func compactJSON(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return json.RawMessage(buf.Bytes())
}

// normalize compacts raw JSON payloads in place of a fresh block list.
func (c Content) normalize() Content {
	if !c.IsBlocks() {
		return c
	}
	out := make([]Block, len(c.Blocks))
	for i, b := range c.Blocks {
		switch v := b.(type) {
		case ToolUseBlock:
			v.Input = compactJSON(orEmptyObject(v.Input))
			out[i] = v
		case ToolResultBlock:
			v.Content = compactJSON(orNull(v.Content))
			out[i] = v
		default:
			out[i] = b
		}
	}
	return Content{Blocks: out}
}

// ToolUses returns the tool_use blocks of the message in order.
func (m Message) ToolUses() []ToolUseBlock {
	var out []ToolUseBlock
	for _, b := range m.Content.Blocks {
		if tu, ok := b.(ToolUseBlock); ok {
			out = append(out, tu)
		}
	}
	return out
}

// ToolResults returns the tool_result blocks of the message in order.
func (m Message) ToolResults() []ToolResultBlock {
	var out []ToolResultBlock
	for _, b := range m.Content.Blocks {
		if tr, ok := b.(ToolResultBlock); ok {
			out = append(out, tr)
		}
	}
	return out
}

// CheckToolPairing verifies that every tool_result answers an earlier tool_use
// and that every tool_use is answered exactly once before the next plain user
// message. It returns the first violation found.
func CheckToolPairing(messages []Message) error {
	pending := map[string]bool{}
	answered := map[string]bool{}
	for i, m := range messages {
		for _, b := range m.Content.Blocks {
			switch v := b.(type) {
			case ToolUseBlock:
				pending[v.ID] = true
			case ToolResultBlock:
				if !pending[v.ToolUseID] {
					if answered[v.ToolUseID] {
						return fmt.Errorf("message %d: tool_use %s answered twice", i, v.ToolUseID)
					}
					return fmt.Errorf("message %d: tool_result for unknown tool_use %s", i, v.ToolUseID)
				}
				delete(pending, v.ToolUseID)
				answered[v.ToolUseID] = true
			case TextBlock:
			}
		}
		if m.Role == RoleUser && len(m.ToolResults()) == 0 && len(pending) > 0 {
			return fmt.Errorf("message %d: user input before %d tool result(s)", i, len(pending))
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%d tool_use block(s) without a result", len(pending))
	}
	return nil
}
