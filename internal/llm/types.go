package llm

import (
	"encoding/json"

	"github.com/exedev/mcpchat/internal/transcript"
)

// DefaultMaxTokens caps a single model response.
const DefaultMaxTokens = 4096

// ToolDef defines a tool the LLM can call.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall represents the LLM requesting a tool invocation.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolOutput is what a tool provider returned for one call. Content is opaque
// JSON (for MCP servers, the result content array).
type ToolOutput struct {
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"is_error,omitempty"`
}

// Request is one model call: the full history plus the tools on offer.
type Request struct {
	Model     string
	System    string
	Messages  []transcript.Message
	Tools     []ToolDef
	Stream    bool
	MaxTokens int
}

// EventKind is the type of a model stream event.
type EventKind int

const (
	EventBlockStart EventKind = iota
	EventDelta
	EventBlockStop
	EventMessageStop
)

func (k EventKind) String() string {
	switch k {
	case EventBlockStart:
		return "block-start"
	case EventDelta:
		return "delta"
	case EventBlockStop:
		return "block-stop"
	case EventMessageStop:
		return "message-stop"
	default:
		return "unknown"
	}
}

// BlockKind is the type of content block opened by EventBlockStart.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockToolUse BlockKind = "tool_use"
)

// DeltaKind is the type of fragment carried by EventDelta.
type DeltaKind string

const (
	DeltaText         DeltaKind = "text"
	DeltaPartialInput DeltaKind = "partial_input"
)

// StreamEvent is one provider-neutral model stream event.
//
// Block, ID and Name are set on EventBlockStart. Delta and Text are set on
// EventDelta (Text holds the raw JSON fragment for DeltaPartialInput).
// StopReason is set on EventMessageStop.
type StreamEvent struct {
	Kind       EventKind
	Index      int
	Block      BlockKind
	ID         string
	Name       string
	Delta      DeltaKind
	Text       string
	StopReason string
}

// EventStream is a pull-based sequence of stream events.
type EventStream interface {
	Next() bool
	Current() StreamEvent
	Err() error
	Close() error
}

// SliceStream replays a fixed list of events.
type SliceStream struct {
	events []StreamEvent
	pos    int
	err    error
}

// NewSliceStream returns a stream over events that ends with err (nil for a
// clean end).
func NewSliceStream(events []StreamEvent, err error) *SliceStream {
	return &SliceStream{events: events, pos: -1, err: err}
}

func (s *SliceStream) Next() bool {
	if s.pos+1 >= len(s.events) {
		s.pos = len(s.events)
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Current() StreamEvent {
	if s.pos < 0 || s.pos >= len(s.events) {
		return StreamEvent{}
	}
	return s.events[s.pos]
}

func (s *SliceStream) Err() error {
	if s.pos >= len(s.events) {
		return s.err
	}
	return nil
}

func (s *SliceStream) Close() error { return nil }

// Prime pulls the first event of stream so that failures to open it surface as
// an error here rather than mid-assembly. The returned stream yields that event
// again.
func Prime(stream EventStream) (EventStream, error) {
	if stream.Next() {
		return &primedStream{EventStream: stream, first: stream.Current(), pending: true}, nil
	}
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, err
	}
	return stream, nil
}

type primedStream struct {
	EventStream
	first   StreamEvent
	pending bool
	started bool
}

func (p *primedStream) Next() bool {
	if p.pending {
		p.pending = false
		p.started = true
		return true
	}
	p.started = false
	return p.EventStream.Next()
}

func (p *primedStream) Current() StreamEvent {
	if p.started {
		return p.first
	}
	return p.EventStream.Current()
}

// TextEvents is a helper for fakes: a complete text-only response.
func TextEvents(text string) []StreamEvent {
	return []StreamEvent{
		{Kind: EventBlockStart, Index: 0, Block: BlockText},
		{Kind: EventDelta, Index: 0, Delta: DeltaText, Text: text},
		{Kind: EventBlockStop, Index: 0},
		{Kind: EventMessageStop, StopReason: "end_turn"},
	}
}

// ToolUseEvents is a helper for fakes: one tool_use block at index whose input
// arrives as a single fragment.
func ToolUseEvents(index int, id, name, input string) []StreamEvent {
	return []StreamEvent{
		{Kind: EventBlockStart, Index: index, Block: BlockToolUse, ID: id, Name: name},
		{Kind: EventDelta, Index: index, Delta: DeltaPartialInput, Text: input},
		{Kind: EventBlockStop, Index: index},
	}
}
