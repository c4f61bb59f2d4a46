// Package stream turns model stream events into complete text spans and tool
// calls.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"log"
	"strings"

	"github.com/exedev/mcpchat/internal/errors"
	"github.com/exedev/mcpchat/internal/llm"
)

// UnitKind says what a Unit carries.
type UnitKind int

const (
	UnitText UnitKind = iota
	UnitToolCall
)

// Unit is one completed content block of a model response.
type Unit struct {
	Kind UnitKind
	Text string
	Call *llm.ToolCall
}

// EventKind is the type of a sink notification.
type EventKind string

const (
	EventText       EventKind = "text"
	EventToolStart  EventKind = "tool_start"
	EventToolInput  EventKind = "tool_input"
	EventToolResult EventKind = "tool_result"
)

// Event is a progress notification for a UI.
type Event struct {
	Kind    EventKind       `json:"type"`
	Text    string          `json:"text,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	ID      string          `json:"id,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	IsError bool            `json:"isError,omitempty"`
}

// Sink receives events as they happen. It must not block for long.
type Sink func(Event)

type openBlock struct {
	index int
	kind  llm.BlockKind
	id    string
	name  string
	buf   strings.Builder
}

// Assembler is the per-response accumulator. It is not safe for concurrent
// use and is discarded after one model call.
type Assembler struct {
	events  llm.EventStream
	sink    Sink
	logger  *log.Logger
	open    *openBlock
	text    strings.Builder
	done    bool
	stop    string
	dropped int
	pulled  bool
}

// New returns an assembler over events. sink and logger may be nil.
func New(events llm.EventStream, sink Sink, logger *log.Logger) *Assembler {
	if logger == nil {
		logger = log.Default()
	}
	if sink == nil {
		sink = func(Event) {}
	}
	return &Assembler{events: events, sink: sink, logger: logger}
}

// Text returns all text received so far, across blocks.
func (a *Assembler) Text() string { return a.text.String() }

// Done reports whether message-stop was seen.
func (a *Assembler) Done() bool { return a.done }

// StopReason is the model's stop reason, once known.
func (a *Assembler) StopReason() string { return a.stop }

// Dropped is the number of tool calls discarded for malformed or unterminated
// input.
func (a *Assembler) Dropped() int { return a.dropped }

// Units pulls the underlying stream lazily and yields each completed block.
// The sequence ends at message-stop or end of stream; a stream failure is
// yielded once as the error. It cannot be restarted.
func (a *Assembler) Units() iter.Seq2[Unit, error] {
	return func(yield func(Unit, error) bool) {
		if a.pulled {
			return
		}
		a.pulled = true
		for a.events.Next() {
			u, ok := a.Feed(a.events.Current())
			if ok && !yield(u, nil) {
				return
			}
			if a.done {
				return
			}
		}
		if err := a.events.Err(); err != nil {
			yield(Unit{}, err)
			return
		}
		if u, ok := a.flushOpen("Stream ended"); ok {
			yield(u, nil)
		}
	}
}

// Feed applies one event and returns a completed unit, if the event closed a
// block.
func (a *Assembler) Feed(ev llm.StreamEvent) (Unit, bool) {
	if a.done {
		a.logger.Printf("⚠ Ignoring %s event after message-stop", ev.Kind)
		return Unit{}, false
	}

	switch ev.Kind {
	case llm.EventBlockStart:
		if a.open != nil {
			a.logger.Printf("⚠ Ignoring block-start %d: block %d is still open", ev.Index, a.open.index)
			return Unit{}, false
		}
		a.open = &openBlock{index: ev.Index, kind: ev.Block, id: ev.ID, name: ev.Name}
		if ev.Block == llm.BlockToolUse {
			a.sink(Event{Kind: EventToolStart, Tool: ev.Name, ID: ev.ID})
		}

	case llm.EventDelta:
		if a.open == nil || a.open.index != ev.Index {
			a.logger.Printf("⚠ Ignoring %s delta for block %d that is not open", ev.Delta, ev.Index)
			return Unit{}, false
		}
		switch {
		case ev.Delta == llm.DeltaText && a.open.kind == llm.BlockText:
			a.open.buf.WriteString(ev.Text)
			a.text.WriteString(ev.Text)
			a.sink(Event{Kind: EventText, Text: ev.Text})
		case ev.Delta == llm.DeltaPartialInput && a.open.kind == llm.BlockToolUse:
			a.open.buf.WriteString(ev.Text)
			a.sink(Event{Kind: EventToolInput, Text: ev.Text, Tool: a.open.name, ID: a.open.id})
		default:
			a.logger.Printf("⚠ Ignoring %s delta inside %s block %d", ev.Delta, a.open.kind, ev.Index)
		}

	case llm.EventBlockStop:
		if a.open == nil || a.open.index != ev.Index {
			a.logger.Printf("⚠ Ignoring block-stop %d: no such open block", ev.Index)
			return Unit{}, false
		}
		blk := a.open
		a.open = nil
		return a.close(blk)

	case llm.EventMessageStop:
		a.done = true
		a.stop = ev.StopReason
		return a.flushOpen("Message stopped")

	default:
		a.logger.Printf("⚠ Ignoring unknown stream event %v", ev.Kind)
	}
	return Unit{}, false
}

// flushOpen discards a block left open when the response ends. Text received
// in it is still the trailing assistant text; an unterminated tool call is
// dropped.
func (a *Assembler) flushOpen(why string) (Unit, bool) {
	blk := a.open
	if blk == nil {
		return Unit{}, false
	}
	a.open = nil
	a.logger.Printf("⚠ %s with block %d still open", why, blk.index)
	if blk.kind == llm.BlockText && blk.buf.Len() > 0 {
		return Unit{Kind: UnitText, Text: blk.buf.String()}, true
	}
	if blk.kind == llm.BlockToolUse {
		a.dropped++
	}
	return Unit{}, false
}

func (a *Assembler) close(blk *openBlock) (Unit, bool) {
	switch blk.kind {
	case llm.BlockText:
		return Unit{Kind: UnitText, Text: blk.buf.String()}, true
	case llm.BlockToolUse:
		input, err := parseInput(blk.buf.String())
		if err != nil {
			a.dropped++
			a.logger.Printf("⚠ Dropping tool call %s (%s): %v", blk.name, blk.id, err)
			return Unit{}, false
		}
		return Unit{Kind: UnitToolCall, Call: &llm.ToolCall{ID: blk.id, Name: blk.name, Input: input}}, true
	default:
		return Unit{}, false
	}
}

// parseInput validates the accumulated argument JSON. An empty buffer means
// no arguments.
func parseInput(buf string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(buf)
	if trimmed == "" {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedToolInput, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: input is null", errors.ErrMalformedToolInput)
	}
	var out bytes.Buffer
	if err := json.Compact(&out, []byte(trimmed)); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedToolInput, err)
	}
	return json.RawMessage(out.Bytes()), nil
}
