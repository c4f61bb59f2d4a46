package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/exedev/mcpchat/internal/llm"
	"github.com/exedev/mcpchat/internal/transcript"
)

// scriptedResponse is one model reply: events to stream, or an error from
// opening the stream.
type scriptedResponse struct {
	events  []llm.StreamEvent
	openErr error
	tailErr error
}

// mockModel replays scripted responses in order and records every request.
type mockModel struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []llm.Request
	fallback  *scriptedResponse
}

func (m *mockModel) CreateResponse(_ context.Context, req llm.Request) (llm.EventStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]transcript.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	m.requests = append(m.requests, req)

	var resp scriptedResponse
	switch {
	case len(m.responses) > 0:
		resp = m.responses[0]
		m.responses = m.responses[1:]
	case m.fallback != nil:
		resp = *m.fallback
	default:
		return nil, errors.New("mock model: no scripted response left")
	}
	if resp.openErr != nil {
		return nil, resp.openErr
	}
	return llm.NewSliceStream(resp.events, resp.tailErr), nil
}

func (m *mockModel) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func text(s string) scriptedResponse {
	return scriptedResponse{events: llm.TextEvents(s)}
}

// toolTurn is a response with optional leading text and one tool call per
// (id, name, input) triple.
func toolTurn(lead string, calls ...[3]string) scriptedResponse {
	var events []llm.StreamEvent
	idx := 0
	if lead != "" {
		events = append(events,
			llm.StreamEvent{Kind: llm.EventBlockStart, Index: 0, Block: llm.BlockText},
			llm.StreamEvent{Kind: llm.EventDelta, Index: 0, Delta: llm.DeltaText, Text: lead},
			llm.StreamEvent{Kind: llm.EventBlockStop, Index: 0},
		)
		idx = 1
	}
	for _, c := range calls {
		events = append(events, llm.ToolUseEvents(idx, c[0], c[1], c[2])...)
		idx++
	}
	events = append(events, llm.StreamEvent{Kind: llm.EventMessageStop, StopReason: "tool_use"})
	return scriptedResponse{events: events}
}

// mockSource is an in-memory tool provider.
type mockSource struct {
	mu     sync.Mutex
	tools  []llm.ToolDef
	fn     func(name string, input json.RawMessage) (*llm.ToolOutput, error)
	calls  []string
	closed bool
}

func (s *mockSource) ListTools(context.Context) ([]llm.ToolDef, error) { return s.tools, nil }

func (s *mockSource) CallTool(_ context.Context, name string, input json.RawMessage) (*llm.ToolOutput, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name+" "+string(input))
	s.mu.Unlock()
	return s.fn(name, input)
}

func (s *mockSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func calculator() *mockSource {
	return &mockSource{
		tools: []llm.ToolDef{{Name: "add", Description: "Add two numbers", InputSchema: map[string]interface{}{"type": "object"}}},
		fn: func(name string, input json.RawMessage) (*llm.ToolOutput, error) {
			var args struct{ A, B float64 }
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			content, _ := json.Marshal([]map[string]string{{"type": "text", "text": fmt.Sprintf("%g", args.A+args.B)}})
			return &llm.ToolOutput{Content: content}, nil
		},
	}
}

// mockEvents records event log writes.
type mockEvents struct {
	mu    sync.Mutex
	types []string
}

func (e *mockEvents) AppendEvent(_ context.Context, _ string, eventType string, _ interface{}) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
	return int64(len(e.types)), nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }
