package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/exedev/mcpchat/internal/stream"
)

// EventType represents the type of JSON output event.
type EventType string

const (
	// EventChatStart marks the beginning of a chat run.
	EventChatStart EventType = "chat_start"
	// EventTurn wraps one streamed turn event (text, tool_start, ...).
	EventTurn EventType = "turn_event"
	// EventTurnEnd is emitted when a turn finishes, with its final answer.
	EventTurnEnd EventType = "turn_end"
	// EventError is emitted when a turn fails.
	EventError EventType = "error"
)

// TurnSummary describes a finished turn.
type TurnSummary struct {
	Final     string        `json:"final"`
	Rounds    int           `json:"rounds"`
	ToolCalls int           `json:"tool_calls"`
	Messages  int           `json:"messages"`
	Duration  time.Duration `json:"duration_ms"`
}

// JSONEvent is the wrapper for all JSON output events.
type JSONEvent struct {
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	ChatID    string        `json:"chat_id,omitempty"`
	Event     *stream.Event `json:"event,omitempty"`
	Turn      *TurnSummary  `json:"turn,omitempty"`
	Error     string        `json:"error,omitempty"`
	Message   string        `json:"message,omitempty"`
	Data      interface{}   `json:"data,omitempty"`
}

// maxEventText caps the text and content of a single turn event.
const maxEventText = 10000

// JSONWriter writes one JSON event per line.
type JSONWriter struct {
	mu        sync.Mutex
	w         io.Writer
	chatID    string
	turnStart time.Time
	maxOutput int
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, chatID string) *JSONWriter {
	return &JSONWriter{
		w:         w,
		chatID:    chatID,
		turnStart: time.Now(),
		maxOutput: maxEventText,
	}
}

// writeEvent writes a single JSON event as a line.
func (jw *JSONWriter) writeEvent(event JSONEvent) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	event.Timestamp = time.Now()
	event.ChatID = jw.chatID

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(jw.w, string(data))
	return err
}

// WriteChatStart emits a chat start event.
func (jw *JSONWriter) WriteChatStart(model string, data map[string]interface{}) error {
	return jw.writeEvent(JSONEvent{
		Type:    EventChatStart,
		Message: model,
		Data:    data,
	})
}

// Sink returns a turn sink that emits every event. Text deltas over the size
// limit are truncated.
func (jw *JSONWriter) Sink() stream.Sink {
	jw.mu.Lock()
	jw.turnStart = time.Now()
	jw.mu.Unlock()

	return func(ev stream.Event) {
		if len(ev.Text) > jw.maxOutput {
			ev.Text = ev.Text[:jw.maxOutput] + "... [truncated]"
		}
		if len(ev.Content) > jw.maxOutput {
			truncated, _ := json.Marshal(string(ev.Content[:jw.maxOutput]) + "... [truncated]")
			ev.Content = truncated
		}
		jw.writeEvent(JSONEvent{Type: EventTurn, Event: &ev})
	}
}

// WriteTurnEnd emits the summary of a finished turn.
func (jw *JSONWriter) WriteTurnEnd(summary TurnSummary) error {
	jw.mu.Lock()
	summary.Duration = time.Since(jw.turnStart) / time.Millisecond
	jw.mu.Unlock()

	return jw.writeEvent(JSONEvent{
		Type: EventTurnEnd,
		Turn: &summary,
	})
}

// WriteError emits an error event.
func (jw *JSONWriter) WriteError(err error) error {
	return jw.writeEvent(JSONEvent{
		Type:  EventError,
		Error: err.Error(),
	})
}
