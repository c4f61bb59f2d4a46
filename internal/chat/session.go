// Package chat drives conversations: one Session per chat, each turn looping
// model call → tool calls → model call until the model answers without tools.
package chat

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/exedev/mcpchat/internal/errors"
	"github.com/exedev/mcpchat/internal/llm"
	"github.com/exedev/mcpchat/internal/registry"
	"github.com/exedev/mcpchat/internal/stream"
	"github.com/exedev/mcpchat/internal/transcript"
)

const (
	DefaultMaxToolRounds = 25
	DefaultMaxRetries    = 3
)

// EventLog records turn milestones. *state.DB implements it.
type EventLog interface {
	AppendEvent(ctx context.Context, chatID, eventType string, data interface{}) (int64, error)
}

// Options tune a Session. Zero values select defaults.
type Options struct {
	MaxToolRounds int
	MaxRetries    int
	MaxTokens     int
	Stream        bool
	Logger        *log.Logger
	Events        EventLog
}

// Session owns the transcript of one chat and runs its turns one at a time.
type Session struct {
	mu       sync.Mutex
	model    llm.Client
	store    *transcript.Store
	registry *registry.Registry
	opts     Options
	logger   *log.Logger
}

// TurnResult describes a finished turn.
type TurnResult struct {
	// User is the appended user message.
	User transcript.Message
	// Final is the assistant's closing message; zero if the turn failed.
	Final transcript.Message
	// Appended holds every message the turn added, in order.
	Appended  []transcript.Message
	ToolCalls int
	Rounds    int
}

// Text returns the final assistant text.
func (r *TurnResult) Text() string {
	return r.Final.Content.PlainText()
}

func NewSession(model llm.Client, store *transcript.Store, reg *registry.Registry, opts Options) *Session {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if reg == nil {
		reg = registry.New(opts.Logger)
	}
	return &Session{
		model:    model,
		store:    store,
		registry: reg,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Store returns the session transcript.
func (s *Session) Store() *transcript.Store { return s.store }

// Registry returns the session's tools.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Turn runs one user turn to completion. The transcript is saved when the
// turn ends, whether it succeeded or not. On failure the returned result
// still lists the messages that were appended.
func (s *Session) Turn(ctx context.Context, input string, sink stream.Sink) (result *TurnResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sink == nil {
		sink = func(stream.Event) {}
	}
	chatID := s.store.ID()
	result = &TurnResult{}
	result.User = s.append(result, transcript.UserText(input))
	s.logEvent(ctx, "turn_start", map[string]string{"input": input})

	defer func() {
		if saveErr := s.store.Save(context.WithoutCancel(ctx)); saveErr != nil {
			s.logger.Printf("⚠ Failed to save chat %s: %v", chatID, saveErr)
			if err == nil {
				err = saveErr
			}
		}
		if err != nil {
			s.logEvent(ctx, "turn_error", map[string]string{"error": err.Error()})
		} else {
			s.logEvent(ctx, "turn_end", map[string]int{"rounds": result.Rounds, "tool_calls": result.ToolCalls})
		}
	}()

	for {
		blocks, calls, err := s.respond(ctx, sink)
		if err != nil {
			return result, err
		}
		result.Rounds++

		if len(calls) == 0 {
			result.Final = s.append(result, transcript.AssistantText(joinText(blocks)))
			return result, nil
		}

		s.append(result, transcript.Message{Role: transcript.RoleAssistant, Content: transcript.Blocks(blocks...)})

		if result.Rounds > s.opts.MaxToolRounds {
			// Answer every pending call so the transcript stays paired.
			results := make([]transcript.Block, len(calls))
			for i, c := range calls {
				results[i] = transcript.ToolResultBlock{ToolUseID: c.ID, Content: errorPayload(errors.ErrTooManyToolRounds), IsError: true}
			}
			s.append(result, transcript.Message{Role: transcript.RoleUser, Content: transcript.Blocks(results...)})
			s.logger.Printf("⚠ Stopping after %d tool rounds", s.opts.MaxToolRounds)
			return result, fmt.Errorf("%w (limit %d)", errors.ErrTooManyToolRounds, s.opts.MaxToolRounds)
		}

		results := make([]transcript.Block, len(calls))
		for i, c := range calls {
			results[i] = s.invoke(ctx, c, sink)
			result.ToolCalls++
		}
		s.append(result, transcript.Message{Role: transcript.RoleUser, Content: transcript.Blocks(results...)})
	}
}

func (s *Session) append(result *TurnResult, m transcript.Message) transcript.Message {
	stored := s.store.Append(m)
	result.Appended = append(result.Appended, stored)
	return stored
}

// respond performs one model call and assembles its response into content
// blocks plus the tool calls among them.
func (s *Session) respond(ctx context.Context, sink stream.Sink) ([]transcript.Block, []*llm.ToolCall, error) {
	settings := s.store.Settings()
	req := llm.Request{
		Model:     settings.Model,
		System:    settings.SystemPrompt,
		Messages:  s.store.Messages(),
		Tools:     s.registry.List(),
		Stream:    s.opts.Stream,
		MaxTokens: s.opts.MaxTokens,
	}

	events, err := llm.RetryLLMCall(ctx, s.opts.MaxRetries, s.logger, func() (llm.EventStream, error) {
		return s.model.CreateResponse(ctx, req)
	})
	if err != nil {
		return nil, nil, &errors.ModelCallError{Err: err}
	}
	defer events.Close()

	var blocks []transcript.Block
	var calls []*llm.ToolCall
	asm := stream.New(events, sink, s.logger)
	for u, err := range asm.Units() {
		if err != nil {
			return nil, nil, &errors.ModelCallError{Err: err}
		}
		switch u.Kind {
		case stream.UnitText:
			if u.Text != "" {
				blocks = append(blocks, transcript.TextBlock{Text: u.Text})
			}
		case stream.UnitToolCall:
			blocks = append(blocks, transcript.ToolUseBlock{ID: u.Call.ID, Name: u.Call.Name, Input: u.Call.Input})
			calls = append(calls, u.Call)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, &errors.ModelCallError{Err: err}
	}
	if !asm.Done() {
		s.logger.Printf("⚠ Model stream ended without message-stop")
	}
	return blocks, calls, nil
}

// invoke runs one tool call. Every failure is turned into an error result
// the model can read.
func (s *Session) invoke(ctx context.Context, call *llm.ToolCall, sink stream.Sink) transcript.ToolResultBlock {
	s.logger.Printf("🔧 Tool: %s %s", call.Name, truncate(string(call.Input), 200))
	s.logEvent(ctx, "tool_call", call)

	block := transcript.ToolResultBlock{ToolUseID: call.ID}
	out, err := s.registry.Call(ctx, call.Name, call.Input)
	if err != nil {
		s.logger.Printf("⚠ Tool error: %v", err)
		block.Content = errorPayload(err)
		block.IsError = true
	} else {
		block.Content = out.Content
		block.IsError = out.IsError
		s.logger.Printf("✓ Result: %s", truncate(string(out.Content), 200))
	}

	sink(stream.Event{Kind: stream.EventToolResult, Tool: call.Name, ID: call.ID, Content: block.Content, IsError: block.IsError})
	s.logEvent(ctx, "tool_result", map[string]interface{}{"id": call.ID, "tool": call.Name, "is_error": block.IsError})
	return block
}

func (s *Session) logEvent(ctx context.Context, eventType string, data interface{}) {
	if s.opts.Events == nil {
		return
	}
	if _, err := s.opts.Events.AppendEvent(context.WithoutCancel(ctx), s.store.ID(), eventType, data); err != nil {
		s.logger.Printf("⚠ Failed to record %s event: %v", eventType, err)
	}
}

func errorPayload(err error) json.RawMessage {
	msg := "Error: " + err.Error()
	var te *errors.ToolExecutionError
	if stderrors.As(err, &te) {
		msg = "Error: " + te.Err.Error()
	}
	raw, _ := json.Marshal(msg)
	return raw
}

func joinText(blocks []transcript.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		if tb, ok := b.(transcript.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
